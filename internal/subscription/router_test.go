package subscription

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/feed"
)

type stubFeed struct {
	status domain.ConnectionStatus
	subs   []string
	unsubs []string
}

func (f *stubFeed) Status() domain.ConnectionStatus { return f.status }

func (f *stubFeed) Subscribe(topic string) error {
	f.subs = append(f.subs, topic)
	return nil
}

func (f *stubFeed) Unsubscribe(topic string) error {
	f.unsubs = append(f.unsubs, topic)
	return nil
}

func newRouter(status domain.ConnectionStatus) (*Router, *stubFeed) {
	f := &stubFeed{status: status}
	return NewRouter(f, slog.New(slog.NewTextHandler(io.Discard, nil))), f
}

func TestSubscribeRequiresConnected(t *testing.T) {
	for _, status := range []domain.ConnectionStatus{
		domain.StatusDisconnected,
		domain.StatusConnecting,
		domain.StatusError,
	} {
		r, f := newRouter(status)
		_, err := r.Subscribe("SUR009")
		assert.ErrorIs(t, err, ErrNotConnected, status.String())
		assert.Empty(t, f.subs)
	}
}

func TestSubscribeSwitchesEntity(t *testing.T) {
	r, f := newRouter(domain.StatusConnected)

	a, err := r.Subscribe("A")
	require.NoError(t, err)
	assert.Equal(t, "location.A", a.Topic)

	b, err := r.Subscribe("B")
	require.NoError(t, err)
	assert.Equal(t, "location.B", b.Topic)

	assert.Equal(t, []string{"location.A", "location.B"}, f.subs)
	assert.Equal(t, []string{"location.A"}, f.unsubs)
	assert.Equal(t, b, r.Active())

	// stale handle is ignored
	r.Unsubscribe(a)
	assert.Equal(t, []string{"location.A"}, f.unsubs)

	r.Unsubscribe(b)
	r.Unsubscribe(b)
	assert.Equal(t, []string{"location.A", "location.B"}, f.unsubs)
	assert.Nil(t, r.Active())
}

func TestDecode(t *testing.T) {
	r, _ := newRouter(domain.StatusConnected)
	_, err := r.Subscribe("SUR009")
	require.NoError(t, err)

	pos, ok := r.Decode(feed.Message{
		Topic: "location.SUR009",
		Body:  []byte(`{"latitude":17.4010007,"longitude":78.5643879,"timestamp":"2025-06-01T10:00:00.123Z","surveyorId":"SUR009"}`),
	})
	require.True(t, ok)
	assert.Equal(t, 17.4010007, pos.Lat)
	assert.Equal(t, 78.5643879, pos.Lng)
	assert.Equal(t, "SUR009", pos.EntityID)
	assert.Equal(t, domain.SourceLive, pos.Source)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 123_000_000, time.UTC), pos.Timestamp)
}

func TestDecodeDropsOtherTopics(t *testing.T) {
	r, _ := newRouter(domain.StatusConnected)
	body := []byte(`{"latitude":1,"longitude":2,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`)

	_, ok := r.Decode(feed.Message{Topic: "location.A", Body: body})
	assert.False(t, ok, "nothing subscribed")

	_, err := r.Subscribe("B")
	require.NoError(t, err)
	_, ok = r.Decode(feed.Message{Topic: "location.A", Body: body})
	assert.False(t, ok)
}

func TestDecodeDropsMalformed(t *testing.T) {
	r, _ := newRouter(domain.StatusConnected)
	_, err := r.Subscribe("A")
	require.NoError(t, err)

	cases := map[string]string{
		"not json":          `{"latitude":`,
		"missing latitude":  `{"longitude":2,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`,
		"missing longitude": `{"latitude":1,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`,
		"string latitude":   `{"latitude":"north","longitude":2,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`,
		"bool longitude":    `{"latitude":1,"longitude":true,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`,
		"bad timestamp":     `{"latitude":1,"longitude":2,"timestamp":"yesterday","surveyorId":"A"}`,
		"missing timestamp": `{"latitude":1,"longitude":2,"surveyorId":"A"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := r.Decode(feed.Message{Topic: "location.A", Body: []byte(body)})
			assert.False(t, ok)
		})
	}

	// the subscription survives bad input
	assert.NotNil(t, r.Active())
	_, ok := r.Decode(feed.Message{Topic: "location.A", Body: []byte(`{"latitude":1,"longitude":2,"timestamp":"2025-06-01T10:00:00Z","surveyorId":"A"}`)})
	assert.True(t, ok)
}
