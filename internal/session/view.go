package session

import "fieldtrack/internal/domain"

// View is what the dashboard renders.
type View struct {
	SessionID    string                  `json:"sessionId"`
	Mode         domain.Mode             `json:"mode"`
	Connection   domain.ConnectionStatus `json:"connection"`
	EntityID     string                  `json:"entityId,omitempty"`
	EntityStatus string                  `json:"entityStatus,omitempty"`
	Trail        []domain.Position       `json:"trail"`
	Current      *domain.Position        `json:"current"`
	Route        *domain.RouteSegment    `json:"route"`
	Notices      []domain.Notice         `json:"notices,omitempty"`
}

// Simulated reports whether the positions on display are synthetic
func (v View) Simulated() bool {
	return v.Mode == domain.ModeFallback
}

func (s *Session) view() View {
	v := View{
		SessionID:    s.id,
		Mode:         s.mode,
		Connection:   s.feed.Status(),
		EntityID:     s.entityID,
		EntityStatus: s.entityStatus,
		Trail:        s.trail.Snapshot(),
	}
	if s.current != nil {
		p := *s.current
		v.Current = &p
	}
	if s.route != nil {
		r := *s.route
		r.Points = append([]domain.LatLng(nil), s.route.Points...)
		v.Route = &r
	}
	if len(s.notices) > 0 {
		v.Notices = append([]domain.Notice(nil), s.notices...)
	}
	return v
}
