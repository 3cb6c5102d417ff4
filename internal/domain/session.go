package domain

import "errors"

// Mode is the session orchestrator state
type Mode int

const (
	ModeIdle Mode = iota
	ModeSelectingEntity
	ModeConnectingLive
	ModeLive
	ModeFallback
	ModeHistorical
	ModeError
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSelectingEntity:
		return "selecting_entity"
	case ModeConnectingLive:
		return "connecting_live"
	case ModeLive:
		return "live"
	case ModeFallback:
		return "fallback"
	case ModeHistorical:
		return "historical"
	case ModeError:
		return "error"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ConnectionStatus is the push connection state
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Severity of a user-facing notice
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDemo    Severity = "demo"
)

// Notice is a message queued for the operator
type Notice struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

var (
	ErrNoEntitySelected = errors.New("no entity selected")
	ErrInvalidConfig    = errors.New("invalid session configuration")
)
