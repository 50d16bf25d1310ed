package notify

import (
	"encoding/json"
	"time"

	"github.com/winlog-collector/winlog/internal/models"
)

// SessionMessage describes one stored lifecycle event.
type SessionMessage struct {
	EventID      int64           `json:"event_id"`
	SessionID    string          `json:"session_uuid"`
	Action       models.Action   `json:"action"`
	Username     string          `json:"username"`
	Hostname     string          `json:"hostname"`
	SourceIP     string          `json:"source_ip,omitempty"`
	EventTime    time.Time       `json:"event_time"`
	ReceivedAt   time.Time       `json:"received_at"`
	Synthetic    bool            `json:"synthetic,omitempty"`
	HardwareInfo json.RawMessage `json:"hardware_info,omitempty"`
}

// NewSessionMessage builds a message from a stored event.
func NewSessionMessage(ev *models.Event) *SessionMessage {
	return &SessionMessage{
		EventID:      ev.ID,
		SessionID:    ev.SessionID,
		Action:       ev.Action,
		Username:     ev.Username,
		Hostname:     ev.Hostname,
		SourceIP:     ev.SourceIP,
		EventTime:    ev.EventTime,
		ReceivedAt:   ev.ServerTimestamp,
		Synthetic:    ev.Synthetic,
		HardwareInfo: ev.HardwareInfo,
	}
}
