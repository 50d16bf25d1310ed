package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Action is the one-letter wire code of a workstation lifecycle event.
type Action string

const (
	ActionConnect    Action = "C"
	ActionDisconnect Action = "D"
	ActionHardware   Action = "M"
)

// Actions lists every action code the collector understands.
var Actions = []Action{ActionConnect, ActionDisconnect, ActionHardware}

// ParseAction converts a wire code into an Action.
func ParseAction(code string) (Action, error) {
	switch Action(code) {
	case ActionConnect, ActionDisconnect, ActionHardware:
		return Action(code), nil
	default:
		return "", fmt.Errorf("unknown action code %q", code)
	}
}

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// Event is one stored fact of the append-only log. It is never mutated once inserted.
type Event struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	Action          Action          `json:"action"`
	ClientTimestamp string          `json:"timestamp"`  // Raw client-reported time
	EventTime       time.Time       `json:"event_time"` // Parsed ClientTimestamp
	Hostname        string          `json:"hostname"`   // Empty string is the "no host" bucket
	SourceIP        string          `json:"source_ip"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	OSName          string          `json:"os_name,omitempty"`
	OSVersion       string          `json:"os_version,omitempty"`
	KernelVersion   string          `json:"kernel_version,omitempty"`
	HardwareInfo    json.RawMessage `json:"hardware_info,omitempty"`
	SessionID       string          `json:"session_uuid"`
	Synthetic       bool            `json:"synthetic,omitempty"` // Fabricated auto-close
}

// PairKey identifies the (username, hostname) pair sessions are correlated on.
// The username length prefix keeps pairs distinct even when either field
// contains "@".
func (e *Event) PairKey() string {
	return PairKey(e.Username, e.Hostname)
}

// PairKey builds the lock key for a user on a host.
func PairKey(username, hostname string) string {
	return strconv.Itoa(len(username)) + ":" + username + "@" + hostname
}

// SessionKey is the readable user@host prefix of session identifiers. It is
// not unique per pair and must not be used as a lookup key.
func SessionKey(username, hostname string) string {
	return username + "@" + hostname
}

// OpenSession is a connect event with no disconnect sharing its session id.
type OpenSession struct {
	SessionID string    `json:"session_uuid"`
	EventTime time.Time `json:"timestamp"`
}

// CurrentSession is one row of the open sessions listing.
type CurrentSession struct {
	Username    string    `json:"username" yaml:"username"`
	Hostname    string    `json:"hostname" yaml:"hostname"`
	ConnectedAt time.Time `json:"connected_at" yaml:"connected_at"`
	SessionID   string    `json:"session_uuid" yaml:"session_uuid"`
	SourceIP    string    `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
	OSName      string    `json:"os_name,omitempty" yaml:"os_name,omitempty"`
	OSVersion   string    `json:"os_version,omitempty" yaml:"os_version,omitempty"`
}
