package models

import "encoding/json"

// OSInfo is the optional operating system block sent by clients.
type OSInfo struct {
	OSName        string `json:"os_name,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
}

// ClientEvent is the JSON payload posted by workstation clients.
type ClientEvent struct {
	Username     string          `json:"username" validate:"required"`
	Action       string          `json:"action" validate:"required,action"`
	Timestamp    string          `json:"timestamp" validate:"required,client_timestamp"`
	Hostname     string          `json:"hostname,omitempty"`
	OSInfo       *OSInfo         `json:"os_info,omitempty"`
	HardwareInfo json.RawMessage `json:"hardware_info,omitempty"`
}

// SuccessResponse acknowledges a stored event.
type SuccessResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	EventID   int64  `json:"event_id"`
	SessionID string `json:"session_uuid"`
	Action    string `json:"action"`
	Username  string `json:"username"`
}

// ErrorResponse is returned for every rejected request.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
