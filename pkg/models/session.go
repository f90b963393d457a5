package models

import "time"

// SessionStatus represents the current state of a browser session
type SessionStatus string

const (
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusExpired   SessionStatus = "EXPIRED"
	StatusError     SessionStatus = "ERROR"
)

// BrowserInfo describes the browser backing a session
type BrowserInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Session represents one browser-automation resource tracked by the gateway
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	Timeout     int           `json:"timeout"` // seconds
	CurrentURL  string        `json:"currentUrl,omitempty"`
	LiveViewURL string        `json:"liveViewUrl,omitempty"`
	BrowserInfo BrowserInfo   `json:"browserInfo"`
	ConnectURL  string        `json:"-"`
	ContainerID string        `json:"-"`
}

// CreateSessionRequest is the (optional) payload for creating a session
type CreateSessionRequest struct {
	Timeout int `json:"timeout,omitempty"` // seconds, 0 means default
}

// NavigateRequest is the payload for driving a session to a URL
type NavigateRequest struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CloseSessionRequest is the payload for tearing a session down
type CloseSessionRequest struct {
	SessionID string `json:"sessionId"`
}
