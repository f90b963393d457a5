package models

// CreateSessionData is the body of the create-session envelope
type CreateSessionData struct {
	ID          string      `json:"id"`
	LiveViewURL string      `json:"live_view_url"`
	BrowserInfo BrowserInfo `json:"browser_info"`
}

// DataResponse wraps a successful create in its envelope
type DataResponse struct {
	Data any `json:"data"`
}

// StatusResponse reports the outcome of navigate/close operations
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ScreenshotResponse carries one captured frame
type ScreenshotResponse struct {
	Success  bool   `json:"success"`
	Image    string `json:"image"` // base64 PNG
	MimeType string `json:"mimeType"`
}

// ErrorResponse is the failure body for every endpoint
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
