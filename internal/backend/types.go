package backend

// Wire types shared by the client and the dev backend.

// Tenant is the tenant record as returned by the backend.
type Tenant struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Image       string `json:"image,omitempty"`
}

// SessionResponse is the body of POST /tenant/{slug}/session.
type SessionResponse struct {
	SessionID string  `json:"session_id"`
	Tenant    *Tenant `json:"restaurant"`
}

// ChatRequest is the body of POST /tenant/{slug}/chat.
type ChatRequest struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the body returned by POST /tenant/{slug}/chat.
type ChatResponse struct {
	Response   string `json:"response"`
	SessionID  string `json:"session_id,omitempty"`
	TokenCount *int   `json:"token_count,omitempty"`
}

// UploadResponse is the body of POST /tenant/{slug}/upload-payment-proof.
type UploadResponse struct {
	ImageURL string `json:"image_url"`
}

// MessageRecord is one entry of GET /tenant/{slug}/session/{id}/messages.
type MessageRecord struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
	TokenCount *int   `json:"token_count,omitempty"`
}

// ErrorResponse is the error envelope the backend uses for non-2xx replies.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
