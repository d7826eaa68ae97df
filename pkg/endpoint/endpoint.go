package endpoint

import "time"

// Endpoint is one candidate ledger node. Name, URL, StreamingURL and Priority
// are fixed at construction; the health fields are owned by the Registry and
// only move under its lock. Callers receive copies.
type Endpoint struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	StreamingURL string    `json:"streamingUrl,omitempty"`
	Priority     int       `json:"priority"`
	FailureCount int       `json:"failureCount"`
	LastChecked  time.Time `json:"lastChecked,omitzero"`
	Healthy      bool      `json:"healthy"`
	Active       bool      `json:"active"`
}

// HasStreaming reports whether the endpoint exposes a push channel.
func (e Endpoint) HasStreaming() bool {
	return e.StreamingURL != ""
}
