package domain

import "time"

// Session is the persisted credential snapshot for the one active
// identity. The auth dispatcher is its only writer; everything else
// reads clones.
type Session struct {
	DID        string    `json:"did"`
	Handle     string    `json:"handle,omitempty"`
	AccessJWT  string    `json:"access_jwt"`
	RefreshJWT string    `json:"refresh_jwt"`
	// State correlates a completed OAuth redirect with the request
	// that initiated it. Transient; empty outside that window.
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
