package domain

// AccountMatch is the result of resolving an email address to the
// account that owns it.
type AccountMatch struct {
	Handle string `json:"handle"`
	DID    string `json:"did"`
}
