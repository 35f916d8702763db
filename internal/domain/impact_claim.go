package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ImpactClaimCollection is the repository collection NSID under which
// impact claim records are stored.
const ImpactClaimCollection = "org.hypercert.impactClaims"

const maxImpactClaimIDLength = 255

// ImpactClaim is a user-authored hypercert attestation. Field names
// match the record schema stored on the PDS.
type ImpactClaim struct {
	ImpactClaimID   string   `json:"impact_claim_id"`
	WorkScope       string   `json:"work_scope"`
	URI             []string `json:"uri"`
	WorkStartTime   string   `json:"work_start_time"`
	WorkEndTime     string   `json:"work_end_time"`
	Description     string   `json:"description,omitempty"`
	ContributorsURI []string `json:"contributors_uri,omitempty"`
	RightsURI       string   `json:"rights_uri,omitempty"`
	LocationURI     string   `json:"location_uri,omitempty"`
}

// ListedClaim is an ImpactClaim read back from the repository together
// with its server-assigned AT URI.
type ListedClaim struct {
	ImpactClaim
	RecordURI string `json:"record_uri"`
}

// ValidationError reports the first schema constraint an ImpactClaim
// violates.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the record against its schema constraints before
// submission. Records are create-only, so this runs exactly once per
// record, client-side.
func (c *ImpactClaim) Validate() error {
	if strings.TrimSpace(c.ImpactClaimID) == "" {
		return &ValidationError{Field: "impact_claim_id", Reason: "must not be empty"}
	}
	if len(c.ImpactClaimID) > maxImpactClaimIDLength {
		return &ValidationError{Field: "impact_claim_id", Reason: fmt.Sprintf("must be at most %d characters", maxImpactClaimIDLength)}
	}
	if strings.TrimSpace(c.WorkScope) == "" {
		return &ValidationError{Field: "work_scope", Reason: "must not be empty"}
	}
	if len(c.URI) == 0 {
		return &ValidationError{Field: "uri", Reason: "must contain at least one URI"}
	}
	for i, raw := range c.URI {
		if !isValidURI(raw) {
			return &ValidationError{Field: "uri", Reason: fmt.Sprintf("entry %d is not a valid URI", i)}
		}
	}
	if _, err := time.Parse(time.RFC3339, c.WorkStartTime); err != nil {
		return &ValidationError{Field: "work_start_time", Reason: "must be a valid ISO-8601 date-time"}
	}
	if _, err := time.Parse(time.RFC3339, c.WorkEndTime); err != nil {
		return &ValidationError{Field: "work_end_time", Reason: "must be a valid ISO-8601 date-time"}
	}
	for i, raw := range c.ContributorsURI {
		if strings.HasPrefix(raw, "did:") {
			continue
		}
		if !isValidURI(raw) {
			return &ValidationError{Field: "contributors_uri", Reason: fmt.Sprintf("entry %d is neither a URI nor a DID", i)}
		}
	}
	return nil
}

func isValidURI(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != ""
}
