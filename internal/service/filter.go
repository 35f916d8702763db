package service

import (
	"encoding/json"
	"strings"

	"github.com/Kzoeps/maearth-test/internal/domain"
)

// FilterClaims keeps the items whose serialized form contains the
// query, case-insensitively. Pure and local: it only ever narrows the
// already-fetched page and never triggers a fetch. An empty or
// whitespace-only query returns the input unchanged.
func FilterClaims(items []domain.ListedClaim, query string) []domain.ListedClaim {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}
	out := make([]domain.ListedClaim, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(raw)), q) {
			out = append(out, item)
		}
	}
	return out
}
