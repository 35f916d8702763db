package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/Kzoeps/maearth-test/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type ResolutionKind string

const (
	// ResolutionDirect carries a login target usable as-is (handle,
	// DID, or service URL).
	ResolutionDirect ResolutionKind = "direct"

	// ResolutionUnregistered means the email has no account; the
	// caller routes to sign-up with the email prefilled.
	ResolutionUnregistered ResolutionKind = "unregistered"
)

type Resolution struct {
	Kind   ResolutionKind
	Target string
	Email  string
}

// AccountFinder is the lookup the resolver consults for emails.
type AccountFinder interface {
	FindByEmail(ctx context.Context, email string) (*domain.AccountMatch, error)
}

// AccountResolver decides the canonical login target for whatever the
// user typed into the identifier box.
type AccountResolver struct {
	lookup AccountFinder
}

func NewAccountResolver(lookup AccountFinder) *AccountResolver {
	return &AccountResolver{lookup: lookup}
}

// Resolve maps an identifier to a login target. Non-email identifiers
// pass through unchanged with no network call; emails are resolved via
// the account lookup.
func (r *AccountResolver) Resolve(ctx context.Context, identifier string) (Resolution, error) {
	id := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	if !emailPattern.MatchString(id) {
		return Resolution{Kind: ResolutionDirect, Target: id}, nil
	}

	email := strings.ToLower(id)
	match, err := r.lookup.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return Resolution{Kind: ResolutionUnregistered, Email: email}, nil
	}
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Kind: ResolutionDirect, Target: match.Handle}, nil
}
