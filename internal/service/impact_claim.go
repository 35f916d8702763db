package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/pds"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// RecordAPI is the slice of the PDS client the claims service uses.
type RecordAPI interface {
	PutRecord(ctx context.Context, accessJWT string, in pds.PutRecordInput) (*pds.PutRecordOutput, error)
	ListRecords(ctx context.Context, accessJWT string, in pds.ListRecordsInput) (*pds.ListRecordsOutput, error)
}

// ClaimPage is one page of listed claims. An empty Cursor means no
// further pages.
type ClaimPage struct {
	Items  []domain.ListedClaim
	Cursor string
}

type ListOptions struct {
	// Cursor is the server-issued pagination token; empty means the
	// first page.
	Cursor string
	Limit  int
	// OldestFirst flips the default newest-created-key-first order.
	OldestFirst bool
}

// ImpactClaims creates and lists impact claim records in the signed-in
// user's repository.
type ImpactClaims struct {
	api    RecordAPI
	logger *slog.Logger
}

func NewImpactClaims(api RecordAPI, logger *slog.Logger) *ImpactClaims {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpactClaims{api: api, logger: logger}
}

type claimRecord struct {
	Type string `json:"$type"`
	domain.ImpactClaim
}

// Create validates the claim and writes it under a fresh random rkey.
// Create-only: there is no update path, so a duplicate submission
// makes a second record rather than clobbering the first.
func (s *ImpactClaims) Create(ctx context.Context, session *domain.Session, claim domain.ImpactClaim) (string, error) {
	if session == nil {
		return "", ErrNoSession
	}
	if err := claim.Validate(); err != nil {
		return "", err
	}
	out, err := s.api.PutRecord(ctx, session.AccessJWT, pds.PutRecordInput{
		Repo:       session.DID,
		Collection: domain.ImpactClaimCollection,
		RKey:       uuid.NewString(),
		Record:     claimRecord{Type: domain.ImpactClaimCollection, ImpactClaim: claim},
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("created impact claim", "uri", out.URI, "claim_id", claim.ImpactClaimID)
	return out.URI, nil
}

// List fetches one page of claims, flattening each record value
// together with its AT URI. Records that fail to decode are skipped
// rather than failing the page.
func (s *ImpactClaims) List(ctx context.Context, session *domain.Session, opts ListOptions) (*ClaimPage, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	out, err := s.api.ListRecords(ctx, session.AccessJWT, pds.ListRecordsInput{
		Repo:       session.DID,
		Collection: domain.ImpactClaimCollection,
		Limit:      limit,
		Cursor:     opts.Cursor,
		Reverse:    !opts.OldestFirst,
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.ListedClaim, 0, len(out.Records))
	for _, rec := range out.Records {
		var claim domain.ImpactClaim
		if err := json.Unmarshal(rec.Value, &claim); err != nil {
			s.logger.Warn("skipping malformed record", "uri", rec.URI, "error", err)
			continue
		}
		items = append(items, domain.ListedClaim{ImpactClaim: claim, RecordURI: rec.URI})
	}
	return &ClaimPage{Items: items, Cursor: out.Cursor}, nil
}
