package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/pds"
)

type stubRecordAPI struct {
	putInputs  []pds.PutRecordInput
	putErr     error
	listOutput *pds.ListRecordsOutput
	listInput  pds.ListRecordsInput
	listErr    error
}

func (s *stubRecordAPI) PutRecord(_ context.Context, _ string, in pds.PutRecordInput) (*pds.PutRecordOutput, error) {
	s.putInputs = append(s.putInputs, in)
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &pds.PutRecordOutput{URI: "at://" + in.Repo + "/" + in.Collection + "/" + in.RKey, CID: "bafy"}, nil
}

func (s *stubRecordAPI) ListRecords(_ context.Context, _ string, in pds.ListRecordsInput) (*pds.ListRecordsOutput, error) {
	s.listInput = in
	return s.listOutput, s.listErr
}

func claimSession() *domain.Session {
	return &domain.Session{DID: "did:plc:abc", AccessJWT: "tok"}
}

func validServiceClaim() domain.ImpactClaim {
	return domain.ImpactClaim{
		ImpactClaimID: "claim-001",
		WorkScope:     "reforestation",
		URI:           []string{"https://example.org/project"},
		WorkStartTime: "2024-01-01T00:00:00Z",
		WorkEndTime:   "2024-06-30T00:00:00Z",
	}
}

func TestCreateClaimWritesToOwnRepo(t *testing.T) {
	api := &stubRecordAPI{}
	svc := NewImpactClaims(api, nil)

	uri, err := svc.Create(context.Background(), claimSession(), validServiceClaim())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if uri == "" {
		t.Fatal("empty record URI")
	}
	if len(api.putInputs) != 1 {
		t.Fatalf("PutRecord called %d times", len(api.putInputs))
	}
	in := api.putInputs[0]
	if in.Repo != "did:plc:abc" || in.Collection != domain.ImpactClaimCollection {
		t.Fatalf("wrong target: %+v", in)
	}
	rec, ok := in.Record.(claimRecord)
	if !ok {
		t.Fatalf("unexpected record type %T", in.Record)
	}
	if rec.Type != domain.ImpactClaimCollection {
		t.Fatalf("wrong $type: %q", rec.Type)
	}
}

func TestCreateClaimUsesDistinctKeys(t *testing.T) {
	api := &stubRecordAPI{}
	svc := NewImpactClaims(api, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, claimSession(), validServiceClaim()); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := svc.Create(ctx, claimSession(), validServiceClaim()); err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if api.putInputs[0].RKey == api.putInputs[1].RKey {
		t.Fatalf("duplicate rkey %q: resubmission must create a new record", api.putInputs[0].RKey)
	}
}

func TestCreateClaimValidatesBeforeWriting(t *testing.T) {
	api := &stubRecordAPI{}
	svc := NewImpactClaims(api, nil)
	claim := validServiceClaim()
	claim.WorkScope = ""

	_, err := svc.Create(context.Background(), claimSession(), claim)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(api.putInputs) != 0 {
		t.Fatal("invalid claim reached the PDS")
	}
}

func TestCreateClaimRequiresSession(t *testing.T) {
	svc := NewImpactClaims(&stubRecordAPI{}, nil)

	_, err := svc.Create(context.Background(), nil, validServiceClaim())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestListClaimsFlattensRecords(t *testing.T) {
	value, _ := json.Marshal(map[string]any{
		"$type":           domain.ImpactClaimCollection,
		"impact_claim_id": "claim-001",
		"work_scope":      "reforestation",
	})
	api := &stubRecordAPI{listOutput: &pds.ListRecordsOutput{
		Cursor: "next-cursor",
		Records: []pds.RecordEnvelope{
			{URI: "at://did:plc:abc/c/r1", CID: "bafy1", Value: value},
			{URI: "at://did:plc:abc/c/r2", CID: "bafy2", Value: []byte(`"not an object"`)},
		},
	}}
	svc := NewImpactClaims(api, nil)

	page, err := svc.List(context.Background(), claimSession(), ListOptions{Limit: 20})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("malformed record not skipped: %+v", page.Items)
	}
	item := page.Items[0]
	if item.ImpactClaimID != "claim-001" || item.RecordURI != "at://did:plc:abc/c/r1" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if page.Cursor != "next-cursor" {
		t.Fatalf("cursor lost: %q", page.Cursor)
	}
}

func TestListClaimsDefaultsToNewestFirst(t *testing.T) {
	api := &stubRecordAPI{listOutput: &pds.ListRecordsOutput{}}
	svc := NewImpactClaims(api, nil)

	if _, err := svc.List(context.Background(), claimSession(), ListOptions{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if !api.listInput.Reverse {
		t.Fatal("default order should be newest first (reverse)")
	}
	if api.listInput.Limit != DefaultPageLimit {
		t.Fatalf("limit = %d, want %d", api.listInput.Limit, DefaultPageLimit)
	}

	if _, err := svc.List(context.Background(), claimSession(), ListOptions{OldestFirst: true, Limit: 5000}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if api.listInput.Reverse {
		t.Fatal("OldestFirst should clear reverse")
	}
	if api.listInput.Limit != MaxPageLimit {
		t.Fatalf("oversized limit not clamped: %d", api.listInput.Limit)
	}
}
