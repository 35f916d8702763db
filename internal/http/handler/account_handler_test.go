package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/service"
)

// fakePDS is a minimal in-process PDS covering the XRPC endpoints the
// proxy touches.
type fakePDS struct {
	t              *testing.T
	accounts       map[string]map[string]string // did -> info
	inviteMints    int
	createdInvites []string
	createFails    bool
}

func newFakePDS(t *testing.T) *fakePDS {
	return &fakePDS{
		t: t,
		accounts: map[string]map[string]string{
			"did:plc:alice": {"handle": "alice.hypercerts.climateai.org", "email": "alice@example.com"},
			"did:plc:bob":   {"handle": "bob.hypercerts.climateai.org", "email": "bob@example.com"},
		},
	}
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/xrpc/") {
	case "com.atproto.sync.listRepos":
		repos := []map[string]string{}
		for did := range f.accounts {
			repos = append(repos, map[string]string{"did": did})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"repos": repos})
	case "com.atproto.admin.getAccountInfo":
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		did := r.URL.Query().Get("did")
		info, ok := f.accounts[did]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "RepoNotFound"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"did": did, "handle": info["handle"], "email": info["email"],
		})
	case "com.atproto.server.createInviteCode":
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.inviteMints++
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invite-abc-123"})
	case "com.atproto.server.createAccount":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if code, _ := body["inviteCode"].(string); code != "" {
			f.createdInvites = append(f.createdInvites, code)
		}
		if f.createFails {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "HandleNotAvailable", "message": "handle already taken",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"did": "did:plc:new", "handle": body["handle"], "accessJwt": "a", "refreshJwt": "r",
		})
	default:
		f.t.Errorf("unexpected XRPC call: %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newAccountHandler(t *testing.T, fake *fakePDS, withAdmin, requireInvite bool) *AccountHandler {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	opts := pds.Options{BaseURL: srv.URL}
	if withAdmin {
		opts.AdminUsername = "admin"
		opts.AdminPassword = "hunter2"
	}
	client, err := pds.NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	lookup := service.NewAccountLookup(client, nil, service.AccountLookupConfig{}, nil)
	return NewAccountHandler(client, lookup, "hypercerts.climateai.org", requireInvite)
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var env envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestSearchAccountsRequiresEmail(t *testing.T) {
	h := newAccountHandler(t, newFakePDS(t), true, false)
	rec := httptest.NewRecorder()
	h.SearchAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/searchAccounts", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error.Code != "BAD_REQUEST" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSearchAccountsFindsMatch(t *testing.T) {
	h := newAccountHandler(t, newFakePDS(t), true, false)
	rec := httptest.NewRecorder()
	h.SearchAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/searchAccounts?email=Alice@Example.com", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var match struct {
		Handle string `json:"handle"`
		DID    string `json:"did"`
	}
	if err := json.Unmarshal(env.Data, &match); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if match.Handle != "alice.hypercerts.climateai.org" || match.DID != "did:plc:alice" {
		t.Fatalf("unexpected match: %+v", match)
	}
}

func TestSearchAccountsNotFound(t *testing.T) {
	h := newAccountHandler(t, newFakePDS(t), true, false)
	rec := httptest.NewRecorder()
	h.SearchAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/searchAccounts?email=nobody@example.com", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchAccountsWithoutAdminCredential(t *testing.T) {
	h := newAccountHandler(t, newFakePDS(t), false, false)
	rec := httptest.NewRecorder()
	h.SearchAccounts(rec, httptest.NewRequest(http.MethodGet, "/api/searchAccounts?email=alice@example.com", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateAccountValidatesFields(t *testing.T) {
	h := newAccountHandler(t, newFakePDS(t), true, false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/createAccount", strings.NewReader(`{"email":"x@y.co"}`))
	h.CreateAccount(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var details struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(env.Error.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if len(details.Required) != 2 {
		t.Fatalf("required = %v, want handle and password", details.Required)
	}
}

func TestCreateAccountMintsInviteWhenRequired(t *testing.T) {
	fake := newFakePDS(t)
	h := newAccountHandler(t, fake, true, true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/createAccount",
		strings.NewReader(`{"email":"new@example.com","handle":"newuser","password":"secret-pw"}`))
	h.CreateAccount(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if fake.inviteMints != 1 {
		t.Fatalf("invite mints = %d, want 1", fake.inviteMints)
	}
	if len(fake.createdInvites) != 1 || fake.createdInvites[0] != "invite-abc-123" {
		t.Fatalf("invite not forwarded: %v", fake.createdInvites)
	}
	env := decodeEnvelope(t, rec)
	var created struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if created.DID != "did:plc:new" {
		t.Fatalf("unexpected created account: %+v", created)
	}
	if created.Handle != "newuser.hypercerts.climateai.org" {
		t.Fatalf("handle suffix not applied: %q", created.Handle)
	}
}

func TestCreateAccountSkipsInviteWhenDisabled(t *testing.T) {
	fake := newFakePDS(t)
	h := newAccountHandler(t, fake, true, false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/createAccount",
		strings.NewReader(`{"email":"new@example.com","handle":"newuser","password":"secret-pw"}`))
	h.CreateAccount(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fake.inviteMints != 0 {
		t.Fatalf("invite minted when not required: %d", fake.inviteMints)
	}
}

func TestCreateAccountRelaysUpstreamError(t *testing.T) {
	fake := newFakePDS(t)
	fake.createFails = true
	h := newAccountHandler(t, fake, true, false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/createAccount",
		strings.NewReader(`{"email":"new@example.com","handle":"taken","password":"secret-pw"}`))
	h.CreateAccount(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upstream status not relayed: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error.Code != "UPSTREAM_ERROR" {
		t.Fatalf("error code = %q", env.Error.Code)
	}
	if !strings.Contains(string(env.Error.Details), "handle already taken") {
		t.Fatalf("upstream detail lost: %s", env.Error.Details)
	}
}
