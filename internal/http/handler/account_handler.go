package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Kzoeps/maearth-test/internal/http/response"
	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/service"
)

type AccountHandler struct {
	pdsClient     *pds.Client
	lookup        *service.AccountLookup
	handleSuffix  string
	requireInvite bool
}

func NewAccountHandler(pdsClient *pds.Client, lookup *service.AccountLookup, handleSuffix string, requireInvite bool) *AccountHandler {
	return &AccountHandler{
		pdsClient:     pdsClient,
		lookup:        lookup,
		handleSuffix:  handleSuffix,
		requireInvite: requireInvite,
	}
}

func (h *AccountHandler) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "email query parameter is required", nil)
		return
	}

	match, err := h.lookup.FindByEmail(r.Context(), email)
	if err != nil {
		var lookupErr *service.LookupError
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no account registered for that email", nil)
		case errors.Is(err, pds.ErrAdminCredentialsMissing):
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "account search is not configured", nil)
		case errors.As(err, &lookupErr):
			response.Upstream(w, r, lookupErr.StatusCode, "account directory request failed", lookupErr.Body)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "account search failed", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, match)
}

type createAccountRequest struct {
	Email    string `json:"email"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Handle = strings.TrimSpace(strings.ToLower(req.Handle))
	var missing []string
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if req.Handle == "" {
		missing = append(missing, "handle")
	}
	if req.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing required fields",
			map[string]any{"required": missing})
		return
	}
	if h.handleSuffix != "" && !strings.Contains(req.Handle, ".") {
		req.Handle = req.Handle + "." + h.handleSuffix
	}

	in := pds.CreateAccountInput{
		Email:    req.Email,
		Handle:   req.Handle,
		Password: req.Password,
	}
	if h.requireInvite {
		code, err := h.pdsClient.CreateInviteCode(r.Context())
		if err != nil {
			writeAccountUpstreamError(w, r, err, "failed to mint invite code")
			return
		}
		in.InviteCode = code
	}

	raw, err := h.pdsClient.CreateAccount(r.Context(), in)
	if err != nil {
		writeAccountUpstreamError(w, r, err, "account creation failed")
		return
	}
	response.JSON(w, r, http.StatusOK, raw)
}

func writeAccountUpstreamError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var pdsErr *pds.Error
	if errors.As(err, &pdsErr) {
		detail := pdsErr.Message
		if detail == "" {
			detail = pdsErr.Body
		}
		response.Upstream(w, r, pdsErr.StatusCode, message, detail)
		return
	}
	if errors.Is(err, pds.ErrAdminCredentialsMissing) {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "account creation is not configured", nil)
		return
	}
	response.Error(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", message, nil)
}
