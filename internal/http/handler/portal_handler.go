package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Kzoeps/maearth-test/internal/domain"
	"github.com/Kzoeps/maearth-test/internal/http/response"
	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/service"
)

type PortalHandler struct {
	auth      *service.Auth
	claims    *service.ImpactClaims
	paginator *service.Paginator
}

func NewPortalHandler(auth *service.Auth, claims *service.ImpactClaims, paginator *service.Paginator) *PortalHandler {
	return &PortalHandler{auth: auth, claims: claims, paginator: paginator}
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	State      string `json:"state"`
}

// SignIn resolves an identifier and reports where the caller should go
// next: the authorization server for known accounts, signup otherwise.
func (h *PortalHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "identifier is required", nil)
		return
	}

	outcome, err := h.auth.SignIn(r.Context(), req.Identifier, service.SignInOptions{State: req.State})
	if err != nil {
		writePortalError(w, r, err, "sign-in failed")
		return
	}
	switch outcome.Kind {
	case service.SignInSignup:
		response.JSON(w, r, http.StatusOK, map[string]any{
			"action": "signup",
			"email":  outcome.Email,
		})
	default:
		response.JSON(w, r, http.StatusOK, map[string]any{
			"action":        "redirect",
			"authorize_url": outcome.AuthorizeURL,
			"state":         outcome.State,
		})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *PortalHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}

	sess, err := h.auth.SignInDirect(r.Context(), req.Email, req.Password)
	if err != nil {
		writePortalError(w, r, err, "login failed")
		return
	}
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}

func (h *PortalHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.SignOut(r.Context())
	response.JSON(w, r, http.StatusOK, map[string]any{"signed_out": true})
}

func (h *PortalHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess := h.auth.Session()
	if sess == nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "no active session", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}

func (h *PortalHandler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var claim domain.ImpactClaim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}

	uri, err := h.claims.Create(r.Context(), h.auth.Session(), claim)
	if err != nil {
		writePortalError(w, r, err, "failed to create impact claim")
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"record_uri": uri})
}

func (h *PortalHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	if !h.paginator.Loaded() {
		if err := h.paginator.First(r.Context()); err != nil {
			writePortalError(w, r, err, "failed to load impact claims")
			return
		}
	}
	h.writePage(w, r)
}

func (h *PortalHandler) NextPage(w http.ResponseWriter, r *http.Request) {
	if err := h.paginator.Next(r.Context()); err != nil {
		writePortalError(w, r, err, "failed to load next page")
		return
	}
	h.writePage(w, r)
}

func (h *PortalHandler) BackPage(w http.ResponseWriter, r *http.Request) {
	if err := h.paginator.Back(r.Context()); err != nil {
		writePortalError(w, r, err, "failed to load previous page")
		return
	}
	h.writePage(w, r)
}

func (h *PortalHandler) writePage(w http.ResponseWriter, r *http.Request) {
	items := h.paginator.Items()
	if q := r.URL.Query().Get("q"); q != "" {
		items = service.FilterClaims(items, q)
	}
	if items == nil {
		items = []domain.ListedClaim{}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       items,
		"has_next":    h.paginator.HasNext(),
		"can_go_back": h.paginator.CanGoBack(),
	})
}

func writePortalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var validationErr *domain.ValidationError
	var pdsErr *pds.Error
	switch {
	case errors.Is(err, service.ErrNotReady):
		response.Error(w, r, http.StatusServiceUnavailable, "NOT_READY", "sign-in is not ready yet", nil)
	case errors.Is(err, service.ErrPasswordTooShort):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "password is too short", nil)
	case errors.Is(err, service.ErrNoSession):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "no active session", nil)
	case errors.Is(err, pds.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid identifier or password", nil)
	case errors.Is(err, pds.ErrSessionExpired):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session expired", nil)
	case errors.As(err, &validationErr):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION", "impact claim validation failed",
			map[string]any{"field": validationErr.Field, "reason": validationErr.Reason})
	case errors.As(err, &pdsErr):
		detail := pdsErr.Message
		if detail == "" {
			detail = pdsErr.Body
		}
		response.Upstream(w, r, pdsErr.StatusCode, message, detail)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", message, nil)
	}
}

func sessionView(sess *domain.Session) map[string]any {
	return map[string]any{
		"did":        sess.DID,
		"handle":     sess.Handle,
		"created_at": sess.CreatedAt,
	}
}

type ClientMetadataHandler struct {
	clientID    string
	redirectURI string
	scope       string
}

func NewClientMetadataHandler(clientID, redirectURI, scope string) *ClientMetadataHandler {
	return &ClientMetadataHandler{clientID: clientID, redirectURI: redirectURI, scope: scope}
}

// ServeHTTP publishes the OAuth client metadata document that the
// authorization server fetches to validate this client.
func (h *ClientMetadataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"client_id":                  h.clientID,
		"client_name":                "Hypercerts Impact Portal",
		"redirect_uris":              []string{h.redirectURI},
		"scope":                      h.scope,
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"application_type":           "web",
		"token_endpoint_auth_method": "none",
		"dpop_bound_access_tokens":   true,
	})
}
