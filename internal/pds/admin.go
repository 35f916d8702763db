package pds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

type RepoRef struct {
	DID  string `json:"did"`
	Head string `json:"head"`
}

// ListRepos enumerates repositories hosted on the PDS. Unauthenticated;
// a single page only, which is the admin email scan's enumeration step.
func (c *Client) ListRepos(ctx context.Context, limit int) ([]RepoRef, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Repos []RepoRef `json:"repos"`
	}
	if err := c.call(ctx, http.MethodGet, "com.atproto.sync.listRepos", callOptions{query: query}, &out); err != nil {
		return nil, err
	}
	return out.Repos, nil
}

type AccountInfo struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Email  string `json:"email"`
}

// AdminAccountInfo looks up one account by DID using the admin
// credential.
func (c *Client) AdminAccountInfo(ctx context.Context, did string) (*AccountInfo, error) {
	query := url.Values{}
	query.Set("did", did)
	var out AccountInfo
	if err := c.call(ctx, http.MethodGet, "com.atproto.admin.getAccountInfo", callOptions{query: query, admin: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInviteCode mints a single-use invite code using the admin
// credential.
func (c *Client) CreateInviteCode(ctx context.Context) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	body := map[string]int{"useCount": 1}
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.createInviteCode", callOptions{body: body, admin: true}, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

type CreateAccountInput struct {
	Email      string `json:"email"`
	Handle     string `json:"handle"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode,omitempty"`
}

// CreateAccount registers a new account. The raw upstream JSON body is
// returned so proxy callers can pass it through verbatim.
func (c *Client) CreateAccount(ctx context.Context, in CreateAccountInput) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.createAccount", callOptions{body: in}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
