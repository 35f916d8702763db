package pds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

type PutRecordInput struct {
	Repo       string
	Collection string
	RKey       string
	Record     any
}

type PutRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// PutRecord writes a record under a fresh rkey. Schema validation is
// disabled upstream; callers validate before submitting.
func (c *Client) PutRecord(ctx context.Context, accessJWT string, in PutRecordInput) (*PutRecordOutput, error) {
	body := map[string]any{
		"repo":       in.Repo,
		"collection": in.Collection,
		"rkey":       in.RKey,
		"record":     in.Record,
		"validate":   false,
	}
	var out PutRecordOutput
	if err := c.call(ctx, http.MethodPost, "com.atproto.repo.putRecord", callOptions{body: body, bearer: accessJWT}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ListRecordsInput struct {
	Repo       string
	Collection string
	Limit      int
	Cursor     string
	Reverse    bool
}

type RecordEnvelope struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type ListRecordsOutput struct {
	Cursor  string           `json:"cursor"`
	Records []RecordEnvelope `json:"records"`
}

// ListRecords fetches one page of a collection. An empty output cursor
// means there are no further pages.
func (c *Client) ListRecords(ctx context.Context, accessJWT string, in ListRecordsInput) (*ListRecordsOutput, error) {
	query := url.Values{}
	query.Set("repo", in.Repo)
	query.Set("collection", in.Collection)
	if in.Limit > 0 {
		query.Set("limit", strconv.Itoa(in.Limit))
	}
	if in.Cursor != "" {
		query.Set("cursor", in.Cursor)
	}
	query.Set("reverse", strconv.FormatBool(in.Reverse))

	var out ListRecordsOutput
	if err := c.call(ctx, http.MethodGet, "com.atproto.repo.listRecords", callOptions{query: query, bearer: accessJWT}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
