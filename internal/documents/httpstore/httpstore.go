// Package httpstore implements documents.Store as a client of the document
// API served by reminders-api.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

var (
	errMissingBaseURL = errors.New("httpstore: base url is required")
	errMissingToken   = errors.New("httpstore: session token is required")
)

// APIError is a non-success response of the document API.
type APIError struct {
	Status int
	Reason string
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("document api: %d %s (%s)", e.Status, e.Reason, e.Code)
	}
	return fmt.Sprintf("document api: %d %s", e.Status, e.Reason)
}

// Config describes the client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Store talks to the document API on behalf of the token's user. The userID
// arguments of the documents.Store methods must match that user; the server
// scopes every request to the authenticated session.
type Store struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// New constructs a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpstore: invalid base url: %w", err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{baseURL: baseURL, token: cfg.Token, client: client, logger: logger}, nil
}

type listResponse struct {
	Documents []documents.WireDocument `json:"documents"`
}

type setRequest struct {
	Data             map[string]any `json:"data"`
	Merge            bool           `json:"merge,omitempty"`
	ServerTimestamps []string       `json:"server_timestamps,omitempty"`
}

type batchRequest struct {
	Writes []documents.WireWrite `json:"writes"`
}

func (s *Store) List(ctx context.Context, _ string, collection string, query documents.Query) ([]documents.Document, error) {
	params := url.Values{}
	if query.OrderBy != "" {
		params.Set("order_by", query.OrderBy)
	}
	if len(query.Exists) > 0 {
		params.Set("exists", strings.Join(query.Exists, ","))
	}
	if len(query.Missing) > 0 {
		params.Set("missing", strings.Join(query.Missing, ","))
	}
	var response listResponse
	if _, err := s.do(ctx, http.MethodGet, s.collectionPath(collection), params, nil, &response); err != nil {
		return nil, err
	}
	docs := make([]documents.Document, 0, len(response.Documents))
	for _, doc := range response.Documents {
		docs = append(docs, documents.FromWire(doc))
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, _ string, collection, docID string) (documents.Document, bool, error) {
	var response documents.WireDocument
	status, err := s.do(ctx, http.MethodGet, s.documentPath(collection, docID), nil, nil, &response)
	if status == http.StatusNotFound {
		return documents.Document{}, false, nil
	}
	if err != nil {
		return documents.Document{}, false, err
	}
	return documents.FromWire(response), true, nil
}

func (s *Store) Set(ctx context.Context, _ string, write documents.Write) (documents.Document, error) {
	if write.Delete {
		return documents.Document{ID: write.DocID}, s.Delete(ctx, "", write.Collection, write.DocID)
	}
	request := setRequest{Data: write.Data, Merge: write.Merge, ServerTimestamps: write.ServerTimestamps}
	var response documents.WireDocument
	if _, err := s.do(ctx, http.MethodPut, s.documentPath(write.Collection, write.DocID), nil, request, &response); err != nil {
		return documents.Document{}, err
	}
	return documents.FromWire(response), nil
}

func (s *Store) Delete(ctx context.Context, _ string, collection, docID string) error {
	_, err := s.do(ctx, http.MethodDelete, s.documentPath(collection, docID), nil, nil, nil)
	return err
}

func (s *Store) Commit(ctx context.Context, _ string, writes []documents.Write) error {
	if len(writes) == 0 {
		return nil
	}
	request := batchRequest{Writes: make([]documents.WireWrite, 0, len(writes))}
	for _, write := range writes {
		request.Writes = append(request.Writes, documents.WriteToWire(write))
	}
	_, err := s.do(ctx, http.MethodPost, "/v1/batch", nil, request, nil)
	return err
}

func (s *Store) collectionPath(collection string) string {
	return "/v1/collections/" + url.PathEscape(collection)
}

func (s *Store) documentPath(collection, docID string) string {
	return s.collectionPath(collection) + "/" + url.PathEscape(docID)
}

func (s *Store) do(ctx context.Context, method, path string, params url.Values, body any, out any) (int, error) {
	target := s.baseURL.String() + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := s.client.Do(request)
	if err != nil {
		s.logger.Debug("document api request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return 0, err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: response.StatusCode, Reason: http.StatusText(response.StatusCode)}
		var wireErr documents.WireError
		if decodeErr := json.NewDecoder(response.Body).Decode(&wireErr); decodeErr == nil {
			if wireErr.Error != "" {
				apiErr.Reason = wireErr.Error
			}
			apiErr.Code = wireErr.Code
		}
		return response.StatusCode, apiErr
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return response.StatusCode, nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return response.StatusCode, fmt.Errorf("httpstore: decode response: %w", err)
	}
	return response.StatusCode, nil
}

var _ documents.Store = (*Store)(nil)
