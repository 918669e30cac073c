package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/cuedeck/internal/shared"
)

// Doer performs an authenticated request with an arbitrary method.
type Doer interface {
	Do(ctx context.Context, method, path string, body, result any) error
}

// APIService makes raw calls against the backend through the gateway, for endpoints that have no typed
// service.
type APIService struct {
	api Doer
}

func NewAPIService(api Doer) *APIService {
	return &APIService{api: api}
}

// APIResponse is the unwrapped payload of a raw call.
type APIResponse struct {
	Method string
	Path   string
	Body   json.RawMessage
}

// IsJSON reports whether the payload is a JSON document.
func (r *APIResponse) IsJSON() bool {
	return len(r.Body) > 0 && json.Valid(r.Body)
}

// Pretty returns the payload indented for display.
func (r *APIResponse) Pretty() string {
	if !r.IsJSON() {
		return string(r.Body)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Body, "", "  "); err != nil {
		return string(r.Body)
	}
	return buf.String()
}

// Call sends method to path. data, when non-empty, must be a JSON document and is sent verbatim.
func (a *APIService) Call(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", shared.ErrInvalidArgument, method)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body any
	if len(bytes.TrimSpace(data)) > 0 {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: request body is not valid JSON", shared.ErrInvalidInput)
		}
		body = json.RawMessage(data)
	}

	var raw json.RawMessage
	if err := a.api.Do(ctx, method, path, body, &raw); err != nil {
		return nil, err
	}
	return &APIResponse{Method: method, Path: path, Body: raw}, nil
}

// Get performs a GET request to path.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.Call(ctx, http.MethodGet, path, nil)
}

// Post sends data to path.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.Call(ctx, http.MethodPost, path, data)
}
