package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/cuedeck/internal/shared"
)

// Requester performs authenticated JSON requests. Implemented by [gateway.Gateway].
type Requester interface {
	Get(ctx context.Context, path string, result any) error
	Post(ctx context.Context, path string, body, result any) error
	Put(ctx context.Context, path string, body, result any) error
	Delete(ctx context.Context, path string, result any) error
}

// productionPath builds /productions/{id}/{segments...} with every dynamic part escaped.
func productionPath(productionID string, segments ...string) string {
	var b strings.Builder
	b.WriteString("/productions/")
	b.WriteString(url.PathEscape(productionID))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String()
}

func escape(id string) string {
	return url.PathEscape(id)
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", shared.ErrMissingArgument, kind)
	}
	return nil
}
