// Package media turns stored media references into absolute URLs.
package media

import (
	"context"
	"strings"
)

// Resolver produces an absolute URL for a profile picture or media reference.
type Resolver interface {
	URL(ctx context.Context, ref string) (string, error)
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// BaseURL joins references onto a public base URL.
type BaseURL struct {
	base string
}

// NewBaseURL creates a resolver rooted at base, e.g. https://cdn.example.com/media.
func NewBaseURL(base string) *BaseURL {
	return &BaseURL{base: strings.TrimRight(base, "/")}
}

// URL returns ref unchanged when it is already absolute.
func (r *BaseURL) URL(ctx context.Context, ref string) (string, error) {
	if ref == "" || isAbsolute(ref) {
		return ref, nil
	}
	return r.base + "/" + strings.TrimLeft(ref, "/"), nil
}
