package provider

import (
	"context"
	"strings"
)

// Provider defines the contract for storage destinations.
// Paths are relative and backend-agnostic; each implementation maps them to
// its own key space (root prefix, collection, directory).
type Provider interface {
	// Put durably stores data under path. Implementations must be safe for
	// concurrent use and must treat data as read-only.
	Put(ctx context.Context, path string, data []byte) error

	// Name identifies the destination in logs and errors (e.g. "s3:backups").
	Name() string
}

// NormalizeRoot strips trailing slashes from a configured root path.
// NormalizeRoot(NormalizeRoot(r)) == NormalizeRoot(r).
func NormalizeRoot(root string) string {
	return strings.TrimRight(strings.TrimSpace(root), "/")
}

// JoinPath maps path under a normalized root. An empty root adds no segment.
func JoinPath(root, path string) string {
	if root == "" {
		return path
	}
	return root + "/" + path
}
