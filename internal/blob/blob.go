// Package blob stores uploaded file payloads under server-generated names.
package blob

import (
	"context"
	"io"
	"strings"

	"chaos-organizer/internal/models"
)

// Store saves immutable blobs and streams them back by storage name.
type Store interface {
	// Save writes data under a new unique name and returns that name.
	Save(ctx context.Context, data []byte, originalName, contentType string) (string, error)
	// Retrieve opens the blob stored under name. Unknown or invalid names
	// yield a *models.NotFoundError.
	Retrieve(ctx context.Context, name string) (*Object, error)
	// Delete removes the blob stored under name. Deleting a name that does
	// not exist is not an error.
	Delete(ctx context.Context, name string) error
}

// Object is an open blob. Size is -1 when the backend does not report it.
type Object struct {
	io.ReadCloser
	Size int64
}

// maxNameAttempts bounds retries when a generated name is already taken.
const maxNameAttempts = 5

// validName reports whether name can only refer to an entry directly inside
// the storage root.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00") && !strings.Contains(name, "..")
}

func notFound(name string) error {
	return &models.NotFoundError{Name: name}
}
