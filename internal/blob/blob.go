// Package blob stores uploaded image bytes.
package blob

import "context"

// Object locates a stored blob. URL is public; Ref is the handle used to
// delete or transform it later.
type Object struct {
	URL string
	Ref string
}

// Store uploads and deletes blobs.
type Store interface {
	Upload(ctx context.Context, data []byte, contentType string) (Object, error)
	Delete(ctx context.Context, ref string) error
}
