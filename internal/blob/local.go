package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// LocalStore writes blobs under Dir, sharded by upload month, and serves
// them from BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
	now     func() time.Time
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// extensionFor prefers the declared type and falls back to sniffing.
func extensionFor(data []byte, contentType string) string {
	if m := mimetype.Lookup(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}

func (s *LocalStore) Upload(ctx context.Context, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	ref := path.Join(s.now().UTC().Format("2006/01"), uuid.NewString()+extensionFor(data, contentType))
	full := filepath.Join(s.Dir, filepath.FromSlash(ref))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, fmt.Errorf("create blob dir: %w", err)
	}
	// Write to a temp name first so a crash never leaves a truncated blob
	// behind the final name.
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("commit blob: %w", err)
	}
	return Object{URL: s.BaseURL + "/" + ref, Ref: ref}, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	clean := path.Clean("/" + ref)
	if clean == "/" {
		return fmt.Errorf("invalid blob ref %q", ref)
	}
	err := os.Remove(filepath.Join(s.Dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
