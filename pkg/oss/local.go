package oss

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalUploader writes audio under a directory, for development without
// cloud credentials. URLs are built from the configured base (typically the
// process's own static file route).
type LocalUploader struct {
	root    string
	baseURL string
}

// NewLocalUploader ensures the audio directory exists.
func NewLocalUploader(root, baseURL string) (*LocalUploader, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "tts-audio"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &LocalUploader{root: root, baseURL: baseURL}, nil
}

// UploadAudio writes the MP3 bytes to disk.
func (u *LocalUploader) UploadAudio(ctx context.Context, data []byte, audioBID string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := AudioObjectKey(audioBID)
	path := filepath.Join(u.root, filepath.FromSlash(key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return &Object{
		URL:    PublicURL(u.baseURL, key),
		Bucket: "local",
		Key:    key,
	}, nil
}
