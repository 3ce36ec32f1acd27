package oss

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioObjectKey(t *testing.T) {
	assert.Equal(t, "tts-audio/abc-123.mp3", AudioObjectKey("abc-123"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/tts-audio/a.mp3",
		PublicURL("https://cdn.example.com/", "tts-audio/a.mp3"))
	assert.Equal(t, "https://cdn.example.com/tts-audio/a.mp3",
		PublicURL("https://cdn.example.com", "tts-audio/a.mp3"))
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	up, err := NewLocalUploader(dir, "http://localhost:8080/media")
	require.NoError(t, err)

	obj, err := up.UploadAudio(context.Background(), []byte("mp3-bytes"), "part-0")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/tts-audio/part-0.mp3", obj.URL)
	assert.Equal(t, "local", obj.Bucket)
	assert.Equal(t, "tts-audio/part-0.mp3", obj.Key)

	data, err := os.ReadFile(filepath.Join(dir, "tts-audio", "part-0.mp3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), data)
}

func TestLocalUploaderCancelledContext(t *testing.T) {
	dir := t.TempDir()
	up, err := NewLocalUploader(dir, "http://localhost")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = up.UploadAudio(ctx, []byte("x"), "part-1")
	assert.ErrorIs(t, err, context.Canceled)
}
