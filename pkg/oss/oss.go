// Package oss stores finalised audio objects and hands back their public
// location. The streaming path uploads one joined MP3 per visual part.
package oss

import (
	"context"
	"fmt"
	"strings"
)

// Object is the stored location of one uploaded audio file.
type Object struct {
	URL    string
	Bucket string
	Key    string
}

// Uploader stores one audio payload under the part's audio bid.
type Uploader interface {
	UploadAudio(ctx context.Context, data []byte, audioBID string) (*Object, error)
}

// AudioObjectKey is the canonical object key for a part's MP3.
func AudioObjectKey(audioBID string) string {
	return "tts-audio/" + audioBID + ".mp3"
}

// PublicURL joins a base URL (CDN or bucket endpoint) with an object key.
func PublicURL(base, key string) string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(base, "/"), key)
}
