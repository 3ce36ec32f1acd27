package oss

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// AliyunConfig holds the object storage credentials and addressing.
type AliyunConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string

	// PublicBaseURL overrides the derived bucket URL, for CDN domains.
	PublicBaseURL string
}

// AliyunUploader stores audio on Alibaba Cloud OSS.
type AliyunUploader struct {
	bucket  *alioss.Bucket
	name    string
	baseURL string
}

// NewAliyunUploader validates the config and opens the bucket handle.
func NewAliyunUploader(cfg AliyunConfig) (*AliyunUploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oss endpoint and bucket are required")
	}
	client, err := alioss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open oss bucket %s: %w", cfg.Bucket, err)
	}
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.%s", cfg.Bucket, stripScheme(cfg.Endpoint))
	}
	return &AliyunUploader{bucket: bucket, name: cfg.Bucket, baseURL: baseURL}, nil
}

// UploadAudio stores the MP3 bytes under the canonical key.
func (u *AliyunUploader) UploadAudio(ctx context.Context, data []byte, audioBID string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := AudioObjectKey(audioBID)
	err := u.bucket.PutObject(key, bytes.NewReader(data), alioss.ContentType("audio/mpeg"))
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return &Object{
		URL:    PublicURL(u.baseURL, key),
		Bucket: u.name,
		Key:    key,
	}, nil
}

func stripScheme(endpoint string) string {
	s := strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(s, "http://")
}
