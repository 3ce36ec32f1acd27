package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVolcengineEndpoint = "https://openspeech.bytedance.com/api/v1/tts"
	defaultVolcengineCluster  = "volcano_tts"
	defaultVolcengineVoice    = "BV001_streaming"

	// volcengineOKCode is the success code in the openspeech response body.
	volcengineOKCode = 3000
)

// VolcengineOption configures the Volcengine provider.
type VolcengineOption func(*VolcengineProvider)

// WithVolcengineEndpoint overrides the openspeech API endpoint.
func WithVolcengineEndpoint(endpoint string) VolcengineOption {
	return func(p *VolcengineProvider) {
		p.endpoint = endpoint
	}
}

// WithVolcengineCluster overrides the synthesis cluster.
func WithVolcengineCluster(cluster string) VolcengineOption {
	return func(p *VolcengineProvider) {
		p.cluster = cluster
	}
}

// WithVolcengineHTTPClient replaces the HTTP client, mainly for tests.
func WithVolcengineHTTPClient(client *http.Client) VolcengineOption {
	return func(p *VolcengineProvider) {
		p.client = client
	}
}

// VolcengineProvider synthesises speech through the Volcengine openspeech
// HTTP API. One request produces one complete MP3 payload.
type VolcengineProvider struct {
	appID    string
	token    string
	cluster  string
	endpoint string
	client   *http.Client
}

// NewVolcengineProvider builds a provider for the given app credentials.
func NewVolcengineProvider(appID, accessToken string, opts ...VolcengineOption) (*VolcengineProvider, error) {
	if appID == "" {
		return nil, fmt.Errorf("volcengine app id is required")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("volcengine access token is required")
	}
	p := &VolcengineProvider{
		appID:    appID,
		token:    accessToken,
		cluster:  defaultVolcengineCluster,
		endpoint: defaultVolcengineEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type volcengineApp struct {
	AppID   string `json:"appid"`
	Token   string `json:"token"`
	Cluster string `json:"cluster"`
}

type volcengineUser struct {
	UID string `json:"uid"`
}

type volcengineAudio struct {
	VoiceType   string  `json:"voice_type"`
	Encoding    string  `json:"encoding"`
	SpeedRatio  float64 `json:"speed_ratio,omitempty"`
	VolumeRatio float64 `json:"volume_ratio,omitempty"`
	PitchRatio  float64 `json:"pitch_ratio,omitempty"`
	Emotion     string  `json:"emotion,omitempty"`
}

type volcengineQuery struct {
	ReqID     string `json:"reqid"`
	Text      string `json:"text"`
	TextType  string `json:"text_type"`
	Operation string `json:"operation"`
}

type volcengineRequest struct {
	App     volcengineApp   `json:"app"`
	User    volcengineUser  `json:"user"`
	Audio   volcengineAudio `json:"audio"`
	Request volcengineQuery `json:"request"`
}

type volcengineResponse struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration"`
	} `json:"addition"`
}

// Synthesize implements Provider.
func (p *VolcengineProvider) Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Result, error) {
	voiceType := voice.VoiceID
	if voiceType == "" {
		voiceType = defaultVolcengineVoice
	}
	body := volcengineRequest{
		App:  volcengineApp{AppID: p.appID, Token: p.token, Cluster: p.cluster},
		User: volcengineUser{UID: "flowrun"},
		Audio: volcengineAudio{
			VoiceType:   voiceType,
			Encoding:    "mp3",
			SpeedRatio:  voice.Speed,
			VolumeRatio: voice.Volume,
			PitchRatio:  voice.Pitch,
			Emotion:     voice.Emotion,
		},
		Request: volcengineQuery{
			ReqID:     uuid.New().String(),
			Text:      text,
			TextType:  "plain",
			Operation: "query",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The openspeech API expects this exact separator, not a plain bearer token.
	req.Header.Set("Authorization", "Bearer;"+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tts api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts api returned status %d: %s", resp.StatusCode, truncateForError(raw))
	}

	var out volcengineResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tts response: %w", err)
	}
	if out.Code != volcengineOKCode {
		return nil, fmt.Errorf("tts api error %d: %s", out.Code, out.Message)
	}
	if out.Data == "" {
		return nil, fmt.Errorf("tts api returned no audio data")
	}

	audio, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tts audio payload: %w", err)
	}

	durationMS := 0
	if out.Addition.Duration != "" {
		if ms, convErr := strconv.Atoi(out.Addition.Duration); convErr == nil {
			durationMS = ms
		}
	}
	return &Result{Audio: audio, DurationMS: durationMS, Format: "mp3"}, nil
}

func truncateForError(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
