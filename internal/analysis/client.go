// Package analysis runs the voice-emotion side flow of payment approval.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const NeutralEmotion = "neutral"

// FeatureNames lists the acoustic scalars in report order.
var FeatureNames = func() []string {
	names := make([]string, 0, 44)
	for i := 1; i <= 40; i++ {
		names = append(names, fmt.Sprintf("mfcc%d", i))
	}
	return append(names, "chroma", "melspectrogram", "contrast", "tonnetz")
}()

// Result is an emotion label plus its acoustic features.
type Result struct {
	Emotion  string             `json:"emotion"`
	Features map[string]float64 `json:"features"`
	Fallback bool               `json:"fallback,omitempty"`
}

// Fallback is the neutral result substituted when analysis fails.
func Fallback() Result {
	features := make(map[string]float64, len(FeatureNames))
	for _, name := range FeatureNames {
		features[name] = 0
	}
	return Result{Emotion: NeutralEmotion, Features: features, Fallback: true}
}

// Analyzer turns base64 audio into a Result.
type Analyzer interface {
	Analyze(ctx context.Context, audioBase64 string) (Result, error)
}

// ErrNotConfigured is returned when no emotion service URL is set.
var ErrNotConfigured = errors.New("analysis: emotion service url not configured")

// Client calls the external emotion-analysis HTTP service.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	AudioData string `json:"audio_data"`
}

// Analyze posts the audio and parses {data:{emotion, features...}}; a flat
// body without the data envelope is accepted too.
func (c *Client) Analyze(ctx context.Context, audioBase64 string) (Result, error) {
	if c == nil || c.url == "" {
		return Result{}, ErrNotConfigured
	}

	body, err := json.Marshal(analyzeRequest{AudioData: audioBase64})
	if err != nil {
		return Result{}, fmt.Errorf("analysis: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: call emotion service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("analysis: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("analysis: emotion service returned status %d", resp.StatusCode)
	}
	return parseResult(raw)
}

func parseResult(raw []byte) (Result, error) {
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Result{}, fmt.Errorf("analysis: decode response: %w", err)
	}
	fields := envelope.Data
	if fields == nil {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Result{}, fmt.Errorf("analysis: decode response: %w", err)
		}
	}

	emotion, _ := fields["emotion"].(string)
	emotion = strings.TrimSpace(emotion)
	if emotion == "" {
		return Result{}, fmt.Errorf("analysis: response has no emotion")
	}

	result := Result{Emotion: emotion, Features: make(map[string]float64, len(FeatureNames))}
	for _, name := range FeatureNames {
		result.Features[name] = toFloat(fields[name])
	}
	return result, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}
