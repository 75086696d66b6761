package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

const defaultDescribeTimeout = 15 * time.Second

// Describer asks an external vision service for alt text when an image
// arrives without one. Every failure degrades to empty alt text; a dispatch
// never waits on more than the configured timeout and never fails because
// the describer is down.
type Describer struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	log      logx.Logger
}

func NewDescriber(endpoint string, timeout time.Duration, log logx.Logger) *Describer {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultDescribeTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Describer{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Describe returns alt text for the image file, or "" when the service is
// unavailable, slow, or unhappy.
func (d *Describer) Describe(ctx context.Context, imagePath string) string {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		d.log.Warn("describe: read image failed", logx.String("path", imagePath), logx.Err(err))
		return ""
	}

	payload, err := json.Marshal(map[string]any{
		"prompt": "Describe this image concisely for use as alt text.",
		"image":  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/infer", bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		d.log.Debug("describe request failed", logx.Err(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.log.Debug("describe rejected", logx.Int("status", resp.StatusCode))
		return ""
	}

	var out struct {
		Success      bool   `json:"success"`
		ResponseText string `json:"response_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Success {
		return ""
	}
	return strings.TrimSpace(out.ResponseText)
}
