package diagram

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultInkURL is the public mermaid.ink service.
	DefaultInkURL = "https://mermaid.ink"
	liveEditorURL = "https://mermaid.live/edit"

	maxMarkupBytes = 8 << 20
)

// InkRenderer renders diagrams through a mermaid.ink compatible service.
// It leaves no local artifacts, so it does not implement Sweeper.
type InkRenderer struct {
	baseURL string
	client  *http.Client
	theme   string
}

// NewInkRenderer creates a renderer for the service at baseURL.
// A nil client gets a default one with a 10s timeout.
func NewInkRenderer(baseURL string, client *http.Client) *InkRenderer {
	if baseURL == "" {
		baseURL = DefaultInkURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &InkRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		theme:   "default",
	}
}

// InkPrecheck returns a Precheck that rejects unusable service URLs.
func InkPrecheck(baseURL string) Precheck {
	return func() error {
		if baseURL == "" {
			return nil
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return err
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return nil
	}
}

// Initialize applies the theme.
func (r *InkRenderer) Initialize(opts InitOptions) error {
	if opts.Theme != "" {
		r.theme = opts.Theme
	}
	return nil
}

// Render fetches the SVG for text. The id is not sent; the service output
// does not depend on it.
func (r *InkRenderer) Render(ctx context.Context, id, text string) (Result, error) {
	pako, err := Pako(text, r.theme)
	if err != nil {
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/svg/%s", r.baseURL, pako)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "image/svg+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMarkupBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read render response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return Result{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	if !bytes.Contains(body, []byte("<svg")) {
		return Result{}, ErrEmptyMarkup
	}

	return Result{Markup: string(body)}, nil
}

// LiveURL returns a link that opens text in the live editor.
func (r *InkRenderer) LiveURL(text string) (string, error) {
	pako, err := Pako(text, r.theme)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/#%s", liveEditorURL, pako), nil
}

// Pako encodes a diagram the way mermaid.ink and mermaid.live expect it:
// JSON state, zlib compressed, URL-safe base64, "pako:" prefix.
func Pako(text, theme string) (string, error) {
	state := map[string]any{
		"code":    text,
		"mermaid": map[string]string{"theme": theme},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return "pako:" + base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}
