// Package httpc is an HTTP client for the voxd dashboard API, built on a
// transport with sensible timeouts.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voxcore/pkg/audioio"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient creates an HTTP client with the specified timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx dashboard response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard returned %d: %s", e.Status, e.Message)
}

// Client talks to one voxd dashboard.
type Client struct {
	base string
	hc   *http.Client
}

// New creates a client for the dashboard at base, e.g.
// "http://127.0.0.1:8090". A nil hc uses NewHTTPClient(DefaultTimeout).
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = NewHTTPClient(DefaultTimeout)
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}
}

// Status fetches GET /api/status as a generic JSON object.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/status", "", nil, &out)
	return out, err
}

// Action posts to a parameterless control route such as
// "/api/listen/start".
func (c *Client) Action(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

// SetVolume sets the output volume and returns the applied value.
func (c *Client) SetVolume(ctx context.Context, v int) (int, error) {
	body, err := json.Marshal(map[string]int{"volume": v})
	if err != nil {
		return 0, err
	}
	var out struct {
		Volume int `json:"volume"`
	}
	err = c.do(ctx, http.MethodPut, "/api/volume", "application/json", body, &out)
	return out.Volume, err
}

// PlayPCM uploads mono 16-bit samples for playback and returns the
// remaining free space.
func (c *Client) PlayPCM(ctx context.Context, pcm []int16) (int, error) {
	var out struct {
		FreeSpace int `json:"free_space"`
	}
	err := c.do(ctx, http.MethodPost, "/api/playback/audio", "application/octet-stream",
		audioio.SamplesToBytes(pcm), &out)
	return out.FreeSpace, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
