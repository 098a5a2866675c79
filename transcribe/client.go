package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bosley/flowlab/audio"
)

const (
	DefaultEndpoint = "http://localhost:8444/api/transcribe"

	// ClientIDHeader names the client whose websocket subscribers receive
	// the transcription.
	ClientIDHeader = "X-Client-ID"
)

// Result is one successful transcription.
type Result struct {
	FullText string   `json:"fullText"`
	Lines    []string `json:"lines"`

	// Simulated is set when the result came from a development fallback.
	Simulated bool `json:"simulated,omitempty"`
}

// Request is the body posted to the transcription endpoint.
type Request struct {
	Audio string `json:"audio"`
}

// Response is the body returned by the transcription endpoint.
type Response struct {
	Success       bool     `json:"success"`
	Transcription *string  `json:"transcription,omitempty"`
	Lines         []string `json:"lines,omitempty"`
	Message       string   `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Client submits recorded clips to the transcription endpoint.
type Client struct {
	endpoint   string
	clientID   string
	httpClient *http.Client
}

// ClientOption is a function type that allows to set options for the Client.
type ClientOption func(*Client)

// WithEndpoint sets the transcription endpoint URL.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithClientID tags requests with a client ID.
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithHTTPClient sets the HTTP client for the Client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{}

	for _, opt := range opts {
		opt(c)
	}

	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return c
}

// Encode returns the base64 payload for a clip.
func Encode(clip *audio.Clip) (string, error) {
	if clip == nil {
		return "", errors.New("no clip to encode")
	}
	return base64.StdEncoding.EncodeToString(clip.Data), nil
}

// Encode returns the base64 payload for a clip.
func (c *Client) Encode(clip *audio.Clip) (string, error) {
	return Encode(clip)
}

// Transcribe sends one payload to the endpoint. There are no retries.
func (c *Client) Transcribe(ctx context.Context, payload string) (*Result, error) {
	body, err := json.Marshal(Request{Audio: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(ClientIDHeader, c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		slog.Debug("Transcription endpoint returned error status", "status", resp.Status)
		return nil, &FailedError{Status: statusText(resp)}
	}

	var tr Response
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	if !tr.Success {
		return nil, &FailedError{Message: tr.Message}
	}

	text := ""
	if tr.Transcription != nil {
		text = *tr.Transcription
	}

	return &Result{
		FullText: text,
		Lines:    SplitIntoLines(text),
	}, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
