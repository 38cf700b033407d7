// Package transcribe provides the HTTP client for the downstream
// speech-transcription service.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ErrNotConfigured is returned when no transcription endpoint is set.
var ErrNotConfigured = errors.New("transcription endpoint not configured")

// Options are the per-session transcription settings, fetched once from
// the settings provider at the processing step.
type Options struct {
	Language    string  `json:"language,omitempty"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Result is the transcription service response.
type Result struct {
	Text        string  `json:"text"`
	Language    string  `json:"language,omitempty"`
	DurationSec float64 `json:"duration,omitempty"`
}

// DefaultTimeout bounds one transcription request.
const DefaultTimeout = 2 * time.Minute

// Client uploads recordings to a Whisper-style transcription endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithClientCredentials authenticates requests with an OAuth2
// client-credentials token source instead of a static API key.
func WithClientCredentials(tokenURL, clientID, clientSecret string) Option {
	return func(cl *Client) {
		conf := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		cl.httpClient = conf.Client(context.Background())
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// NewClient creates a transcription client for the given endpoint.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio file as multipart form data and decodes
// the service response. Invoked exactly once per completed capture.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer func() { _ = file.Close() }()

	body, contentType, err := buildMultipartBody(file, filepath.Base(audioPath), opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(payload))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// buildMultipartBody streams the upload form through a pipe so the
// recording is never duplicated in memory.
func buildMultipartBody(file io.Reader, filename string, opts Options) (io.Reader, string, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()

		part, perr := writer.CreateFormFile("file", filename)
		if perr != nil {
			err = perr
			return
		}
		if _, cerr := io.Copy(part, file); cerr != nil {
			err = cerr
			return
		}

		fields := map[string]string{
			"model":           opts.Model,
			"temperature":     strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
			"response_format": "json",
		}
		if opts.Language != "" {
			fields["language"] = opts.Language
		}
		if opts.Prompt != "" {
			fields["prompt"] = opts.Prompt
		}
		for name, value := range fields {
			if werr := writer.WriteField(name, value); werr != nil {
				err = werr
				return
			}
		}
		err = writer.Close()
	}()

	return pr, writer.FormDataContentType(), nil
}
