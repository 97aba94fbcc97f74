package annotationapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

const (
	DefaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

// Client talks to the annotation and study endpoints of the archive API.
// It implements domain.Backend and domain.StudyCatalog.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient normalises baseURL (whitespace removed, trailing slash and a
// trailing /dicom segment dropped).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    normalizeBase(baseURL),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the normalised root.
func (c *Client) BaseURL() string { return c.baseURL }

// AnnotationURL returns the per-image annotation endpoint.
func (c *Client) AnnotationURL(k imageid.Keys) string {
	return fmt.Sprintf("%s/annotations/studies/%d/series/%d/images/%d", c.baseURL, k.StudyKey, k.SeriesKey, k.ImageKey)
}

func (c *Client) Save(ctx context.Context, rec domain.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.AnnotationURL(rec.Keys()), body)
	return err
}

func (c *Client) Fetch(ctx context.Context, keys imageid.Keys) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.AnnotationURL(keys), nil)
}

func (c *Client) FetchStudy(ctx context.Context, studyKey int64) (domain.Study, error) {
	var out domain.Study
	data, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/dicom/studies/%d", c.baseURL, studyKey), nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode study %d: %w", studyKey, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Method: method, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &domain.TransportError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func normalizeBase(raw string) string {
	base := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/dicom")
	return base
}
