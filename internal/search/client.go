package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingDocumentID is returned when an upload completes without any
	// recognizable document identifier in the response.
	ErrMissingDocumentID = errors.New("search backend returned no document id")
	// ErrStoreNotFound is returned when the target store no longer exists remotely.
	ErrStoreNotFound = errors.New("search store not found")
)

// MetadataEntry is one filterable key/value pair attached to a remote document
type MetadataEntry struct {
	Key         string `json:"key"`
	StringValue string `json:"stringValue"`
}

// UploadRequest describes one document upload. Exactly one of FilePath or Content is used.
type UploadRequest struct {
	StoreID     string
	DisplayName string
	MimeType    string
	Metadata    []MetadataEntry
	FilePath    string
	Content     []byte
}

// APIError is the error envelope returned by the backend
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search API error %d (%s): %s", e.Code, e.Status, e.Message)
}

type documentRef struct {
	Name string `json:"name"`
}

// operation covers both the long-running operation envelope and the bare
// document shapes some upload responses use.
type operation struct {
	Name         string          `json:"name"`
	Done         bool            `json:"done"`
	Error        *APIError       `json:"error,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	DocumentName string          `json:"documentName,omitempty"`
	Document     *documentRef    `json:"document,omitempty"`
}

// Client talks to the managed File Search REST API
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.pollTimeout = timeout
	}
}

func NewClient(apiKey, baseURL string, rps float64, opts ...Option) *Client {
	if rps <= 0 {
		rps = 2
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		rateLimiter:  rate.NewLimiter(rate.Limit(rps), burst),
		pollInterval: 2 * time.Second,
		pollTimeout:  5 * time.Minute,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SearchAPI",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// A missing store or bad request says nothing about backend health.
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateStore creates a remote store and returns its resource name
func (c *Client) CreateStore(ctx context.Context, displayName string) (string, error) {
	ctx, span := otel.Tracer("search-client").Start(ctx, "search.create_store")
	defer span.End()
	span.SetAttributes(attribute.String("search.store_display_name", displayName))

	body, err := json.Marshal(map[string]string{"displayName": displayName})
	if err != nil {
		return "", err
	}

	var store struct {
		Name string `json:"name"`
	}
	err = c.call(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1beta/fileSearchStores"), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, &store)
	})
	if err != nil {
		return "", fmt.Errorf("create store %q: %w", displayName, err)
	}
	if store.Name == "" {
		return "", fmt.Errorf("create store %q: response carried no store name", displayName)
	}
	return store.Name, nil
}

// UploadDocument uploads a file or text body into a store and waits for the
// import operation to finish. The returned id is never empty.
func (c *Client) UploadDocument(ctx context.Context, in UploadRequest) (string, error) {
	ctx, span := otel.Tracer("search-client").Start(ctx, "search.upload_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.store", in.StoreID),
		attribute.String("search.mime_type", in.MimeType),
	)

	content := in.Content
	if in.FilePath != "" {
		data, err := os.ReadFile(in.FilePath)
		if err != nil {
			return "", fmt.Errorf("read upload body: %w", err)
		}
		content = data
	}

	body, contentType, err := buildMultipart(in, content)
	if err != nil {
		return "", err
	}

	var op operation
	err = c.call(ctx, func() error {
		endpoint := c.url("/upload/v1beta/" + in.StoreID + ":uploadToFileSearchStore")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Goog-Upload-Protocol", "multipart")
		return c.do(req, &op)
	})
	if err != nil {
		// Only the store-scoped upload can report a vanished store
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return "", fmt.Errorf("%w: %w", ErrStoreNotFound, err)
		}
		return "", err
	}

	if !op.Done && op.Name != "" && extractDocumentID(op) == "" {
		if op, err = c.waitOperation(ctx, op.Name); err != nil {
			return "", err
		}
	}
	if op.Error != nil {
		return "", op.Error
	}

	id := extractDocumentID(op)
	if id == "" {
		span.SetAttributes(attribute.Bool("search.missing_document_id", true))
		return "", ErrMissingDocumentID
	}
	return id, nil
}

func (c *Client) waitOperation(ctx context.Context, name string) (operation, error) {
	deadline := time.Now().Add(c.pollTimeout)
	for {
		var op operation
		err := c.call(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1beta/"+name), nil)
			if err != nil {
				return err
			}
			return c.do(req, &op)
		})
		if err != nil {
			return op, fmt.Errorf("poll %s: %w", name, err)
		}
		if op.Done {
			return op, nil
		}
		if time.Now().After(deadline) {
			return op, fmt.Errorf("operation %s did not finish within %s", name, c.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// call runs fn behind the rate limiter and circuit breaker
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) != nil || envelope.Error == nil {
			envelope.Error = &APIError{Code: resp.StatusCode, Status: resp.Status, Message: strings.TrimSpace(string(raw))}
		}
		if envelope.Error.Code == 0 {
			envelope.Error.Code = resp.StatusCode
		}
		return envelope.Error
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func buildMultipart(in UploadRequest, content []byte) ([]byte, string, error) {
	meta := map[string]any{
		"displayName": in.DisplayName,
		"mimeType":    in.MimeType,
	}
	if len(in.Metadata) > 0 {
		meta["customMetadata"] = in.Metadata
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, "", err
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	filePart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, "", err
	}
	if _, err := filePart.Write(content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/related; boundary=" + mw.Boundary(), nil
}

// extractDocumentID checks every response shape the backend is known to use
func extractDocumentID(op operation) string {
	if len(op.Response) > 0 {
		var inner struct {
			DocumentName string       `json:"documentName"`
			Document     *documentRef `json:"document"`
		}
		if json.Unmarshal(op.Response, &inner) == nil {
			if inner.DocumentName != "" {
				return inner.DocumentName
			}
			if inner.Document != nil && inner.Document.Name != "" {
				return inner.Document.Name
			}
		}
	}
	if op.DocumentName != "" {
		return op.DocumentName
	}
	if op.Document != nil && op.Document.Name != "" {
		return op.Document.Name
	}
	if strings.Contains(op.Name, "/documents/") && !strings.Contains(op.Name, "/operations/") {
		return op.Name
	}
	return ""
}
