package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/embedlink/embedlink/internal/config"
	"github.com/embedlink/embedlink/internal/constants"
	"github.com/embedlink/embedlink/internal/http"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/logging"
	"github.com/embedlink/embedlink/internal/ratelimit"
)

// maxErrorBodyRead bounds how much of an error response is read before it
// is truncated for display.
const maxErrorBodyRead = 64 << 10

// Client talks to the embedding service.
type Client struct {
	baseURL     string
	submit      *nethttp.Client // submissions, never retried
	fetch       *nethttp.Client // idempotent GETs, retried when configured
	limiters    *ratelimit.Limiters
	pollTimeout time.Duration
	logger      *logging.Logger
}

// NewClient creates a client from cfg. An empty base URL is accepted; every
// call then fails with a configuration error without touching the network.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("api")

	httpClient, err := http.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	limiters := ratelimit.NewLimiters(ratelimit.NewRegistry(cfg.RateLimit, cfg.RateBurst), logger)

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.APIBaseURL, "/"),
		submit:      httpClient,
		fetch:       http.NewRetryingClient(httpClient, cfg.RetryMax, logger),
		limiters:    limiters,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}, nil
}

// BaseURL returns the configured service address without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// TrainingStatus is the body of GET /train_status/{id}.
type TrainingStatus struct {
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"` // percent, 0-100
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Message   string  `json:"message,omitempty"`
}

// Match is one raw entry of the search response.
type Match struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// StartTraining asks the service to start a training job and returns the
// job identifier.
func (c *Client) StartTraining(ctx context.Context) (string, error) {
	const op = "start training"

	resp, err := c.do(ctx, c.submit, op, nethttp.MethodPost, constants.PathStartTraining, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		JobID json.RawMessage `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ProtocolError(op, "failed to decode response: "+err.Error())
	}

	id := decodeID(body.JobID)
	if id == "" {
		return "", ProtocolError(op, "identifier missing")
	}
	return id, nil
}

// decodeID accepts a JSON string or number.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// GetTrainingStatus fetches the status of job. Each call is bounded by the
// configured poll timeout.
func (c *Client) GetTrainingStatus(ctx context.Context, jobID string) (*TrainingStatus, error) {
	const op = "training status"

	if c.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pollTimeout)
		defer cancel()
	}

	path := constants.PathTrainingStatus + url.PathEscape(jobID)
	resp, err := c.do(ctx, c.fetch, op, nethttp.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status TrainingStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, ProtocolError(op, "failed to decode response: "+err.Error())
	}
	return &status, nil
}

// CompareImage uploads f as the search query and returns the raw matches in
// server order.
func (c *Client) CompareImage(ctx context.Context, f intake.File) ([]Match, error) {
	const op = "search"

	if !c.Configured() {
		return nil, ConfigurationError(op, "API base URL is missing")
	}

	form, contentType, err := multipartBody([]intake.File{f})
	if err != nil {
		return nil, ValidationError(op, err.Error())
	}
	body := &requestBody{r: bytes.NewReader(form), length: int64(len(form)), contentType: contentType}
	resp, err := c.do(ctx, c.submit, op, nethttp.MethodPost, constants.PathCompareImage, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var matches []Match
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return nil, ProtocolError(op, "failed to decode response: "+err.Error())
	}
	return matches, nil
}

// UploadOption configures UploadImages.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	wrap func(r io.Reader, size int64) io.Reader
}

// WithBodyWrapper wraps the request body, e.g. with a progress reader. size
// is the encoded body length.
func WithBodyWrapper(wrap func(r io.Reader, size int64) io.Reader) UploadOption {
	return func(o *uploadOptions) { o.wrap = wrap }
}

// UploadImages sends all files in one multipart request, one "file" part per
// file. The service acknowledges the batch as a whole.
func (c *Client) UploadImages(ctx context.Context, files []intake.File, opts ...UploadOption) error {
	const op = "upload"

	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !c.Configured() {
		return ConfigurationError(op, "API base URL is missing")
	}

	form, contentType, err := multipartBody(files)
	if err != nil {
		return ValidationError(op, err.Error())
	}
	var r io.Reader = bytes.NewReader(form)
	if o.wrap != nil {
		r = o.wrap(r, int64(len(form)))
	}
	body := &requestBody{r: r, length: int64(len(form)), contentType: contentType}
	resp, err := c.do(ctx, c.submit, op, nethttp.MethodPost, constants.PathUpload, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ImageURL returns the address of a result image.
func (c *Client) ImageURL(path string) string {
	return c.baseURL + constants.PathImage + "?path=" + url.QueryEscape(path)
}

// FetchImage downloads the image at path into w and returns the byte count
// and content type.
func (c *Client) FetchImage(ctx context.Context, path string, w io.Writer) (int64, string, error) {
	const op = "fetch image"

	if path == "" {
		return 0, "", ValidationError(op, "no image path given")
	}

	resp, err := c.do(ctx, c.fetch, op, nethttp.MethodGet, constants.PathImage+"?path="+url.QueryEscape(path), nil)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, "", TransportError(op, err)
	}
	return n, resp.Header.Get("Content-Type"), nil
}

// do paces and sends one request. Non-OK responses are converted to
// StatusError with the body closed; on success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, client *nethttp.Client, op, method, path string, body *requestBody) (*nethttp.Response, error) {
	if c.baseURL == "" {
		return nil, ConfigurationError(op, "API base URL is missing")
	}

	if err := c.limiters.For(method, path).Wait(ctx); err != nil {
		return nil, TransportError(op, fmt.Errorf("rate limiter cancelled: %w", err))
	}

	var reader io.Reader
	if body != nil {
		reader = body.r
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, TransportError(op, fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		// A wrapped reader hides its length from NewRequest.
		req.ContentLength = body.length
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil && body.contentType != "" {
		req.Header.Set("Content-Type", body.contentType)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("Request failed")
		return nil, TransportError(op, unwrapURLError(err))
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Str("request_id", requestID).
		Msg("Request completed")

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		c.throttled(resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))
		return nil, StatusError(op, resp.StatusCode, raw)
	}

	return resp, nil
}

// throttled backs the whole client off after a 429.
func (c *Client) throttled(resp *nethttp.Response) {
	cooldown := time.Second
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			cooldown = time.Duration(secs) * time.Second
		}
	}
	c.limiters.Throttle(cooldown)
	c.logger.Warn().Dur("cooldown", cooldown).Msg("Throttled by server")
}

// unwrapURLError strips the *url.Error envelope so messages read
// "connection refused" rather than repeating method and URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// multipartBody encodes files as a multipart form, one "file" part each.
// The form is built in memory so the request carries a Content-Length;
// the service's form parser does not accept chunked bodies.
func multipartBody(files []intake.File) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := mw.CreateFormFile(constants.MultipartFileField, f.Name)
		if err != nil {
			return nil, "", err
		}
		src, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, src)
		src.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// requestBody is an optional request payload.
type requestBody struct {
	r           io.Reader
	length      int64
	contentType string
}
