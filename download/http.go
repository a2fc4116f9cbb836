package download

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/rillfs/rill/cachemgr"
)

const defaultRetries = 2

// HTTPManager fetches objects from a single repository host over HTTP.
//
// Failures other than a 404 or an integrity error (connection errors,
// any unexpected HTTP status) are retried after resetting the sink. With a
// compressed payload, any error while copying it into the sink is reported
// as ErrBadData and is not retried. Host failover and proxy chains are out of scope; a
// deployment that needs them puts them behind the base URL.
type HTTPManager struct {
	baseURL string
	client  *http.Client
	headers http.Header
	retries int
	logger  *slog.Logger
}

var _ Manager = (*HTTPManager)(nil)

// HTTPOption configures an HTTPManager.
type HTTPOption func(*HTTPManager)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) HTTPOption {
	return func(m *HTTPManager) {
		m.client = client
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) HTTPOption {
	return func(m *HTTPManager) {
		if m.headers == nil {
			m.headers = make(http.Header)
		}
		m.headers.Set(key, value)
	}
}

// WithRetries sets how often a transient failure is retried. Zero disables
// retries.
func WithRetries(n int) HTTPOption {
	return func(m *HTTPManager) {
		m.retries = n
	}
}

// WithLogger sets the logger for fetch diagnostics.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(m *HTTPManager) {
		m.logger = logger
	}
}

// NewHTTPManager creates a transport fetching from baseURL.
func NewHTTPManager(baseURL string, opts ...HTTPOption) *HTTPManager {
	m := &HTTPManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		retries: defaultRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = http.DefaultClient
	}
	return m
}

func (m *HTTPManager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Fetch downloads the job's object, trying the alternative path on 404 and
// retrying transient failures after resetting the sink.
func (m *HTTPManager) Fetch(job *JobInfo) error {
	paths := []string{job.Path}
	if job.AltPath != "" {
		paths = append(paths, job.AltPath)
	}

	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			if err := job.Sink.Reset(); err != nil {
				return fmt.Errorf("reset sink for retry: %w", err)
			}
			m.log().Debug("retrying fetch", "path", job.Path, "attempt", attempt)
		}

		var notFound bool
		for _, path := range paths {
			err := m.fetchOnce(path, job)
			if err == nil {
				return nil
			}
			lastErr = err
			if errors.Is(err, ErrNotFound) {
				notFound = true
				continue // fall through to the alternative path
			}
			break
		}
		if notFound && errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// retryable reports whether a fresh attempt could succeed. Integrity
// failures are not retried: the host would serve the same bytes again.
func retryable(err error) bool {
	return !errors.Is(err, ErrHashMismatch) && !errors.Is(err, ErrBadData) &&
		!errors.Is(err, ErrNotFound)
}

func (m *HTTPManager) fetchOnce(path string, job *JobInfo) error {
	url := m.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	for key, values := range m.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		// deliver below
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		return fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}

	return m.deliver(resp.Body, job)
}

// deliver decompresses the payload into the sink and verifies the digest.
func (m *HTTPManager) deliver(body io.Reader, job *JobInfo) error {
	reader := body
	switch job.Compression {
	case cachemgr.CompressionNone:
		// raw payload
	case cachemgr.CompressionZlib:
		zr, err := zlib.NewReader(body)
		if err != nil {
			return fmt.Errorf("%w: zlib: %v", ErrBadData, err)
		}
		defer zr.Close()
		reader = zr
	case cachemgr.CompressionZstd:
		zr, err := zstd.NewReader(body)
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrBadData, err)
		}
		defer zr.Close()
		reader = zr
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrBadData, job.Compression)
	}

	dest := io.Writer(job.Sink)
	var verifier interface{ Verified() bool }
	if !job.ExpectedHash.IsNull() {
		v := job.ExpectedHash.Verifier()
		verifier = v
		dest = io.MultiWriter(job.Sink, v)
	}

	if _, err := io.Copy(dest, reader); err != nil {
		if job.Compression != cachemgr.CompressionNone {
			return fmt.Errorf("%w: %v", ErrBadData, err)
		}
		return fmt.Errorf("deliver payload: %w", err)
	}
	if verifier != nil && !verifier.Verified() {
		return fmt.Errorf("%w: expected %s", ErrHashMismatch, job.ExpectedHash)
	}
	return nil
}
