// Package httpsession provides the cookie-aware HTTP session every
// provider client logs in with. A session is created per login, owned by
// one fetch and closed when that fetch ends.
package httpsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/logging"
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Options configures a Session.
type Options struct {
	// Timeout bounds each exchange, body included.
	Timeout time.Duration
	// RequestsPerSecond throttles round trips. Zero disables throttling.
	RequestsPerSecond float64
	UserAgent         string
	Logger            logging.Logger
	// Transport overrides the default transport.
	Transport http.RoundTripper
}

// Session is a cookie jar plus a client and a limiter.
type Session struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    logging.Logger
}

// Response is a fully read reply.
type Response struct {
	StatusCode int
	Header     http.Header
	// URL is the final URL after redirects.
	URL  *url.URL
	Body []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Contains reports whether the body contains marker.
func (r *Response) Contains(marker string) bool {
	return bytes.Contains(r.Body, []byte(marker))
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// FinalURL returns the final URL as a string.
func (r *Response) FinalURL() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Diagnostic returns the part of the reply kept on typed errors.
func (r *Response) Diagnostic() *fetcherror.Response {
	if r == nil {
		return nil
	}
	return fetcherror.NewResponse(r.StatusCode, r.FinalURL(), r.Body)
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// New creates a session with an empty cookie jar.
func New(opts Options) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Session{
		client: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: opts.UserAgent,
		logger:    logging.OrDefault(opts.Logger),
	}, nil
}

// Get fetches rawURL.
func (s *Session) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

// PostForm posts form as application/x-www-form-urlencoded. Extra cookies
// are sent with this request only and are not stored in the jar.
func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values, cookies ...*http.Cookie) (*Response, error) {
	req, err := newFormRequest(ctx, rawURL, form, cookies)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

// PostJSON posts payload encoded as JSON with the given extra headers.
func (s *Session) PostJSON(ctx context.Context, rawURL string, payload interface{}, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.do(req)
}

// Stream posts form and returns the live reply. The caller owns the body.
func (s *Session) Stream(ctx context.Context, rawURL string, form url.Values, cookies ...*http.Cookie) (*http.Response, error) {
	req, err := newFormRequest(ctx, rawURL, form, cookies)
	if err != nil {
		return nil, err
	}
	return s.send(req)
}

// Close releases idle connections. The session must not be reused.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func newFormRequest(ctx context.Context, rawURL string, form url.Values, cookies []*http.Cookie) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req, nil
}

func (s *Session) do(req *http.Request) (*Response, error) {
	resp, err := s.send(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.WithError(closeErr).Warn("Failed to close response body")
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        resp.Request.URL,
		Body:       body,
	}, nil
}

func (s *Session) send(req *http.Request) (*http.Response, error) {
	if err := s.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("Request failed",
			logging.F(logging.FieldOperation, req.Method),
			logging.F(logging.FieldURL, req.URL.String()),
			logging.F(logging.FieldError, err.Error()))
		return nil, err
	}
	s.logger.Debug("Request completed",
		logging.F(logging.FieldOperation, req.Method),
		logging.F(logging.FieldURL, req.URL.String()),
		logging.F(logging.FieldStatusCode, resp.StatusCode),
		logging.F(logging.FieldDuration, time.Since(start).String()))
	return resp, nil
}
