// Package fetcherror defines the error kinds surfaced by the backend
// protocol clients. Every kind matches its sentinel through errors.Is,
// and the login/fetch kinds keep a snippet of the offending response.
package fetcherror

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrLogin           = errors.New("login failed")
	ErrFetch           = errors.New("fetch failed")
	ErrParse           = errors.New("parse failed")
	ErrAnchorNotFound  = errors.New("anchor not found")
	ErrUnmappedAccount = errors.New("unmapped account")
	ErrTransient       = errors.New("transient network failure")
)

// MaxSnippet bounds the body excerpt kept on a Response.
const MaxSnippet = 512

// Response is the diagnostic part of a provider reply.
type Response struct {
	StatusCode int
	URL        string
	Snippet    string
}

// NewResponse keeps status, final URL and at most MaxSnippet bytes of body,
// cut on a rune boundary.
func NewResponse(statusCode int, url string, body []byte) *Response {
	snippet := body
	if len(snippet) > MaxSnippet {
		snippet = snippet[:MaxSnippet]
		for len(snippet) > 0 && !utf8.Valid(snippet) {
			snippet = snippet[:len(snippet)-1]
		}
	}
	return &Response{StatusCode: statusCode, URL: url, Snippet: string(snippet)}
}

func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("status %d, url %s", r.StatusCode, r.URL)
}

// LoginError reports a failed authentication handshake.
type LoginError struct {
	Backend  string
	Stage    string
	Reason   string
	Response *Response
	Err      error
}

func (e *LoginError) Error() string {
	return formatStep(e.Backend, "login failed", e.Stage, e.Reason, e.Response, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

func (e *LoginError) Is(target error) bool { return target == ErrLogin }

// FetchError reports a statement page that could not be reached or was not
// the page expected after a successful login.
type FetchError struct {
	Backend  string
	Stage    string
	Reason   string
	Response *Response
	Err      error
}

func (e *FetchError) Error() string {
	return formatStep(e.Backend, "fetch failed", e.Stage, e.Reason, e.Response, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ParseError reports a structurally unexpected document or value.
type ParseError struct {
	Backend string
	Field   string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: failed to parse %s: %v", e.Backend, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: failed to parse %s='%s': %v", e.Backend, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// AnchorNotFoundError reports a resume anchor absent from the fetched range.
type AnchorNotFoundError struct {
	Backend      string
	AccountID    string
	Date         time.Time
	Confirmation int64
}

func (e *AnchorNotFoundError) Error() string {
	return fmt.Sprintf("%s: anchor (%s, %s, %d) not found in fetched range",
		e.Backend, e.AccountID, e.Date.Format("2006-01-02"), e.Confirmation)
}

func (e *AnchorNotFoundError) Is(target error) bool { return target == ErrAnchorNotFound }

// UnmappedAccountError reports a logical account with no remote entry.
// It is never fatal: callers log it and move on to the next account.
type UnmappedAccountError struct {
	Backend   string
	Account   string
	BackendID string
}

func (e *UnmappedAccountError) Error() string {
	return fmt.Sprintf("%s: account %q (backend id %s) has no remote entry", e.Backend, e.Account, e.BackendID)
}

func (e *UnmappedAccountError) Is(target error) bool { return target == ErrUnmappedAccount }

// TransientError reports a read timeout that survived every retry.
type TransientError struct {
	Backend  string
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %d attempts: %v", e.Backend, e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// ResponseOf returns the diagnostic response carried by err, if any.
func ResponseOf(err error) *Response {
	var le *LoginError
	if errors.As(err, &le) && le.Response != nil {
		return le.Response
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Response != nil {
		return fe.Response
	}
	return nil
}

func formatStep(backend, kind, stage, reason string, resp *Response, err error) string {
	var b strings.Builder
	b.WriteString(backend)
	b.WriteString(": ")
	b.WriteString(kind)
	if stage != "" {
		b.WriteString(" at ")
		b.WriteString(stage)
	}
	if reason != "" {
		b.WriteString(": ")
		b.WriteString(reason)
	}
	if resp != nil {
		b.WriteString(" (")
		b.WriteString(resp.String())
		b.WriteString(")")
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}
