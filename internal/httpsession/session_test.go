package httpsession

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fjacquet/bankfetch/internal/logging"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Options{UserAgent: "bankfetch-test", Logger: logging.NewMockLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_CookiesPersist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("sid=" + c.Value + " ua=" + r.UserAgent()))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := newTestSession(t)
	ctx := context.Background()

	resp, err := s.Get(ctx, server.URL+"/login")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.True(t, resp.Contains("welcome"))

	resp, err = s.Get(ctx, server.URL+"/check")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sid=abc ua=bankfetch-test", resp.Text())
}

func TestSession_FreshSessionHasNoCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("sid"); err == nil {
			_, _ = w.Write([]byte("leaked"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/"})
	}))
	defer server.Close()

	first := newTestSession(t)
	_, err := first.Get(context.Background(), server.URL)
	require.NoError(t, err)

	second := newTestSession(t)
	resp, err := second.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.False(t, resp.Contains("leaked"))
}

func TestSession_PostFormWithExtraCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		c, err := r.Cookie("SaveFormat")
		format := ""
		if err == nil {
			format = c.Value
		}
		_, _ = w.Write([]byte(r.Method + " " + r.PostForm.Get("__EVENTTARGET") + " " + format))
	}))
	defer server.Close()

	s := newTestSession(t)
	form := url.Values{"__EVENTTARGET": {"BTNSAVE"}}
	resp, err := s.PostForm(context.Background(), server.URL, form, &http.Cookie{Name: "SaveFormat", Value: "HASHAVSHEVET"})
	require.NoError(t, err)
	assert.Equal(t, "POST BTNSAVE HASHAVSHEVET", resp.Text())

	// The extra cookie is not persisted.
	resp, err = s.PostForm(context.Background(), server.URL, form)
	require.NoError(t, err)
	assert.Equal(t, "POST BTNSAVE ", resp.Text())
}

func TestSession_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "site", r.Header.Get("X-Site-Id"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": body["username"] + "-tok"})
	}))
	defer server.Close()

	s := newTestSession(t)
	resp, err := s.PostJSON(context.Background(), server.URL, map[string]string{"username": "u"}, map[string]string{"X-Site-Id": "site"})
	require.NoError(t, err)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, resp.DecodeJSON(&out))
	assert.Equal(t, "u-tok", out.Token)
}

func TestSession_FinalURLAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := newTestSession(t)
	resp, err := s.PostForm(context.Background(), server.URL+"/start", url.Values{})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/home", resp.FinalURL())
	assert.False(t, resp.OK())

	diag := resp.Diagnostic()
	assert.Equal(t, http.StatusTeapot, diag.StatusCode)
	assert.Equal(t, server.URL+"/home", diag.URL)
}

func TestSession_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a,b\r\nc,d\r\n"))
	}))
	defer server.Close()

	s := newTestSession(t)
	resp, err := s.Stream(context.Background(), server.URL, url.Values{"x": {"1"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\r\nc,d\r\n", string(body))
}

func TestResponse_NilDiagnostic(t *testing.T) {
	var r *Response
	assert.Nil(t, r.Diagnostic())
	assert.Equal(t, "", (&Response{}).FinalURL())
}
