package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME_Multipart(t *testing.T) {
	msg := buildMIME("kanshi@example.com",
		[]string{"a@example.com", "b@example.com"},
		[]string{"c@example.com"},
		"🚨 [CRITICAL] Policy Update: Privacy Policy",
		"plain body", "<p>html body</p>")

	assert.Contains(t, msg, "From: kanshi@example.com")
	assert.Contains(t, msg, "To: a@example.com, b@example.com")
	assert.Contains(t, msg, "Cc: c@example.com")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "plain body")
	assert.Contains(t, msg, "<p>html body</p>")
	// Non-ASCII subjects are Q-encoded.
	assert.Contains(t, msg, "=?utf-8?q?")
}

func TestBuildMIME_PlainOnly(t *testing.T) {
	msg := buildMIME("kanshi@example.com", []string{"a@example.com"}, nil,
		"Subject", "plain body", "")

	assert.Contains(t, msg, "text/plain")
	assert.NotContains(t, msg, "multipart/alternative")
	assert.NotContains(t, msg, "Cc:")
}

func TestGmailTransport_Send(t *testing.T) {
	var gotAuth string
	var gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		gotRaw = payload.Raw
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-123"})
	}))
	defer srv.Close()

	tr := NewGmailTransport("kanshi@example.com", "tok", srv.URL, time.Second)
	id, err := tr.Send(context.Background(),
		[]string{"to@example.com"}, nil, "Subject", "body", "")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "Bearer tok", gotAuth)

	decoded, err := base64.URLEncoding.DecodeString(gotRaw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: to@example.com")
}

func TestGmailTransport_StatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		tr := NewGmailTransport("f@example.com", "tok", srv.URL, time.Second)
		_, err := tr.Send(context.Background(), []string{"t@example.com"}, nil, "s", "b", "")
		require.Error(t, err)
		assert.Equal(t, tc.retryable, IsRetryable(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestGmailTransport_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tr := NewGmailTransport("f@example.com", "tok", srv.URL, time.Second)
	_, err := tr.Send(context.Background(), []string{"t@example.com"}, nil, "s", "b", "")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSMTPTransport_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	tr := NewSMTPTransport("from@example.com", "smtp.example.com", 587, "user", "pass")
	tr.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	_, err := tr.Send(context.Background(),
		[]string{"to@example.com"}, []string{"cc@example.com"}, "Subject", "body", "<p>body</p>")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "from@example.com", gotFrom)
	assert.Equal(t, []string{"to@example.com", "cc@example.com"}, gotTo)
	assert.True(t, strings.Contains(string(gotMsg), "multipart/alternative"))
}

func TestSMTPTransport_FailureIsRetryable(t *testing.T) {
	tr := NewSMTPTransport("f@example.com", "h", 25, "u", "p")
	tr.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}

	_, err := tr.Send(context.Background(), []string{"t@example.com"}, nil, "s", "b", "")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestMockTransport(t *testing.T) {
	m := NewMockTransport()

	m.FailNext(1, false)
	_, err := m.Send(context.Background(), []string{"a@example.com"}, nil, "s", "b", "")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	id, err := m.Send(context.Background(), []string{"a@example.com"}, nil, "s", "b", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "s", m.Sent()[0].Subject)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("some network thing")))
	assert.True(t, IsRetryable(retryableErr("x", nil)))
	assert.False(t, IsRetryable(terminalErr("x", nil)))
}
