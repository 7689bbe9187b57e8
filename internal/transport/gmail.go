package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// GmailTransport sends through the Gmail REST API with a bearer token.
type GmailTransport struct {
	From     string
	Token    string
	Endpoint string
	Client   *http.Client
}

func NewGmailTransport(from, token, endpoint string, timeout time.Duration) *GmailTransport {
	if token == "" {
		token = os.Getenv("GMAIL_TOKEN")
	}
	return &GmailTransport{
		From:     from,
		Token:    token,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (t *GmailTransport) Name() string {
	return "gmail"
}

func (t *GmailTransport) Send(ctx context.Context, to, cc []string, subject, bodyText, bodyHTML string) (string, error) {
	raw := base64.URLEncoding.EncodeToString(
		[]byte(buildMIME(t.From, to, cc, subject, bodyText, bodyHTML)))

	payload, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return "", terminalErr("failed to encode gmail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", terminalErr("invalid gmail endpoint", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", retryableErr("gmail request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", retryableErr(fmt.Sprintf("gmail returned status %d", resp.StatusCode), nil)
	default:
		return "", terminalErr(fmt.Sprintf("gmail returned status %d: %s", resp.StatusCode, body), nil)
	}

	var sent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		return "", nil
	}
	return sent.ID, nil
}
