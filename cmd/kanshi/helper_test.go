package main

import (
	"testing"

	"github.com/harunnryd/kanshi/internal/config"
	"github.com/harunnryd/kanshi/internal/transport"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTransportModes(t *testing.T) {
	old := cfg
	defer func() { cfg = old }()

	cfg = &config.Config{}

	// Empty mode falls back to the mock transport.
	tr, err := buildTransport()
	require.NoError(t, err)
	assert.IsType(t, &transport.MockTransport{}, tr)

	cfg.Transports.Email.Mode = "gmail"
	tr, err = buildTransport()
	require.NoError(t, err)
	assert.IsType(t, &transport.GmailTransport{}, tr)

	cfg.Transports.Email.Mode = "smtp"
	tr, err = buildTransport()
	require.NoError(t, err)
	assert.IsType(t, &transport.SMTPTransport{}, tr)

	cfg.Transports.Email.Mode = "carrier-pigeon"
	_, err = buildTransport()
	assert.Error(t, err)
}

func TestBuildAlerterSelection(t *testing.T) {
	old := cfg
	defer func() { cfg = old }()

	cfg = &config.Config{}
	assert.Nil(t, buildAlerter())

	cfg.Transports.Slack.Enabled = true
	assert.IsType(t, &transport.SlackAlerter{}, buildAlerter())

	cfg.Transports.Slack.Enabled = false
	cfg.Transports.Telegram.Enabled = true
	assert.IsType(t, &transport.TelegramAlerter{}, buildAlerter())
}

func TestResolveWorkspaceID(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringP("workspace", "w", "", "")

	assert.Equal(t, "default", resolveWorkspaceID(cmd))

	require.NoError(t, cmd.Flags().Set("workspace", "staging"))
	assert.Equal(t, "staging", resolveWorkspaceID(cmd))

	assert.Equal(t, "default", resolveWorkspaceID(nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a long ...", truncateString("a long string indeed", 10))
}
