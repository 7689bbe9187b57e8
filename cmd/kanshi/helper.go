package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/harunnryd/kanshi/internal/baseline"
	"github.com/harunnryd/kanshi/internal/classifier"
	"github.com/harunnryd/kanshi/internal/config"
	"github.com/harunnryd/kanshi/internal/corrector"
	"github.com/harunnryd/kanshi/internal/evidence"
	"github.com/harunnryd/kanshi/internal/model"
	"github.com/harunnryd/kanshi/internal/notify"
	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/policy"
	"github.com/harunnryd/kanshi/internal/retention"
	"github.com/harunnryd/kanshi/internal/snapshot"
	"github.com/harunnryd/kanshi/internal/store"
	"github.com/harunnryd/kanshi/internal/transport"

	"github.com/spf13/cobra"
)

// runtimeParts holds the wired pipeline for one workspace.
type runtimeParts struct {
	workspaceID  string
	registry     *policy.Registry
	snapshots    *snapshot.Store
	baselines    *baseline.Store
	runs         *pipeline.RunRecordStore
	history      *notify.History
	orchestrator *pipeline.Orchestrator
}

func resolveWorkspaceID(cmd *cobra.Command) string {
	if cmd != nil {
		if id, _ := cmd.Flags().GetString("workspace"); strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	return "default"
}

func buildRuntime(cmd *cobra.Command) (*runtimeParts, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	workspaceID := resolveWorkspaceID(cmd)

	registry, err := policy.LoadRegistry(cfg.Policies.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies from %s: %w", cfg.Policies.Path, err)
	}

	snapshotsDir, err := store.GetSnapshotsDir(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshots directory: %w", err)
	}
	snapshots, err := snapshot.NewStore(snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	baselinesDir, err := store.GetBaselinesDir(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve baselines directory: %w", err)
	}
	baselines, err := baseline.NewStore(baselinesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline store: %w", err)
	}

	runsDir, err := store.GetRunRecordsDir(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run records directory: %w", err)
	}
	runs, err := pipeline.NewRunRecordStore(runsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run record store: %w", err)
	}

	history, err := openHistory(workspaceID)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(history)
	if err != nil {
		return nil, err
	}

	validator, cls, corr := buildModelBackends()

	retentionEngine, err := buildRetentionEngine(snapshots)
	if err != nil {
		return nil, err
	}

	freshnessWindow, err := config.DurationOrDefault(cfg.Evidence.FreshnessWindow, config.DefaultEvidenceFreshnessWindow)
	if err != nil {
		return nil, fmt.Errorf("parse evidence freshness window: %w", err)
	}

	orchestrator := &pipeline.Orchestrator{
		Snapshots: snapshots,
		Baselines: baselines,
		Runs:      runs,
		Comparer:  pipeline.NewComparer(pipeline.RubricFromConfig(cfg.Compare), cls),
		Notifier:  &notify.PipelineNotifier{Notifier: notifier},
		Validator: validator,
		Corrector: corr,
		Retention: retentionEngine,
		Alerter:   buildAlerter(),

		MaxQueries:      cfg.Evidence.MaxQueries,
		DriftCeiling:    cfg.Monitor.DriftCeiling,
		MinConfidence:   cfg.Evidence.MinConfidence,
		FreshnessWindow: freshnessWindow,
	}

	return &runtimeParts{
		workspaceID:  workspaceID,
		registry:     registry,
		snapshots:    snapshots,
		baselines:    baselines,
		runs:         runs,
		history:      history,
		orchestrator: orchestrator,
	}, nil
}

func openHistory(workspaceID string) (*notify.History, error) {
	notifyDir, err := store.GetNotifyDir(workspaceID, cfg.Daemon.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve notify directory: %w", err)
	}
	history, err := notify.NewHistory(filepath.Join(notifyDir, "history.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open notification history: %w", err)
	}
	return history, nil
}

func buildNotifier(history *notify.History) (*notify.Notifier, error) {
	tr, err := buildTransport()
	if err != nil {
		return nil, err
	}

	maxAttempts := cfg.Notify.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultNotifyMaxAttempts
	}
	backoffBase, err := config.DurationOrDefault(cfg.Notify.BackoffBase, config.DefaultNotifyBackoffBase)
	if err != nil {
		return nil, fmt.Errorf("parse notify backoff base: %w", err)
	}
	backoffCap, err := config.DurationOrDefault(cfg.Notify.BackoffCap, config.DefaultNotifyBackoffCap)
	if err != nil {
		return nil, fmt.Errorf("parse notify backoff cap: %w", err)
	}

	return notify.NewNotifier(tr, history, maxAttempts, backoffBase, backoffCap), nil
}

func buildTransport() (transport.Transport, error) {
	email := cfg.Transports.Email

	mode := strings.ToLower(strings.TrimSpace(email.Mode))
	if mode == "" {
		mode = config.DefaultEmailMode
	}

	switch mode {
	case "mock":
		return transport.NewMockTransport(), nil
	case "gmail":
		timeout, err := config.DurationOrDefault(email.Timeout, config.DefaultEmailTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse email timeout: %w", err)
		}
		return transport.NewGmailTransport(email.From, email.Gmail.Token, email.Gmail.Endpoint, timeout), nil
	case "smtp":
		port := email.SMTP.Port
		if port == 0 {
			port = config.DefaultSMTPPort
		}
		return transport.NewSMTPTransport(email.From, email.SMTP.Host, port, email.SMTP.Username, email.SMTP.Password), nil
	default:
		return nil, fmt.Errorf("unknown email transport mode %q (want mock, gmail, or smtp)", email.Mode)
	}
}

func buildAlerter() transport.Alerter {
	if cfg.Transports.Slack.Enabled {
		return transport.NewSlackAlerter(cfg.Transports.Slack.BotToken, cfg.Transports.Slack.Channel)
	}
	if cfg.Transports.Telegram.Enabled {
		return transport.NewTelegramAlerter(cfg.Transports.Telegram.BotToken, cfg.Transports.Telegram.ChatID)
	}
	return nil
}

// buildModelBackends wires the evidence validator, compare classifier,
// and monitor corrector. A router that cannot initialize is not fatal:
// the pipeline degrades to rubric-only comparison, no evidence gate,
// and the raw capture as candidate.
func buildModelBackends() (evidence.Validator, classifier.Classifier, corrector.Corrector) {
	router, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		slog.Warn("Model router unavailable, running without evidence, classifier, and corrector", "error", err)
		return nil, nil, nil
	}

	queryTimeout, err := config.DurationOrDefault(cfg.Evidence.QueryTimeout, config.DefaultEvidenceQueryTimeout)
	if err != nil {
		slog.Warn("Invalid evidence query timeout, running without evidence", "error", err)
		return nil, nil, nil
	}

	evidenceModel := cfg.Evidence.Model
	if evidenceModel == "" {
		evidenceModel = cfg.Models.Default
	}
	validator := evidence.NewModelValidator(router, evidenceModel, queryTimeout)

	var cls classifier.Classifier
	if cfg.Compare.UseClassifier {
		compareModel := cfg.Compare.Model
		if compareModel == "" {
			compareModel = cfg.Models.Default
		}
		cls = classifier.NewLLMClassifier(router, compareModel)
	}

	var corr corrector.Corrector
	if cfg.Monitor.UseCorrector {
		monitorModel := cfg.Monitor.Model
		if monitorModel == "" {
			monitorModel = cfg.Models.Default
		}
		corr = corrector.NewLLMCorrector(router, monitorModel)
	}

	return validator, cls, corr
}

func buildRetentionEngine(snapshots *snapshot.Store) (*retention.Engine, error) {
	maxAge, err := config.DurationOrDefault(cfg.Retention.MaxAge, config.DefaultRetentionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("parse retention max age: %w", err)
	}
	keepLastN := cfg.Retention.KeepLastN
	if keepLastN < 0 {
		keepLastN = config.DefaultRetentionKeepLastN
	}
	return &retention.Engine{
		Snapshots: snapshots,
		MaxAge:    maxAge,
		KeepLastN: keepLastN,
	}, nil
}
