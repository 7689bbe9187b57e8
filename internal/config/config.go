package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/kanshi/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Models     ModelsConfig     `koanf:"models"`
	Policies   PoliciesConfig   `koanf:"policies"`
	Evidence   EvidenceConfig   `koanf:"evidence"`
	Monitor    MonitorConfig    `koanf:"monitor"`
	Compare    CompareConfig    `koanf:"compare"`
	Notify     NotifyConfig     `koanf:"notify"`
	Transports TransportsConfig `koanf:"transports"`
	Store      StoreConfig      `koanf:"store"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Retention  RetentionConfig  `koanf:"retention"`
	Daemon     DaemonConfig     `koanf:"daemon"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type PoliciesConfig struct {
	Path string `koanf:"path"`
}

type EvidenceConfig struct {
	Model           string  `koanf:"model"`
	MinConfidence   float64 `koanf:"min_confidence"`
	FreshnessWindow string  `koanf:"freshness_window"`
	QueryTimeout    string  `koanf:"query_timeout"`
	MaxQueries      int     `koanf:"max_queries"`
}

type MonitorConfig struct {
	DriftCeiling float64 `koanf:"drift_ceiling"`
	UseCorrector bool    `koanf:"use_corrector"`
	Model        string  `koanf:"model"`
}

type CompareConfig struct {
	UseClassifier     bool     `koanf:"use_classifier"`
	Model             string   `koanf:"model"`
	MandatoryKeywords []string `koanf:"mandatory_keywords"`
	PenaltyKeywords   []string `koanf:"penalty_keywords"`
	WordingKeywords   []string `koanf:"wording_keywords"`
	QuantHighRatio    float64  `koanf:"quant_high_ratio"`
}

type NotifyConfig struct {
	MaxAttempts int    `koanf:"max_attempts"`
	BackoffBase string `koanf:"backoff_base"`
	BackoffCap  string `koanf:"backoff_cap"`
	DryRun      bool   `koanf:"dry_run"`
}

type TransportsConfig struct {
	Email    EmailTransportConfig `koanf:"email"`
	Slack    SlackAlertConfig     `koanf:"slack"`
	Telegram TelegramAlertConfig  `koanf:"telegram"`
}

type EmailTransportConfig struct {
	Mode    string     `koanf:"mode"` // "gmail", "smtp", "mock"
	From    string     `koanf:"from"`
	Timeout string     `koanf:"timeout"`
	Gmail   GmailAuth  `koanf:"gmail"`
	SMTP    SMTPConfig `koanf:"smtp"`
}

type GmailAuth struct {
	Token    string `koanf:"token"`
	Endpoint string `koanf:"endpoint"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type SlackAlertConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type TelegramAlertConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type SchedulerConfig struct {
	TickInterval         string `koanf:"tick_interval"`
	ShutdownTimeout      string `koanf:"shutdown_timeout"`
	LeaseDuration        string `koanf:"lease_duration"`
	MaxCatchupRuns       int    `koanf:"max_catchup_runs"`
	InFlightPollInterval string `koanf:"in_flight_poll_interval"`
}

type RetentionConfig struct {
	MaxAge    string `koanf:"max_age"`
	KeepLastN int    `koanf:"keep_last_n"`
	Interval  string `koanf:"interval"`
}

type DaemonConfig struct {
	WorkspacePath       string `koanf:"workspace_path"`
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
	StaleLockTTL        string `koanf:"stale_lock_ttl"`
}

const (
	DefaultServerLogLevel                = "info"
	DefaultModelDefault                  = "gemini-2.0-flash"
	DefaultModelFallback                 = "gpt-4-turbo"
	DefaultModelMaxFallbackAttempts      = 2
	DefaultModelRequestTimeout           = "120s"
	DefaultOpenAIBaseURL                 = "https://api.openai.com/v1"
	DefaultOllamaBaseURL                 = "http://localhost:11434/v1"
	DefaultOllamaAPIKey                  = "ollama"
	DefaultEvidenceModel                 = ""
	DefaultEvidenceMinConfidence         = 0.6
	DefaultEvidenceFreshnessWindow       = "720h"
	DefaultEvidenceQueryTimeout          = "30s"
	DefaultEvidenceMaxQueries            = 3
	DefaultMonitorDriftCeiling           = 0.35
	DefaultCompareUseClassifier          = true
	DefaultMonitorUseCorrector           = true
	DefaultCompareQuantHighRatio         = 0.5
	DefaultNotifyMaxAttempts             = 3
	DefaultNotifyBackoffBase             = "1s"
	DefaultNotifyBackoffCap              = "30s"
	DefaultEmailMode                     = "mock"
	DefaultEmailTimeout                  = "15s"
	DefaultGmailEndpoint                 = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"
	DefaultSMTPPort                      = 587
	DefaultStoreLockTimeout              = "30s"
	DefaultStoreLockRetry                = "100ms"
	DefaultStoreLockMaxRetry             = 300
	DefaultSchedulerTickInterval         = "1m"
	DefaultSchedulerShutdownTimeout      = "30s"
	DefaultSchedulerLeaseDuration        = "5m"
	DefaultSchedulerMaxCatchupRuns       = 1
	DefaultSchedulerInFlightPollInterval = "100ms"
	DefaultRetentionMaxAge               = "720h"
	DefaultRetentionKeepLastN            = 20
	DefaultRetentionInterval             = "1h"
	DefaultDaemonShutdownTimeout         = "30s"
	DefaultDaemonHealthCheckInterval     = "30s"
	DefaultDaemonStaleLockTTL            = "15m"
)

var DefaultMandatoryKeywords = []string{"must", "required", "mandatory", "shall", "prohibited", "forbidden"}
var DefaultPenaltyKeywords = []string{"penalty", "penalties", "fine", "fines", "enforcement", "sanction", "violation", "illegal"}
var DefaultWordingKeywords = []string{"clarification", "clarified", "reworded", "formatting", "typo"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.log_level":              DefaultServerLogLevel,
		"models.default":                DefaultModelDefault,
		"models.fallback":               DefaultModelFallback,
		"models.max_fallback_attempts":  DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "gemini"},
			{Name: DefaultModelFallback, Provider: "openai"},
		},
		"policies.path":                 filepath.Join(os.Getenv("HOME"), ".kanshi", "policies.yaml"),
		"evidence.model":                DefaultEvidenceModel,
		"evidence.min_confidence":       DefaultEvidenceMinConfidence,
		"evidence.freshness_window":     DefaultEvidenceFreshnessWindow,
		"evidence.query_timeout":        DefaultEvidenceQueryTimeout,
		"evidence.max_queries":          DefaultEvidenceMaxQueries,
		"monitor.drift_ceiling":         DefaultMonitorDriftCeiling,
		"monitor.use_corrector":         DefaultMonitorUseCorrector,
		"monitor.model":                 "",
		"compare.use_classifier":        DefaultCompareUseClassifier,
		"compare.model":                 "",
		"compare.mandatory_keywords":    DefaultMandatoryKeywords,
		"compare.penalty_keywords":      DefaultPenaltyKeywords,
		"compare.wording_keywords":      DefaultWordingKeywords,
		"compare.quant_high_ratio":      DefaultCompareQuantHighRatio,
		"notify.max_attempts":           DefaultNotifyMaxAttempts,
		"notify.backoff_base":           DefaultNotifyBackoffBase,
		"notify.backoff_cap":            DefaultNotifyBackoffCap,
		"notify.dry_run":                false,
		"transports.email.mode":         DefaultEmailMode,
		"transports.email.timeout":      DefaultEmailTimeout,
		"transports.email.gmail.endpoint": DefaultGmailEndpoint,
		"transports.email.smtp.port":    DefaultSMTPPort,
		"store.lock_timeout":            DefaultStoreLockTimeout,
		"store.lock_retry":              DefaultStoreLockRetry,
		"store.lock_max_retry":          DefaultStoreLockMaxRetry,
		"scheduler.tick_interval":       DefaultSchedulerTickInterval,
		"scheduler.shutdown_timeout":    DefaultSchedulerShutdownTimeout,
		"scheduler.lease_duration":      DefaultSchedulerLeaseDuration,
		"scheduler.max_catchup_runs":    DefaultSchedulerMaxCatchupRuns,
		"scheduler.in_flight_poll_interval": DefaultSchedulerInFlightPollInterval,
		"retention.max_age":             DefaultRetentionMaxAge,
		"retention.keep_last_n":         DefaultRetentionKeepLastN,
		"retention.interval":            DefaultRetentionInterval,
		"daemon.workspace_path":         filepath.Join(os.Getenv("HOME"), ".kanshi", "workspaces"),
		"daemon.shutdown_timeout":       DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":  DefaultDaemonHealthCheckInterval,
		"daemon.stale_lock_ttl":         DefaultDaemonStaleLockTTL,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".kanshi", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("KANSHI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KANSHI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := expandConfiguredPath(cfg.Daemon.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Daemon.WorkspacePath = workspacePath
	}

	policiesPath, err := expandConfiguredPath(cfg.Policies.Path)
	if err != nil {
		return err
	}
	if policiesPath != "" {
		cfg.Policies.Path = policiesPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
