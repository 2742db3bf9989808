package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the application settings that are not owned by a go-core
// package. It implements the common cfg.Registerable and cfg.Validatable
// interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	EnvFile               string
	KnowledgeBasePath     string
	ThinkDelayMS          int
	DatabaseURL           string
	DBMaxConns            int
	DBSlowQueryMS         int
	SlackWebhookURL       string
	APIToken              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.EnvFile, "env-file", "", "optional .env file loaded before reading MEDTRIAGE_* variables")
	fs.StringVar(&c.KnowledgeBasePath, "knowledge-base", "", "path to a knowledge base JSON file (empty = embedded default)")
	fs.IntVar(&c.ThinkDelayMS, "think-delay-ms", 800, "artificial delay before each analysis in milliseconds (0..10000)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..200)")
	fs.IntVar(&c.DBSlowQueryMS, "db-slow-query-ms", 100, "log queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for emergency escalations")
	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens for the session API (empty = unauthenticated)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ThinkDelayMS < 0 || c.ThinkDelayMS > 10000 {
		errs = append(errs, fmt.Errorf("invalid THINK_DELAY_MS %d (must be 0..10000)", c.ThinkDelayMS))
	}

	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, errors.New("DATABASE_URL must be a postgres:// or postgresql:// URL"))
		}
		if c.DBMaxConns <= 0 || c.DBMaxConns > 200 {
			errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..200)", c.DBMaxConns))
		}
		if c.DBSlowQueryMS < 0 {
			errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMS))
		}
	}

	// Slack only accepts https webhooks
	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an https URL"))
		}
	}

	if c.APIToken != "" && len(c.APITokens()) == 0 {
		errs = append(errs, errors.New("API_TOKEN contains no usable tokens"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ThinkDelay returns the artificial analysis delay.
func (c *Config) ThinkDelay() time.Duration {
	return time.Duration(c.ThinkDelayMS) * time.Millisecond
}

// DBSlowQuery returns the slow query logging threshold.
func (c *Config) DBSlowQuery() time.Duration {
	return time.Duration(c.DBSlowQueryMS) * time.Millisecond
}

// APITokens splits APIToken into its non-blank entries.
func (c *Config) APITokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
