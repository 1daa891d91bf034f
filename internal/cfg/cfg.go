package cfg

import (
	"errors"
	"flag"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Roles select which parts of the process run. RoleAll runs everything;
// the others split the workflow across processes sharing one database.
const (
	RoleAll     = "all"
	RoleIngest  = "ingest"
	RoleNotify  = "notify"
	RoleDeliver = "deliver"
	RoleAPI     = "api"
)

var roles = []string{RoleAll, RoleIngest, RoleNotify, RoleDeliver, RoleAPI}

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	Role                  string

	DatabaseURL string
	DBMaxConns  int
	SQLitePath  string

	LarkAppID     string
	LarkAppSecret string

	OperatorIDs string
	APITokens   string

	NotifyInterval   time.Duration
	DeliverInterval  time.Duration
	PruneInterval    time.Duration
	BatchSize        int
	SendTimeout      time.Duration
	SendRPS          float64
	MaxMessageLength int
	SummaryTextLimit int
	TaskCacheTTL     time.Duration

	TasksFile       string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.Role, "role", RoleAll, "which loops to run: all, ingest, notify, deliver or api")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "PostgreSQL pool size (1..100)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")

	fs.StringVar(&c.LarkAppID, "lark-app-id", "", "Lark/Feishu app id")
	fs.StringVar(&c.LarkAppSecret, "lark-app-secret", "", "Lark/Feishu app secret")

	fs.StringVar(&c.OperatorIDs, "operator-ids", "", "comma separated open_ids that receive alert summaries and may administer the allow-list")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated token=operator_id pairs for the HTTP API and MCP tools")

	fs.DurationVar(&c.NotifyInterval, "notify-interval", 4*time.Second, "interval between notify cycles")
	fs.DurationVar(&c.DeliverInterval, "deliver-interval", 5*time.Second, "interval between delivery cycles")
	fs.DurationVar(&c.PruneInterval, "prune-interval", 10*time.Minute, "interval between full message history prunes")
	fs.IntVar(&c.BatchSize, "batch-size", 200, "alerts taken per notify or delivery cycle (1..1000)")
	fs.DurationVar(&c.SendTimeout, "send-timeout", 15*time.Second, "timeout for each chat platform call")
	fs.Float64Var(&c.SendRPS, "send-rps", 5, "outbound chat messages per second")
	fs.IntVar(&c.MaxMessageLength, "max-message-length", 4096, "outbound message length limit in characters")
	fs.IntVar(&c.SummaryTextLimit, "summary-text-limit", 800, "characters of the duplicate text quoted in summaries")
	fs.DurationVar(&c.TaskCacheTTL, "task-cache-ttl", 30*time.Second, "how long cached tasks are served before reloading (0 = until invalidated)")

	fs.StringVar(&c.TasksFile, "tasks-file", "", "YAML file of tasks created at startup when missing")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL that mirrors alert summaries")
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

	if !slices.Contains(roles, c.Role) {
		errs = append(errs, fmt.Errorf("invalid ROLE %q (must be one of %s)", c.Role, strings.Join(roles, ", ")))
	}

	// one store backend at most; split roles need one they can share
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}
	if c.Role != RoleAll && c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, fmt.Errorf("ROLE %q requires DATABASE_URL or SQLITE_PATH", c.Role))
	}
	if c.DBMaxConns < 1 || c.DBMaxConns > 100 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
	}

	// every role except api talks to the chat platform
	if c.Role != RoleAPI && (c.LarkAppID == "" || c.LarkAppSecret == "") {
		errs = append(errs, errors.New("LARK_APP_ID and LARK_APP_SECRET are required"))
	}

	for name, d := range map[string]time.Duration{
		"NOTIFY_INTERVAL":  c.NotifyInterval,
		"DELIVER_INTERVAL": c.DeliverInterval,
		"PRUNE_INTERVAL":   c.PruneInterval,
		"SEND_TIMEOUT":     c.SendTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %s (must be positive)", name, d))
		}
	}
	if c.TaskCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid TASK_CACHE_TTL %s (must not be negative)", c.TaskCacheTTL))
	}

	if c.BatchSize < 1 || c.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("invalid BATCH_SIZE %d (must be 1..1000)", c.BatchSize))
	}
	if c.SendRPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid SEND_RPS %g (must be positive)", c.SendRPS))
	}
	if c.MaxMessageLength < 16 {
		errs = append(errs, fmt.Errorf("invalid MAX_MESSAGE_LENGTH %d (must be at least 16)", c.MaxMessageLength))
	}
	if c.SummaryTextLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid SUMMARY_TEXT_LIMIT %d (must be positive)", c.SummaryTextLimit))
	}

	if _, err := c.Tokens(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Operators returns the configured operator ids.
func (c *Config) Operators() []string {
	var out []string
	for _, id := range strings.Split(c.OperatorIDs, ",") {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Tokens parses APITokens into a token to operator map.
func (c *Config) Tokens() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.APITokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, op, ok := strings.Cut(pair, "=")
		tok, op = strings.TrimSpace(tok), strings.TrimSpace(op)
		if !ok || tok == "" || op == "" {
			return nil, errors.New("invalid API_TOKENS entry (want token=operator_id)")
		}
		if _, dup := out[tok]; dup {
			return nil, errors.New("invalid API_TOKENS: duplicate token")
		}
		out[tok] = op
	}
	return out, nil
}

// Runs reports whether the configured role includes role.
func (c *Config) Runs(role string) bool {
	return c.Role == RoleAll || c.Role == role
}
