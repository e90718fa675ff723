package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultModel is used when neither the chat row nor the request names a model.
	DefaultModel = "gemini-3-pro-preview"

	defaultPort           = 3002
	defaultBackendURL     = "http://localhost:3001"
	defaultMaxToolSteps   = 12
	defaultBackendTimeout = 60 * time.Second
	defaultDBPath         = "treasury-agent.db"
)

// DefaultSystemPrompt is the system instruction applied to chats that do not
// carry their own prompt.
const DefaultSystemPrompt = "You are an AI financial assistant for AutoWealth that helps users manage their " +
	"treasury and make purchases. You have access to tools for checking balances, " +
	"viewing transaction history, browsing vendors, and making purchases.\n\n" +
	"IMPORTANT RULES:\n" +
	"1. ALWAYS use tools to get real-time data. NEVER rely on previous conversation " +
	"context for values like balances, prices, or transaction status.\n" +
	"2. When asked about balance, ALWAYS call get_treasury_balance - never quote old values.\n" +
	"3. When making purchases, first check the balance, then execute the purchase.\n" +
	"4. Never create or update spending policies without explicit user approval.\n" +
	"5. Be concise but informative in your responses.\n" +
	"6. If a tool call fails, explain the error to the user.\n" +
	"7. The ONLY supported policy rules are: maxPerTransaction, dailyLimit, monthlyBudget, vendorWhitelist, categoryLimit. " +
	"Do not ask for or mention unsupported fields like currency or approval workflows.\n" +
	"8. When the user explicitly approves a policy (e.g., 'yes', 'apply it', 'make it'), " +
	"you MUST call create_policy with the agreed rules.\n" +
	"9. Do not reveal internal reasoning in the final response. Thoughts must only appear in the thoughts channel.\n" +
	"10. For x402 micropayment demos, ALWAYS use this URL: http://localhost:3001/api/payments/x402/demo/paid-content\n" +
	"   DO NOT use api.demo.com or any other placeholder URLs - they don't exist."

// Config is the on-disk configuration for treasury-agent.
//
// NOTE: This file may contain secrets (API keys). Keep it chmod 0600.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port,omitempty"`

	// BackendURL is the base URL of the financial backend API.
	BackendURL string `yaml:"backend_url,omitempty"`

	// GoogleAIAPIKey authenticates against the Gemini API. When empty the
	// service still starts; model-backed endpoints return a configuration
	// error instead.
	GoogleAIAPIKey string `yaml:"google_ai_api_key,omitempty"`

	// Model is the default Gemini model id.
	Model string `yaml:"model,omitempty"`

	// MaxToolSteps bounds the tool-call loop. Acts as the circuit breaker
	// against tool-call ping-pong.
	MaxToolSteps int `yaml:"max_tool_steps,omitempty"`

	// BackendTimeoutSeconds is the per-request timeout for backend calls.
	BackendTimeoutSeconds int `yaml:"backend_timeout_seconds,omitempty"`

	// DBPath is the SQLite database path for chats, messages, policies and
	// transactions.
	DBPath string `yaml:"db_path,omitempty"`

	// AuditDir is the directory for the append-only audit log. Empty disables
	// file auditing.
	AuditDir string `yaml:"audit_dir,omitempty"`

	// AllowedOrigins is the CORS allowlist for browser clients.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`
}

func Default() *Config {
	return &Config{
		Port:                  defaultPort,
		BackendURL:            defaultBackendURL,
		Model:                 DefaultModel,
		MaxToolSteps:          defaultMaxToolSteps,
		BackendTimeoutSeconds: int(defaultBackendTimeout / time.Second),
		DBPath:                defaultDBPath,
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://localhost:4173",
		},
		LogFormat: "json",
		LogLevel:  "info",
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("missing backend_url")
	}
	if c.MaxToolSteps <= 0 {
		return errors.New("max_tool_steps must be positive")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("missing db_path")
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	return nil
}

func (c *Config) BackendTimeout() time.Duration {
	if c == nil || c.BackendTimeoutSeconds <= 0 {
		return defaultBackendTimeout
	}
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// Load reads the YAML config at path (missing file is fine, defaults apply),
// then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults + env only
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_URL")); v != "" {
		c.BackendURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_AI_API_KEY")); v != "" {
		c.GoogleAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		c.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_TOOL_STEPS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxToolSteps = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BackendTimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TREASURY_AGENT_DB")); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("TREASURY_AGENT_AUDIT_DIR")); v != "" {
		c.AuditDir = v
	}
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
}
