package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `envPrefix:"DB_"`
	Server   ServerConfig
	Workers  WorkersConfig `envPrefix:"WORKER_"`
	OCR      OCRConfig     `envPrefix:"OCR_"`
	LLM      LLMConfig     `envPrefix:"LLM_"`
	Intake   IntakeConfig  `envPrefix:"INTAKE_"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `env:"DRIVER" envDefault:"sqlite"` // sqlite | postgres
	DSN              string        `env:"URL" envDefault:"file:invoices.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"`
	MaxConns         int32         `env:"MAX_CONNS" envDefault:"20"`
	MinConns         int32         `env:"MIN_CONNS" envDefault:"2"`
	MaxConnLifetime  time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxConnIdleTime  time.Duration `env:"MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" envDefault:"3s"`
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT"`
}

// ServerConfig holds daemon-level configuration
type ServerConfig struct {
	HealthAddr       string        `env:"HEALTH_ADDR" envDefault:":8080"`
	SettingsInterval time.Duration `env:"SETTINGS_POLL_INTERVAL" envDefault:"15s"`
	WorkDir          string        `env:"WORK_DIR"` // page images; empty uses os.TempDir
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
}

// WorkersConfig points at the two helper binaries.
type WorkersConfig struct {
	TextCommand  string        `env:"TEXT_COMMAND" envDefault:"textworker"`
	OCRCommand   string        `env:"OCR_COMMAND" envDefault:"ocrworker"`
	StopGrace    time.Duration `env:"STOP_GRACE" envDefault:"2s"`
	TextMaxPages int           `env:"TEXT_MAX_PAGES" envDefault:"0"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract     string        `env:"TESSERACT" envDefault:"tesseract"`
	Lang          string        `env:"LANG" envDefault:"eng"`
	TessdataDir   string        `env:"TESSDATA_PREFIX"`
	PSM           int           `env:"PSM" envDefault:"6"`
	OEM           int           `env:"OEM" envDefault:"1"`
	HeicConverter string        `env:"HEIC_CONVERTER" envDefault:"magick"`
	RenderDPI     float64       `env:"RENDER_DPI" envDefault:"300"`
	DeepCommand   string        `env:"DEEP_COMMAND"`
	DeepArgs      []string      `env:"DEEP_ARGS" envSeparator:" "`
	DeepTimeout   time.Duration `env:"DEEP_TIMEOUT" envDefault:"5m"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider    string        `env:"PROVIDER" envDefault:"openai"` // openai | gemini
	Model       string        `env:"MODEL"`
	APIKey      string        `env:"API_KEY"`
	BaseURL     string        `env:"BASE_URL"`
	Temperature float32       `env:"TEMPERATURE" envDefault:"0"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"90s"`
	MaxRetries  int           `env:"MAX_RETRIES" envDefault:"3"`
}

// IntakeConfig holds the optional inbox watcher and Redis list consumer.
type IntakeConfig struct {
	InboxDir      string        `env:"INBOX_DIR"`
	StorageDir    string        `env:"STORAGE_DIR" envDefault:"./documents"`
	Debounce      time.Duration `env:"DEBOUNCE" envDefault:"750ms"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisList     string        `env:"REDIS_LIST" envDefault:"invoicepipe:intake"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load() // ignore error if .env doesn't exist
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, &UserError{Op: "parse environment", Err: fmt.Errorf("%w: %w", ErrInvalidInput, err)}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	return &c, nil
}

func defaultModel(provider string) string {
	if strings.EqualFold(provider, "gemini") {
		return "gemini-2.5-flash"
	}
	return "gpt-4o-mini"
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("DB_DRIVER", c.Database.Driver, OneOf("sqlite", "postgres"))
	v.Field("DB_URL", c.Database.DSN, Required)
	v.Field("LLM_PROVIDER", c.LLM.Provider, OneOf("openai", "gemini"))
	v.Field("LLM_API_KEY", c.LLM.APIKey, Required)
	v.Field("WORKER_TEXT_COMMAND", c.Workers.TextCommand, Required)
	v.Field("WORKER_OCR_COMMAND", c.Workers.OCRCommand, Required)
	if err := v.Error(); err != nil {
		return &UserError{Op: "invalid configuration", Err: err}
	}
	return nil
}
