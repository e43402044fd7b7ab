package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ESStats/internal/domain/models"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Backend struct {
		Type string `yaml:"type" default:"postgres" validate:"oneof=postgres clickhouse memory"`
	} `yaml:"backend"`
	Postgres struct {
		URL             string        `yaml:"url"`
		Host            string        `yaml:"host" default:"localhost"`
		Port            int           `yaml:"port" default:"5432"`
		User            string        `yaml:"user" default:"esstats"`
		Password        string        `yaml:"password"`
		Database        string        `yaml:"database" default:"esstats"`
		SSLMode         string        `yaml:"sslmode" default:"disable"`
		MaxConns        int32         `yaml:"max_conns" default:"10"`
		MinConns        int32         `yaml:"min_conns" default:"2"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"5s"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host        string        `yaml:"host" default:"localhost"`
		Port        int           `yaml:"port" default:"9000"`
		Database    string        `yaml:"database" default:"esstats"`
		User        string        `yaml:"user" default:"default"`
		Password    string        `yaml:"password"`
		DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout time.Duration `yaml:"read_timeout" default:"30s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		AuditTopic   string   `yaml:"audit_topic" default:"esstats.imports.audit"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		MaxAttempts  int      `yaml:"max_attempts" default:"3"`
	} `yaml:"kafka"`
	Cache struct {
		TTL   time.Duration `yaml:"ttl" default:"30s"`
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Import struct {
		InputTimezone      string `yaml:"input_timezone" default:"America/Chicago"`
		MergePolicy        string `yaml:"merge_policy" default:"skip" validate:"oneof=skip overwrite"`
		BarIntervalSeconds int    `yaml:"bar_interval_seconds" default:"60"`
	} `yaml:"import"`
	Windows struct {
		X         WindowConfig `yaml:"x"`
		Y         WindowConfig `yaml:"y"`
		OrderRule string       `yaml:"order_rule" default:"y_ends_before_x_start" validate:"oneof=any y_ends_before_x_start"`
	} `yaml:"windows"`
	MissingPolicy struct {
		Mode       string  `yaml:"mode" default:"allow_missing_up_to" validate:"oneof=strict allow_missing_up_to"`
		XTolerance float64 `yaml:"x_tolerance" default:"0.1" validate:"gte=0,lte=1"`
		YTolerance float64 `yaml:"y_tolerance" default:"0.1" validate:"gte=0,lte=1"`
	} `yaml:"missing_policy"`
}

// WindowConfig is one minute-of-day window on the CT trading date. The
// zero value is invalid; SetDefaults fills the RTH/ON pair when the whole
// windows block is omitted.
type WindowConfig struct {
	Name        string `yaml:"name"`
	StartMinute int    `yaml:"start_minute" validate:"gte=0,lt=1440"`
	EndMinute   int    `yaml:"end_minute" validate:"gte=0,lt=1440"`
}

// SetDefaults implements the defaults.Setter hook: an omitted windows
// block falls back to the RTH day window and the overnight window.
func (c *Config) SetDefaults() {
	if c.Windows.X == (WindowConfig{}) {
		c.Windows.X = WindowConfig{Name: "RTH", StartMinute: 510, EndMinute: 959}
	}
	if c.Windows.Y == (WindowConfig{}) {
		c.Windows.Y = WindowConfig{Name: "ON", StartMinute: 1020, EndMinute: 509}
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse unmarshals YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Default returns the configuration with every field at its default.
func Default() (*Config, error) {
	return Parse([]byte("{}"))
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ES_STATS_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("ES_STATS_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("ES_STATS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("ES_STATS_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse ES_STATS_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_AUDIT_TOPIC"); v != "" {
		c.Kafka.AuditTopic = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags first, then the cross-field rules the tags
// cannot express: the window pair ordering and the missing-data policy.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}

	x, y, rule, err := c.AnalysisWindows()
	if err != nil {
		return err
	}
	if err := models.ValidatePair(x, y, rule); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.DefaultMergePolicy(); err != nil {
		return err
	}
	return nil
}

// AnalysisWindows converts the windows block into validated domain specs.
func (c *Config) AnalysisWindows() (x, y models.WindowSpec, rule models.WindowOrderRule, err error) {
	x, err = models.NewWindowSpec(models.AnchorTradingDateCT, c.Windows.X.StartMinute, c.Windows.X.EndMinute, c.Windows.X.Name)
	if err != nil {
		return x, y, rule, fmt.Errorf("windows.x: %w", err)
	}
	y, err = models.NewWindowSpec(models.AnchorTradingDateCT, c.Windows.Y.StartMinute, c.Windows.Y.EndMinute, c.Windows.Y.Name)
	if err != nil {
		return x, y, rule, fmt.Errorf("windows.y: %w", err)
	}
	switch c.Windows.OrderRule {
	case "any":
		rule = models.OrderAny
	case "y_ends_before_x_start":
		rule = models.OrderYEndsBeforeXStart
	default:
		return x, y, rule, fmt.Errorf("unsupported windows.order_rule: %q", c.Windows.OrderRule)
	}
	return x, y, rule, nil
}

// Policy converts the missing_policy block into the domain policy.
func (c *Config) Policy() (models.MissingPolicy, error) {
	var mode models.MissingPolicyMode
	switch c.MissingPolicy.Mode {
	case "strict":
		mode = models.PolicyStrict
	case "allow_missing_up_to":
		mode = models.PolicyAllowMissingUpTo
	default:
		return models.MissingPolicy{}, fmt.Errorf("unsupported missing_policy.mode: %q", c.MissingPolicy.Mode)
	}
	xTol, yTol := c.MissingPolicy.XTolerance, c.MissingPolicy.YTolerance
	if mode == models.PolicyStrict {
		xTol, yTol = 0, 0
	}
	return models.NewMissingPolicy(mode, xTol, yTol)
}

// DefaultMergePolicy is the policy used when the CLI does not pass one.
func (c *Config) DefaultMergePolicy() (models.MergePolicy, error) {
	return models.ParseMergePolicy(c.Import.MergePolicy)
}
