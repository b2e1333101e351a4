package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dice-recorder/segment"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "DICE_"

// KeyList is a list of field names. In YAML it accepts either:
//  1. a sequence (preferred):
//     id_keys: [issueId, issue_id]
//  2. a comma-separated scalar:
//     id_keys: issueId,issue_id
//
// Environment variables always use the comma-separated form.
type KeyList []string

func (k *KeyList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		return k.UnmarshalText([]byte(value.Value))
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*k = cleanKeys(items)
		return nil
	default:
		return fmt.Errorf("line %d: key list must be a string or a sequence", value.Line)
	}
}

func (k *KeyList) UnmarshalText(text []byte) error {
	*k = cleanKeys(strings.Split(string(text), ","))
	return nil
}

func cleanKeys(in []string) KeyList {
	out := make(KeyList, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type UpstreamConfig struct {
	// APIURL returns the batch of latest sessions.
	APIURL string `yaml:"api_url" env:"API_URL"`
	// LoginURL is optional. When set, every attempt logs in first and sends
	// the access token as a bearer credential.
	LoginURL  string        `yaml:"login_url" env:"LOGIN_URL"`
	Username  string        `yaml:"username" env:"USERNAME"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DeviceID  string        `yaml:"device_id" env:"DEVICE_ID"`
	SiteKey   string        `yaml:"site_key" env:"SITE_KEY"`
	UserAgent string        `yaml:"user_agent" env:"USER_AGENT"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// BatchKeys are the object keys that may hold the batch array.
	BatchKeys KeyList `yaml:"batch_keys" env:"BATCH_KEYS"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	ConnectAttempts int           `yaml:"connect_attempts" env:"CONNECT_ATTEMPTS"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff" env:"CONNECT_BACKOFF"`
}

type ScheduleConfig struct {
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	// SkipInitialRun waits one full interval before the first cycle.
	SkipInitialRun bool `yaml:"skip_initial_run" env:"SKIP_INITIAL_RUN"`
}

type RecordsConfig struct {
	// IDScheme is integer or dated (<game>-<YYMMDD>-<sequence>).
	IDScheme    string  `yaml:"id_scheme" env:"ID_SCHEME"`
	IDKeys      KeyList `yaml:"id_keys" env:"ID_KEYS"`
	DiceKeys    KeyList `yaml:"dice_keys" env:"DICE_KEYS"`
	ResultKeys  KeyList `yaml:"result_keys" env:"RESULT_KEYS"`
	OutcomeKeys KeyList `yaml:"outcome_keys" env:"OUTCOME_KEYS"`
	DiceMin     int     `yaml:"dice_min" env:"DICE_MIN"`
	DiceMax     int     `yaml:"dice_max" env:"DICE_MAX"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Config is built once at startup and passed by value into each component.
type Config struct {
	Debug    bool           `yaml:"debug" env:"DEBUG"`
	Upstream UpstreamConfig `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Schedule ScheduleConfig `yaml:"schedule" envPrefix:"SCHEDULE_"`
	Records  RecordsConfig  `yaml:"records" envPrefix:"RECORDS_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
}

func DefaultConfig() Config {
	return Config{
		Upstream: UpstreamConfig{
			Timeout:   30 * time.Second,
			UserAgent: "dice-recorder/1.0",
			BatchKeys: KeyList{"list", "data"},
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "dice.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			ConnectAttempts: 5,
			ConnectBackoff:  5 * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval:      time.Hour,
			MaxAttempts:   5,
			RetryInterval: 5 * time.Minute,
		},
		Records: RecordsConfig{
			IDScheme:    segment.SchemeInteger,
			IDKeys:      KeyList(defaultIDKeys),
			DiceKeys:    KeyList(defaultDiceKeys),
			ResultKeys:  KeyList(defaultResultKeys),
			OutcomeKeys: KeyList(defaultOutcomeKeys),
			DiceMin:     1,
			DiceMax:     6,
		},
		HTTP: HTTPConfig{Addr: ":10000"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files, skipping missing ones. Variables
// already present in the environment are not overwritten.
func LoadDotEnv(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// ApplyEnv overrides cfg with DICE_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the whole configuration, upstream included.
func (c Config) Validate() error {
	if err := c.ValidateUpstream(); err != nil {
		return err
	}
	return c.ValidateStorage()
}

// ValidateUpstream checks the upstream and schedule sections.
func (c Config) ValidateUpstream() error {
	if strings.TrimSpace(c.Upstream.APIURL) == "" {
		return fmt.Errorf("upstream.api_url is required")
	}
	for name, raw := range map[string]string{"api_url": c.Upstream.APIURL, "login_url": c.Upstream.LoginURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream.%s %q is not an absolute URL", name, raw)
		}
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}
	if c.Schedule.MaxAttempts <= 0 {
		return fmt.Errorf("schedule.max_attempts must be positive")
	}
	if c.Schedule.RetryInterval < 0 {
		return fmt.Errorf("schedule.retry_interval must not be negative")
	}
	return nil
}

// ValidateStorage checks what the offline commands need: database and
// record settings.
func (c Config) ValidateStorage() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver %q: want %s or %s", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.ConnectAttempts <= 0 {
		return fmt.Errorf("database.connect_attempts must be positive")
	}
	if c.Records.DiceMin > c.Records.DiceMax {
		return fmt.Errorf("records.dice_min %d exceeds dice_max %d", c.Records.DiceMin, c.Records.DiceMax)
	}
	if _, err := segment.SchemeByName(c.Records.IDScheme); err != nil {
		return fmt.Errorf("records.id_scheme: %w", err)
	}
	return nil
}

// Scheme resolves the configured identifier scheme.
func (c Config) Scheme() (segment.Scheme, error) {
	return segment.SchemeByName(c.Records.IDScheme)
}

func (c Config) ParserConfig(scheme segment.Scheme) ParserConfig {
	return ParserConfig{
		IDKeys:      c.Records.IDKeys,
		DiceKeys:    c.Records.DiceKeys,
		ResultKeys:  c.Records.ResultKeys,
		OutcomeKeys: c.Records.OutcomeKeys,
		DiceMin:     c.Records.DiceMin,
		DiceMax:     c.Records.DiceMax,
		Scheme:      scheme,
	}
}

func (c Config) RunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxAttempts:   c.Schedule.MaxAttempts,
		RetryInterval: c.Schedule.RetryInterval,
	}
}
