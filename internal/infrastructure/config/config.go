package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole logger configuration as read from YAML.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sources   []SourceConfig  `yaml:"sources"`
	Outputs   []OutputConfig  `yaml:"outputs"`
}

// SiteConfig identifies the logger installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite store used by sqlite outputs and
// the record history API. BusyTimeout is in seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig is the broker shared by mqtt sources and outputs. QoS is
// the default for publishes that do not set their own.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig addresses the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials; both may be empty.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds automatic reconnection. Delays are in
// seconds and MaxAttempts 0 retries forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout is Read in seconds as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout is Write in seconds as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout is Idle in seconds as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CORSConfig lists browser origins allowed to call the API and open
// the live view. An empty list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket live-view settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig is the time-series store behind influxdb outputs.
// FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, json or text format and destination.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig is used when Output is "file".
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EngineConfig contains logging engine settings.
type EngineConfig struct {
	// Delimiter joins source and variable names when a collision is
	// resolved. Default "_".
	Delimiter string `yaml:"delimiter"`

	// PrefixAll prefixes every variable with its source name.
	PrefixAll bool `yaml:"prefix_all"`

	// NullPolicy is "keep" (explicit nulls) or "omit".
	NullPolicy string `yaml:"null_policy"`

	TimestampKey    string `yaml:"timestamp_key"`
	TimestampFormat string `yaml:"timestamp_format"`

	ParallelReads bool `yaml:"parallel_reads"`

	// SourceTimeout is the per-source read timeout in seconds. 0 disables it.
	SourceTimeout int `yaml:"source_timeout"`

	// Rename is source -> output -> variable -> effective name.
	Rename any `yaml:"rename"`

	// Conversion is source -> output -> variable -> type name.
	Conversion any `yaml:"conversion"`
}

// SchedulerConfig selects and configures the scheduling discipline.
type SchedulerConfig struct {
	// Mode is "interval" or "event".
	Mode string `yaml:"mode"`

	// Interval between cycles in interval mode.
	Interval time.Duration `yaml:"interval"`

	// Duration of the run in interval mode. 0 runs until stopped.
	Duration time.Duration `yaml:"duration"`

	// TriggerSource names the mqtt source whose messages trigger cycles in
	// event mode.
	TriggerSource string `yaml:"trigger_source"`

	QueueSize              int  `yaml:"queue_size"`
	DrainOnStop            bool `yaml:"drain_on_stop"`
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures"`
}

// Scheduler modes.
const (
	ModeInterval = "interval"
	ModeEvent    = "event"
)

// Source types.
const (
	SourceRandom       = "random"
	SourceRandomString = "random_string"
	SourceMQTT         = "mqtt"
	SourceHTTPJSON     = "http_json"
)

// Output types.
const (
	OutputCSV       = "csv"
	OutputMQTT      = "mqtt"
	OutputInfluxDB  = "influxdb"
	OutputSQLite    = "sqlite"
	OutputWebSocket = "websocket"
)

// SourceConfig configures one source. Fields beyond Name and Type apply to
// the types noted.
type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// random, random_string
	Size             int     `yaml:"size"`
	KeyMissingRate   float64 `yaml:"key_missing_rate"`
	ValueMissingRate float64 `yaml:"value_missing_rate"`
	StrLength        int     `yaml:"str_length"`
	Seed             int64   `yaml:"seed"`

	// mqtt
	Topics []string `yaml:"topics"`
	QoS    int      `yaml:"qos"`

	// http_json
	URL     string            `yaml:"url"`
	Paths   map[string]string `yaml:"paths"`
	Headers map[string]string `yaml:"headers"`
	Timeout int               `yaml:"timeout"`
}

// OutputConfig configures one output. Fields beyond Name and Type apply to
// the types noted.
type OutputConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// csv
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`

	// mqtt
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`

	// influxdb
	Measurement string            `yaml:"measurement"`
	Tags        map[string]string `yaml:"tags"`

	// websocket
	Channel string `yaml:"channel"`
}

// Load reads the YAML file at path and returns the validated
// configuration. Values in the file replace the defaults, and
// GRAYLOGGER_* environment variables replace both.
//
// Parameters:
//   - path: YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file is unreadable, malformed or invalid
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, with defaults, environment
// overrides and validation applied as in Load.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is the configuration before the file is applied.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "logger-001",
			Name: "Gray Logic Logger",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogger.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogger",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Engine: EngineConfig{
			Delimiter:       "_",
			NullPolicy:      "keep",
			TimestampKey:    "Time",
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Scheduler: SchedulerConfig{
			Mode:      ModeInterval,
			Interval:  time.Second,
			QueueSize: 64,
		},
	}
}

// envPrefix starts every environment override, e.g. GRAYLOGGER_API_PORT.
const envPrefix = "GRAYLOGGER_"

// envOverrides maps variable names, without envPrefix, to the field each
// one sets. Unparseable numbers and durations are ignored.
func envOverrides(cfg *Config) map[string]func(string) {
	return map[string]func(string){
		"DATABASE_PATH":      func(v string) { cfg.Database.Path = v },
		"MQTT_HOST":          func(v string) { cfg.MQTT.Broker.Host = v },
		"MQTT_PORT":          func(v string) { setInt(&cfg.MQTT.Broker.Port, v) },
		"MQTT_USERNAME":      func(v string) { cfg.MQTT.Auth.Username = v },
		"MQTT_PASSWORD":      func(v string) { cfg.MQTT.Auth.Password = v },
		"API_HOST":           func(v string) { cfg.API.Host = v },
		"API_PORT":           func(v string) { setInt(&cfg.API.Port, v) },
		"INFLUXDB_URL":       func(v string) { cfg.InfluxDB.URL = v },
		"INFLUXDB_TOKEN":     func(v string) { cfg.InfluxDB.Token = v },
		"INFLUXDB_ORG":       func(v string) { cfg.InfluxDB.Org = v },
		"INFLUXDB_BUCKET":    func(v string) { cfg.InfluxDB.Bucket = v },
		"LOG_LEVEL":          func(v string) { cfg.Logging.Level = v },
		"LOG_FORMAT":         func(v string) { cfg.Logging.Format = v },
		"SCHEDULER_INTERVAL": func(v string) { setDuration(&cfg.Scheduler.Interval, v) },
		"SCHEDULER_DURATION": func(v string) { setDuration(&cfg.Scheduler.Duration, v) },
	}
}

func applyEnvOverrides(cfg *Config) {
	for name, set := range envOverrides(cfg) {
		if v := os.Getenv(envPrefix + name); v != "" {
			set(v)
		}
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Validate reports every problem in the configuration at once. The
// returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error

	if c.Site.ID == "" {
		errs = append(errs, errors.New("site.id is required"))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateSources()...)
	errs = append(errs, c.validateOutputs()...)
	errs = append(errs, c.validateScheduler()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (c *Config) validateEngine() []error {
	var errs []error
	switch c.Engine.NullPolicy {
	case "keep", "omit":
	default:
		errs = append(errs, fmt.Errorf("engine.null_policy must be keep or omit, got %q", c.Engine.NullPolicy))
	}
	if c.Engine.TimestampKey == "" {
		errs = append(errs, errors.New("engine.timestamp_key is required"))
	}
	if c.Engine.SourceTimeout < 0 {
		errs = append(errs, errors.New("engine.source_timeout must not be negative"))
	}
	return errs
}

func (c *Config) validateSources() []error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		key := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			errs = append(errs, errors.New(key+".name is required"))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", key, s.Name))
		}
		seen[s.Name] = true

		switch s.Type {
		case SourceRandom, SourceRandomString:
			if s.Size < 1 {
				errs = append(errs, errors.New(key+".size must be at least 1"))
			}
			if s.KeyMissingRate < 0 || s.KeyMissingRate > 1 || s.ValueMissingRate < 0 || s.ValueMissingRate > 1 {
				errs = append(errs, errors.New(key+" missing rates must be between 0 and 1"))
			}
		case SourceMQTT:
			if len(s.Topics) == 0 {
				errs = append(errs, errors.New(key+".topics is required for mqtt sources"))
			}
			if s.QoS < 0 || s.QoS > 2 {
				errs = append(errs, errors.New(key+".qos must be 0, 1, or 2"))
			}
		case SourceHTTPJSON:
			if s.URL == "" {
				errs = append(errs, errors.New(key+".url is required for http_json sources"))
			}
			if len(s.Paths) == 0 {
				errs = append(errs, errors.New(key+".paths is required for http_json sources"))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type %q is not a known source type", key, s.Type))
		}
	}
	return errs
}

func (c *Config) validateOutputs() []error {
	var errs []error
	if len(c.Outputs) == 0 {
		errs = append(errs, errors.New("at least one output is required"))
	}
	seen := make(map[string]bool, len(c.Outputs))
	for i, o := range c.Outputs {
		key := fmt.Sprintf("outputs[%d]", i)
		if o.Name == "" {
			errs = append(errs, errors.New(key+".name is required"))
		} else if seen[o.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", key, o.Name))
		}
		seen[o.Name] = true

		switch o.Type {
		case OutputCSV:
			if o.Path == "" {
				errs = append(errs, errors.New(key+".path is required for csv outputs"))
			}
		case OutputMQTT:
			if o.QoS < 0 || o.QoS > 2 {
				errs = append(errs, errors.New(key+".qos must be 0, 1, or 2"))
			}
		case OutputInfluxDB:
			if !c.InfluxDB.Enabled {
				errs = append(errs, errors.New(key+" requires influxdb.enabled"))
			}
		case OutputSQLite:
			if c.Database.Path == "" {
				errs = append(errs, errors.New(key+" requires database.path"))
			}
		case OutputWebSocket:
			if !c.API.Enabled {
				errs = append(errs, errors.New(key+" requires api.enabled"))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type %q is not a known output type", key, o.Type))
		}
	}
	return errs
}

func (c *Config) validateScheduler() []error {
	var errs []error
	switch c.Scheduler.Mode {
	case ModeInterval:
		if c.Scheduler.Interval <= 0 {
			errs = append(errs, errors.New("scheduler.interval must be positive"))
		}
		if c.Scheduler.Duration < 0 {
			errs = append(errs, errors.New("scheduler.duration must not be negative"))
		}
	case ModeEvent:
		src, ok := c.Source(c.Scheduler.TriggerSource)
		switch {
		case c.Scheduler.TriggerSource == "":
			errs = append(errs, errors.New("scheduler.trigger_source is required in event mode"))
		case !ok:
			errs = append(errs, fmt.Errorf("scheduler.trigger_source %q is not a configured source", c.Scheduler.TriggerSource))
		case src.Type != SourceMQTT:
			errs = append(errs, fmt.Errorf("scheduler.trigger_source %q must be an mqtt source", c.Scheduler.TriggerSource))
		}
		if c.Scheduler.QueueSize < 1 {
			errs = append(errs, errors.New("scheduler.queue_size must be at least 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("scheduler.mode must be interval or event, got %q", c.Scheduler.Mode))
	}
	if c.Scheduler.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("scheduler.max_consecutive_failures must not be negative"))
	}
	return errs
}

// Source returns the source configuration with the given name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// UsesMQTT reports whether any source or output needs the MQTT broker.
func (c *Config) UsesMQTT() bool {
	for _, s := range c.Sources {
		if s.Type == SourceMQTT {
			return true
		}
	}
	for _, o := range c.Outputs {
		if o.Type == OutputMQTT {
			return true
		}
	}
	return false
}

// UsesDatabase reports whether any output needs the SQLite database.
func (c *Config) UsesDatabase() bool {
	for _, o := range c.Outputs {
		if o.Type == OutputSQLite {
			return true
		}
	}
	return false
}

// SourceTimeout bounds a single source read; zero means no bound.
func (c *Config) SourceTimeout() time.Duration {
	return seconds(c.Engine.SourceTimeout)
}
