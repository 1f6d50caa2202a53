package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validContent = `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
engine:
  delimiter: "."
  null_policy: omit
  rename:
    rand1:
      csv:
        RandData0: pressure
  conversion:
    rand1:
      csv:
        RandData0: string
scheduler:
  mode: interval
  interval: 500ms
  duration: 1m
sources:
  - name: rand1
    type: random
    size: 3
    key_missing_rate: 0.1
  - name: weather
    type: http_json
    url: "http://localhost:9000/weather"
    paths:
      temp: "main.temp"
outputs:
  - name: csv
    type: csv
    path: "/tmp/logs/run.csv"
    delimiter: ","
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Scheduler.Interval != 500*time.Millisecond {
		t.Errorf("Scheduler.Interval = %v, want 500ms", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Duration != time.Minute {
		t.Errorf("Scheduler.Duration = %v, want 1m", cfg.Scheduler.Duration)
	}
	if cfg.Engine.Delimiter != "." || cfg.Engine.NullPolicy != "omit" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Engine.TimestampKey != "Time" {
		t.Errorf("Engine.TimestampKey = %q, default should be kept", cfg.Engine.TimestampKey)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0].Size != 3 || cfg.Sources[1].Paths["temp"] != "main.temp" {
		t.Errorf("Sources = %+v", cfg.Sources)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0].Delimiter != "," {
		t.Errorf("Outputs = %+v", cfg.Outputs)
	}

	rename, ok := cfg.Engine.Rename.(map[string]any)
	if !ok {
		t.Fatalf("Engine.Rename is %T, want map[string]any", cfg.Engine.Rename)
	}
	if _, ok := rename["rand1"]; !ok {
		t.Errorf("Engine.Rename = %v, want rand1 key", rename)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
sources:
  - name: a
    type: random
    size: 1
outputs:
  - name: b
    type: csv
    path: /tmp/x.csv
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

// validConfig returns a minimal configuration that passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Sources = []SourceConfig{{Name: "rand1", Type: SourceRandom, Size: 2}}
	cfg.Outputs = []OutputConfig{{Name: "csv", Type: OutputCSV, Path: "/tmp/out.csv"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "port ignored when api disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
		{
			name:    "no sources",
			mutate:  func(c *Config) { c.Sources = nil },
			wantErr: "at least one source",
		},
		{
			name: "duplicate source name",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, SourceConfig{Name: "rand1", Type: SourceRandomString, Size: 1})
			},
			wantErr: "not unique",
		},
		{
			name:    "unknown source type",
			mutate:  func(c *Config) { c.Sources[0].Type = "serial" },
			wantErr: "not a known source type",
		},
		{
			name:    "random without size",
			mutate:  func(c *Config) { c.Sources[0].Size = 0 },
			wantErr: "size",
		},
		{
			name:    "missing rate out of range",
			mutate:  func(c *Config) { c.Sources[0].ValueMissingRate = 1.5 },
			wantErr: "missing rates",
		},
		{
			name: "http_json without paths",
			mutate: func(c *Config) {
				c.Sources[0] = SourceConfig{Name: "w", Type: SourceHTTPJSON, URL: "http://x"}
			},
			wantErr: "paths",
		},
		{
			name:    "csv without path",
			mutate:  func(c *Config) { c.Outputs[0].Path = "" },
			wantErr: "path is required",
		},
		{
			name:    "influxdb output without influxdb",
			mutate:  func(c *Config) { c.Outputs[0] = OutputConfig{Name: "tsdb", Type: OutputInfluxDB} },
			wantErr: "influxdb.enabled",
		},
		{
			name: "websocket output without api",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.Outputs[0] = OutputConfig{Name: "live", Type: OutputWebSocket}
			},
			wantErr: "api.enabled",
		},
		{
			name:    "bad null policy",
			mutate:  func(c *Config) { c.Engine.NullPolicy = "drop" },
			wantErr: "null_policy",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Scheduler.Interval = 0 },
			wantErr: "scheduler.interval",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Scheduler.Mode = "cron" },
			wantErr: "scheduler.mode",
		},
		{
			name: "event mode without trigger source",
			mutate: func(c *Config) {
				c.Scheduler.Mode = ModeEvent
			},
			wantErr: "trigger_source is required",
		},
		{
			name: "event mode with non-mqtt trigger",
			mutate: func(c *Config) {
				c.Scheduler.Mode = ModeEvent
				c.Scheduler.TriggerSource = "rand1"
			},
			wantErr: "must be an mqtt source",
		},
		{
			name: "event mode with mqtt trigger",
			mutate: func(c *Config) {
				c.Sources = append(c.Sources, SourceConfig{Name: "bus", Type: SourceMQTT, Topics: []string{"sensors/#"}})
				c.Scheduler.Mode = ModeEvent
				c.Scheduler.TriggerSource = "bus"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = 5
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "mqtt.qos") {
		t.Errorf("Validate() should report every problem, got %v", err)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Engine: EngineConfig{SourceTimeout: 2},
	}

	timeouts := cfg.API.Timeouts
	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := timeouts.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v, want 1m", got)
	}
	if got := cfg.SourceTimeout(); got != 2*time.Second {
		t.Errorf("SourceTimeout() = %v, want 2s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		env   string
		value string
		got   func(*Config) any
		want  any
	}{
		{"DATABASE_PATH", "/custom/path.db", func(c *Config) any { return c.Database.Path }, "/custom/path.db"},
		{"MQTT_HOST", "mqtt.example.com", func(c *Config) any { return c.MQTT.Broker.Host }, "mqtt.example.com"},
		{"MQTT_PORT", "8883", func(c *Config) any { return c.MQTT.Broker.Port }, 8883},
		{"MQTT_USERNAME", "testuser", func(c *Config) any { return c.MQTT.Auth.Username }, "testuser"},
		{"MQTT_PASSWORD", "testpass", func(c *Config) any { return c.MQTT.Auth.Password }, "testpass"},
		{"API_HOST", "192.168.1.1", func(c *Config) any { return c.API.Host }, "192.168.1.1"},
		{"API_PORT", "9999", func(c *Config) any { return c.API.Port }, 9999},
		{"API_PORT", "not-a-port", func(c *Config) any { return c.API.Port }, 8090},
		{"INFLUXDB_TOKEN", "secret-token", func(c *Config) any { return c.InfluxDB.Token }, "secret-token"},
		{"INFLUXDB_BUCKET", "plant", func(c *Config) any { return c.InfluxDB.Bucket }, "plant"},
		{"LOG_LEVEL", "debug", func(c *Config) any { return c.Logging.Level }, "debug"},
		{"SCHEDULER_INTERVAL", "250ms", func(c *Config) any { return c.Scheduler.Interval }, 250 * time.Millisecond},
		{"SCHEDULER_INTERVAL", "soon", func(c *Config) any { return c.Scheduler.Interval }, time.Second},
		{"SCHEDULER_DURATION", "1h", func(c *Config) any { return c.Scheduler.Duration }, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(envPrefix+tt.env, tt.value)
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			if got := tt.got(cfg); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.env, got, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides_EmptyIgnored(t *testing.T) {
	t.Setenv(envPrefix+"DATABASE_PATH", "")
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Database.Path != defaultConfig().Database.Path {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if cfg.Scheduler.Mode != ModeInterval || cfg.Scheduler.Interval != time.Second {
		t.Errorf("defaultConfig Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Engine.Delimiter != "_" || cfg.Engine.TimestampKey != "Time" {
		t.Errorf("defaultConfig Engine = %+v", cfg.Engine)
	}
}

func TestConfig_Uses(t *testing.T) {
	cfg := validConfig()
	if cfg.UsesMQTT() || cfg.UsesDatabase() {
		t.Error("csv-only config should not need mqtt or database")
	}
	cfg.Outputs = append(cfg.Outputs,
		OutputConfig{Name: "bus", Type: OutputMQTT},
		OutputConfig{Name: "archive", Type: OutputSQLite},
	)
	if !cfg.UsesMQTT() || !cfg.UsesDatabase() {
		t.Error("UsesMQTT/UsesDatabase should detect outputs")
	}
}
