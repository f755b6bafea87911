package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the YAML file and environment are read.
const (
	// DefaultBrokerURL is the default MQTT broker address.
	DefaultBrokerURL = "tcp://localhost:1883"

	// DefaultDatabasePath is the default SQLite database location.
	DefaultDatabasePath = "/var/lib/graylogic/multidev.db"

	// DefaultHealthInterval is how often health status is published (seconds).
	DefaultHealthInterval = 30
)

// Config is the root configuration for the MultiDevice bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in the MQTT client ID and in health reporting.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// GetHealthInterval returns the health interval as a time.Duration.
func (b BridgeConfig) GetHealthInterval() time.Duration {
	return time.Duration(b.HealthInterval) * time.Second
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Broker is the MQTT broker URL.
	// Example: "tcp://localhost:1883"
	Broker string `yaml:"broker"`

	// ClientID is the MQTT client identifier.
	// Should be unique per bridge instance.
	// Default: bridge.id + "-mqtt"
	ClientID string `yaml:"client_id"`

	// Username for MQTT authentication (optional).
	Username string `yaml:"username"`

	// Password for MQTT authentication (optional).
	// WARNING: Never log this value. Use String() for safe logging.
	Password string `yaml:"password"`

	// QoS is the MQTT quality of service level (0, 1, or 2).
	// Default: 1 (at least once delivery).
	QoS int `yaml:"qos"`

	// KeepAlive is the MQTT keep-alive interval (seconds).
	// Default: 60 seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout is the maximum time to wait for the initial
	// broker connection (seconds). Default: 10 seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// String returns a string representation with the password masked.
// Use this for logging to prevent credential exposure.
func (m MQTTConfig) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTConfig{Broker:%q, ClientID:%q, Username:%q, Password:%s, QoS:%d}",
		m.Broker, m.ClientID, m.Username, password, m.QoS)
}

// MarshalJSON implements json.Marshaler to redact the password in JSON
// output. This prevents accidental password exposure in logs.
func (m MQTTConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTConfig
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// GetConnectTimeout returns the connect timeout as a time.Duration.
func (m MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// DatabaseConfig contains SQLite settings for the value history store.
type DatabaseConfig struct {
	// Path is the SQLite database file location.
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy timeout (milliseconds).
	// Default: 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// RetentionDays is how long recorded values are kept before the
	// periodic trim removes them. 0 disables trimming.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains optional telemetry sink settings.
// When Enabled is false the bridge records no time-series telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the operational status endpoint settings.
// The endpoint is read-only; disabling it removes the HTTP listener
// entirely.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// ReadTimeout / WriteTimeout are HTTP server timeouts (seconds).
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
}

// GetReadTimeout returns the read timeout as a time.Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.WriteTimeout) * time.Second
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is the log output format: json or text.
	// Default: json
	Format string `yaml:"format"`

	// Output is the log destination: stdout or stderr.
	// Default: stdout
	Output string `yaml:"output"`
}

// DeviceConfig defines one managed device.
//
// Transport selection: if Transport is empty the bridge infers the type
// from the settings present (port implies the HTTP client, serial_port
// implies the serial client, neither implies the no-op transport).
// Set Transport explicitly for anything beyond the simplest HTTP case.
type DeviceConfig struct {
	// Name uniquely identifies the device within this bridge.
	// Used in MQTT topics, the status API, and the value store.
	Name string `yaml:"name"`

	// Transport selects the connection type:
	// none, http, tcp, tcpserver, udpserver, websocket, serial.
	// Empty means infer from the other settings.
	Transport string `yaml:"transport"`

	// Host is the device network address (http, tcp, websocket).
	// For tcpserver/udpserver it is the local bind address.
	Host string `yaml:"host"`

	// Port is the device network port, or the local listen port for
	// the server transports.
	Port int `yaml:"port"`

	// SerialPort is the serial device path (e.g. /dev/ttyUSB0).
	SerialPort string `yaml:"serial_port"`

	// Baudrate is the serial line speed. The line itself must be
	// configured out of band (stty or udev); the value is kept with
	// the device so operators see the full serial contract here.
	Baudrate int `yaml:"baudrate"`

	// Path is the URL path for the websocket transport ("/" if
	// empty).
	Path string `yaml:"path"`

	// Timeout is the per-exchange transport timeout (seconds).
	// Default: 5 seconds.
	Timeout int `yaml:"timeout"`

	// CommandKind is the default command variant for this device's
	// command table: "text" (templated payload strings, the default)
	// or "data" (opcode plus converter-encoded value field).
	CommandKind string `yaml:"command_kind"`

	// CommandsFile is the path to the device's YAML command table.
	CommandsFile string `yaml:"commands_file"`

	// Params holds free-form string parameters available to command
	// templates via $P:key: substitution. Merged with the explicit
	// settings above (host, port, serial_port) which are always
	// available under those names.
	Params map[string]string `yaml:"params"`

	// Poll wires commands into the read paths.
	Poll PollConfig `yaml:"poll"`
}

// GetTimeout returns the exchange timeout as a time.Duration.
func (d DeviceConfig) GetTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// SubstitutionParams returns the merged parameter map used for command
// template substitution: explicit connection settings first, then
// free-form params (free-form keys win so devices can override).
func (d DeviceConfig) SubstitutionParams() map[string]string {
	merged := make(map[string]string, len(d.Params)+4)
	if d.Host != "" {
		merged["host"] = d.Host
	}
	if d.Port != 0 {
		merged["port"] = fmt.Sprintf("%d", d.Port)
	}
	if d.SerialPort != "" {
		merged["serial_port"] = d.SerialPort
	}
	merged["name"] = d.Name
	for k, v := range d.Params {
		merged[k] = v
	}
	return merged
}

// PollConfig wires a device's commands into the bridge read paths.
type PollConfig struct {
	// ReadAllOnStart triggers a full read of every read-wired
	// command after the device starts.
	ReadAllOnStart bool `yaml:"read_all_on_start"`

	// Initial lists commands read once at startup, in order.
	Initial []string `yaml:"initial"`

	// Read lists commands included in read-all batches.
	Read []string `yaml:"read"`

	// Cyclic lists periodically polled commands, in order. Order is
	// the registration order used within one scheduler firing.
	Cyclic []CyclicEntry `yaml:"cyclic"`
}

// CyclicEntry is one periodically polled command.
type CyclicEntry struct {
	// Command is the command name from the device's command table.
	Command string `yaml:"command"`

	// Period is the polling cycle in seconds. Must be at least 1.
	Period int `yaml:"period"`
}

// GetPeriod returns the cycle period as a time.Duration.
func (c CyclicEntry) GetPeriod() time.Duration {
	return time.Duration(c.Period) * time.Second
}

// Load reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MULTIDEV_SECTION_KEY
// For example: MULTIDEV_MQTT_BROKER, MULTIDEV_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "multidev-bridge-01",
			HealthInterval: DefaultHealthInterval,
		},
		MQTT: MQTTConfig{
			Broker:         DefaultBrokerURL,
			QoS:            1,
			KeepAlive:      60,
			ConnectTimeout: 10,
		},
		Database: DatabaseConfig{
			Path:          DefaultDatabasePath,
			BusyTimeout:   5000,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8493,
			ReadTimeout:  10,
			WriteTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Environment variables follow the pattern: MULTIDEV_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MULTIDEV_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	if v := os.Getenv("MULTIDEV_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("MULTIDEV_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MULTIDEV_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	if v := os.Getenv("MULTIDEV_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MULTIDEV_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("MULTIDEV_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateInfluxDB()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.connect_timeout must be at least 1 second")
	}
	return errs
}

func (c *Config) validateDatabase() []string {
	var errs []string
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}
	return errs
}

func (c *Config) validateInfluxDB() []string {
	var errs []string
	if !c.InfluxDB.Enabled {
		return errs
	}
	if c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.InfluxDB.Token == "" {
		errs = append(errs, "influxdb.token is required when influxdb is enabled")
	}
	if c.InfluxDB.Org == "" {
		errs = append(errs, "influxdb.org is required when influxdb is enabled")
	}
	if c.InfluxDB.Bucket == "" {
		errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
	}
	return errs
}

func (c *Config) validateAPI() []string {
	var errs []string
	if !c.API.Enabled {
		return errs
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not recognised", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not recognised", c.Logging.Format))
	}
	return errs
}

func (c *Config) validateDevices() []string {
	var errs []string
	names := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
			continue
		}
		// Names become MQTT topic segments; separators and wildcards
		// would corrupt the topic tree.
		if strings.ContainsAny(dev.Name, "/+# \t") {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q contains characters not allowed in MQTT topics", i, dev.Name))
		}
		if names[dev.Name] {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicate", i, dev.Name))
		}
		names[dev.Name] = true

		if dev.CommandsFile == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].commands_file is required", i))
		}
		if dev.Port < 0 || dev.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 0 and 65535", i))
		}
		if dev.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].timeout must not be negative", i))
		}

		for j, cyc := range dev.Poll.Cyclic {
			if cyc.Command == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].poll.cyclic[%d].command is required", i, j))
			}
			if cyc.Period < 1 {
				errs = append(errs, fmt.Sprintf("devices[%d].poll.cyclic[%d].period must be at least 1 second", i, j))
			}
		}
	}

	return errs
}
