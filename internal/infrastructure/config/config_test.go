package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "multidev.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  id: "multidev-test"
mqtt:
  broker: "tcp://broker.local:1883"
  username: "bridge"
database:
  path: "/tmp/multidev-test.db"
devices:
  - name: "aircon"
    transport: "http"
    host: "192.168.1.40"
    port: 80
    commands_file: "commands/aircon.yaml"
    poll:
      cyclic:
        - command: "temperature"
          period: 30
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "multidev-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "multidev-test")
	}
	if cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("MQTT.Broker = %q, want %q", cfg.MQTT.Broker, "tcp://broker.local:1883")
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(cfg.Devices))
	}
	if cfg.Devices[0].Poll.Cyclic[0].GetPeriod() != 30*time.Second {
		t.Errorf("cyclic period = %v, want 30s", cfg.Devices[0].Poll.Cyclic[0].GetPeriod())
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	content := `
devices: []
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker != DefaultBrokerURL {
		t.Errorf("MQTT.Broker = %q, want default %q", cfg.MQTT.Broker, DefaultBrokerURL)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Bridge.HealthInterval != DefaultHealthInterval {
		t.Errorf("Bridge.HealthInterval = %d, want %d", cfg.Bridge.HealthInterval, DefaultHealthInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/multidev.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "devices: [not: closed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MULTIDEV_MQTT_BROKER", "tcp://override:1883")
	t.Setenv("MULTIDEV_BRIDGE_ID", "env-bridge")

	cfg, err := Load(writeConfig(t, `
mqtt:
  broker: "tcp://file:1883"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker != "tcp://override:1883" {
		t.Errorf("MQTT.Broker = %q, want env override", cfg.MQTT.Broker)
	}
	if cfg.Bridge.ID != "env-bridge" {
		t.Errorf("Bridge.ID = %q, want env override", cfg.Bridge.ID)
	}
}

func TestValidate_DuplicateDeviceNames(t *testing.T) {
	content := `
devices:
  - name: "thermo"
    commands_file: "a.yaml"
  - name: "thermo"
    commands_file: "b.yaml"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for duplicate device names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error = %v, want mention of duplicate", err)
	}
}

func TestValidate_CyclicPeriod(t *testing.T) {
	content := `
devices:
  - name: "thermo"
    commands_file: "a.yaml"
    poll:
      cyclic:
        - command: "temperature"
          period: 0
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for zero cyclic period, got nil")
	}
}

func TestValidate_InfluxRequiredWhenEnabled(t *testing.T) {
	content := `
influxdb:
  enabled: true
  url: "http://localhost:8086"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for incomplete influxdb config, got nil")
	}
	if !strings.Contains(err.Error(), "influxdb.token") {
		t.Errorf("error = %v, want mention of influxdb.token", err)
	}
}

func TestMQTTConfig_StringRedactsPassword(t *testing.T) {
	m := MQTTConfig{Broker: "tcp://b:1883", Username: "u", Password: "secret"}

	s := m.String()
	if strings.Contains(s, "secret") {
		t.Errorf("String() leaked password: %s", s)
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Errorf("String() missing redaction marker: %s", s)
	}
}

func TestDeviceConfig_SubstitutionParams(t *testing.T) {
	d := DeviceConfig{
		Name: "aircon",
		Host: "192.168.1.40",
		Port: 8080,
		Params: map[string]string{
			"api_key": "abc123",
			"host":    "overridden.local",
		},
	}

	params := d.SubstitutionParams()

	if params["api_key"] != "abc123" {
		t.Errorf("params[api_key] = %q, want %q", params["api_key"], "abc123")
	}
	if params["port"] != "8080" {
		t.Errorf("params[port] = %q, want %q", params["port"], "8080")
	}
	// Free-form params win over the derived connection settings.
	if params["host"] != "overridden.local" {
		t.Errorf("params[host] = %q, want override", params["host"])
	}
	if params["name"] != "aircon" {
		t.Errorf("params[name] = %q, want %q", params["name"], "aircon")
	}
}
