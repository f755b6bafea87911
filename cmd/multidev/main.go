// Gray Logic MultiDevice Bridge
//
// This is the main entry point for the MultiDevice bridge. The bridge
// connects devices speaking ad-hoc text or binary protocols (HTTP,
// TCP, UDP, WebSocket, serial) to Gray Logic Core over MQTT, driven
// entirely by per-device YAML command tables:
//   - Command tables define payloads, templates and reply decoding
//   - Decoded values are published as retained state messages
//   - Value history lives in SQLite, telemetry optionally in InfluxDB
//
// Besides the bridge itself the binary has two utility modes:
//   - multidev -validate: check config and command tables, then exit
//   - multidev -standalone <device>: run one device's read sequence
//     without MQTT or scheduler and print the decoded values
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-multidev/migrations"

	"github.com/nerrad567/gray-logic-multidev/internal/api"
	"github.com/nerrad567/gray-logic-multidev/internal/command"
	"github.com/nerrad567/gray-logic-multidev/internal/device"
	"github.com/nerrad567/gray-logic-multidev/internal/hub"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-multidev/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-multidev/internal/schedule"
	"github.com/nerrad567/gray-logic-multidev/internal/store"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/multidev.yaml"

// Command-line flags. The config path can also come from the
// MULTIDEV_CONFIG environment variable; the flag wins.
var (
	flagConfig     = flag.String("config", "", "path to the configuration file")
	flagValidate   = flag.Bool("validate", false, "validate config and command tables, then exit")
	flagStandalone = flag.String("standalone", "", "run one device without MQTT, print values, exit")
)

func main() {
	flag.Parse()

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *flagValidate:
		err = runValidate()
	case *flagStandalone != "":
		err = runStandalone(*flagStandalone)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MultiDevice bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, cfg.Bridge.ID, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     true,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	valueStore := store.NewSQLite(db.DB)

	// Connect to MQTT with the bridge LWT registered, so Core marks
	// the bridge offline if it vanishes without a clean disconnect
	will, err := buildWill(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", cfg.MQTT.Broker,
		"client_id", cfg.MQTT.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var telemetry hub.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scheduler for cyclic polls and the value store trim job.
	// Stopped after the hub, when device jobs are already deregistered.
	sched := schedule.New(log)
	defer sched.Stop()

	// Build and start the hub
	bridgeHub, err := hub.NewHub(hub.Options{
		Config:    cfg,
		MQTT:      &mqttHubAdapter{client: mqttClient},
		Store:     valueStore,
		Telemetry: telemetry,
		Scheduler: sched,
		Logger:    log,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}
	if startErr := bridgeHub.Start(ctx); startErr != nil {
		return fmt.Errorf("starting hub: %w", startErr)
	}
	defer func() {
		log.Info("stopping hub")
		bridgeHub.Stop()
	}()

	// Start the status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Status:  bridgeHub,
			Store:   valueStore,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. Hub (devices stopped, retained "stopping" health published)
	// 3. Scheduler
	// 4. InfluxDB (if enabled)
	// 5. MQTT (clean disconnect suppresses the LWT)
	// 6. Database

	log.Info("MultiDevice bridge stopped")
	return nil
}

// runValidate loads the configuration and every referenced command
// table, building each device's registry to surface template and
// pattern errors. Problems go to stderr; a non-nil return makes main
// exit non-zero.
func runValidate() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var problems []string
	for _, dc := range cfg.Devices {
		problems = append(problems, validateDevice(dc)...)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  %s\n", p)
		}
		return fmt.Errorf("%d problem(s) in %s", len(problems), configPath)
	}

	fmt.Printf("%s: configuration valid (%d devices)\n", configPath, len(cfg.Devices))
	return nil
}

// validateDevice checks one device's command table and poll wiring.
// Table or registry failures end the check early; the remaining poll
// entries could not be judged without a registry.
func validateDevice(dc config.DeviceConfig) []string {
	defs, err := command.LoadDefinitions(dc.CommandsFile)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", dc.Name, err)}
	}

	kind, err := command.ParseKind(dc.CommandKind)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", dc.Name, err)}
	}

	reg, err := command.NewRegistry(dc.Name, defs, command.RegistryOptions{
		DefaultKind: kind,
		Params:      dc.SubstitutionParams(),
	})
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", dc.Name, err)}
	}

	var problems []string
	for _, name := range dc.Poll.Initial {
		if !reg.IsValid(name, command.ModeRead) {
			problems = append(problems, fmt.Sprintf("%s: initial command %q is not readable", dc.Name, name))
		}
	}
	for _, name := range dc.Poll.Read {
		if !reg.IsValid(name, command.ModeRead) {
			problems = append(problems, fmt.Sprintf("%s: read command %q is not readable", dc.Name, name))
		}
	}
	for _, entry := range dc.Poll.Cyclic {
		if !reg.IsValid(entry.Command, command.ModeRead) {
			problems = append(problems, fmt.Sprintf("%s: cyclic command %q is not readable", dc.Name, entry.Command))
		}
		if entry.Period < 1 {
			problems = append(problems, fmt.Sprintf("%s: cyclic command %q needs a period of at least 1s", dc.Name, entry.Command))
		}
	}
	return problems
}

// runStandalone constructs one configured device without MQTT or a
// scheduler, runs its initial and read-all sequence, prints the
// decoded values to stdout and exits. Intended for bench testing a
// command table against real hardware.
func runStandalone(name string) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, cfg.Bridge.ID, version)

	var dc *config.DeviceConfig
	for i := range cfg.Devices {
		if cfg.Devices[i].Name == name {
			dc = &cfg.Devices[i]
			break
		}
	}
	if dc == nil {
		return fmt.Errorf("device %q is not configured in %s", name, configPath)
	}

	defs, err := command.LoadDefinitions(dc.CommandsFile)
	if err != nil {
		return fmt.Errorf("load command table: %w", err)
	}
	kind, err := command.ParseKind(dc.CommandKind)
	if err != nil {
		return fmt.Errorf("command kind: %w", err)
	}

	dev, err := device.New(device.Options{
		Name: dc.Name,
		Settings: device.Settings{
			Type: dc.Transport,
			Transport: transport.Config{
				Host:       dc.Host,
				Port:       dc.Port,
				SerialPort: dc.SerialPort,
				Baudrate:   dc.Baudrate,
				Path:       dc.Path,
				Timeout:    dc.GetTimeout(),
			},
			Params:      dc.SubstitutionParams(),
			DefaultKind: kind,
		},
		Definitions: defs,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	// Decoded values go straight to stdout instead of MQTT. Cyclic
	// entries are ignored; there is no scheduler to run them.
	err = dev.SetRuntimeData(device.RuntimeData{
		Callback: func(_, command string, value any) {
			fmt.Printf("%s = %v\n", command, value)
		},
		ReadCommands:    dc.Poll.Read,
		InitialCommands: dc.Poll.Initial,
		ReadAllOnStart:  true,
	})
	if err != nil {
		return fmt.Errorf("wire device: %w", err)
	}

	if err := dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	defer dev.Stop()

	if !dev.Connected() {
		return fmt.Errorf("device %q did not connect", name)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Precedence: -config flag, MULTIDEV_CONFIG environment variable,
// then the default.
func getConfigPath() string {
	if *flagConfig != "" {
		return *flagConfig
	}
	if path := os.Getenv("MULTIDEV_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildWill constructs the MQTT Last Will and Testament from the
// hub's LWT message. The broker publishes it if the bridge drops off
// without a clean disconnect.
func buildWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(hub.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, err
	}
	return &mqtt.Will{
		Topic:    hub.HealthTopic(),
		Payload:  payload,
		QoS:      1,
		Retained: true,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Device health is tracked by the hub's reporter - devices that
	// fail to connect degrade the published status, they do not fail
	// startup.

	return nil
}

// mqttHubAdapter adapts the infrastructure MQTT client to the hub's
// MQTTClient interface. The difference is the Subscribe handler
// signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Hub expects: func(topic string, payload []byte)
type mqttHubAdapter struct {
	client *mqtt.Client
}

// Publish implements hub.MQTTClient.
func (a *mqttHubAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements hub.MQTTClient.
func (a *mqttHubAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (hub handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements hub.MQTTClient.
func (a *mqttHubAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
