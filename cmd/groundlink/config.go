package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/mqttpub"
	"github.com/signalsfoundry/groundlink/internal/session"
	"github.com/signalsfoundry/groundlink/model"
)

// Config is the daemon configuration. It can be loaded from YAML with
// --config; flags given on the command line override file values.
type Config struct {
	APIAddress     string          `yaml:"api_address"`
	MetricsAddress string          `yaml:"metrics_address"`
	StreamTag      string          `yaml:"stream_tag"`
	PlanTimeout    time.Duration   `yaml:"plan_timeout"`
	StopTimeout    time.Duration   `yaml:"stop_timeout"`
	LogLevel       string          `yaml:"log_level"`
	LogFormat      string          `yaml:"log_format"`
	Session        session.Config  `yaml:"session"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	CommandFolder  string          `yaml:"command_folder"`
	MQTT           mqttpub.Config  `yaml:"mqtt"`
}

// TelemetryConfig selects where received frames come from. Frames are
// fixed-size files replayed from InputFolder in name order.
type TelemetryConfig struct {
	InputFolder      string        `yaml:"input_folder"`
	FrameLen         int           `yaml:"frame_len"`
	Framing          model.Framing `yaml:"framing"`
	InterPacketDelay time.Duration `yaml:"inter_packet_delay"`
}

func defaultConfig() Config {
	return Config{
		APIAddress:     "localhost:50051",
		MetricsAddress: ":9090",
		PlanTimeout:    10 * time.Second,
		StopTimeout:    30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
		Session: session.Config{
			Doppler:          doppler.Config{CorrectionsPerSecond: 1},
			RelayPollTimeout: time.Second,
		},
	}
}

// Validate checks settings the daemon needs before any connection is made.
func (c Config) Validate() error {
	var errs []error
	if c.APIAddress == "" {
		errs = append(errs, errors.New("api address is required"))
	}
	if c.Session.Doppler.GroundStationID == "" {
		errs = append(errs, errors.New("ground station id is required"))
	}
	if c.Session.Doppler.PlanID == "" {
		errs = append(errs, errors.New("plan id is required"))
	}
	if c.Telemetry.InputFolder != "" && c.Telemetry.FrameLen <= 0 {
		errs = append(errs, errors.New("telemetry frame length must be positive"))
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// parseConfig builds the configuration from defaults, an optional YAML file
// and explicitly set flags, in that order.
func parseConfig(args []string) (Config, error) {
	flags := defaultConfig()
	fs := pflag.NewFlagSet("groundlink", pflag.ContinueOnError)

	configPath := fs.String("config", "", "Path to a YAML configuration file")
	fs.StringVar(&flags.APIAddress, "api-addr", flags.APIAddress, "Ground-station API gRPC endpoint (host:port)")
	fs.StringVar(&flags.MetricsAddress, "metrics-addr", flags.MetricsAddress, "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&flags.StreamTag, "stream-tag", "", "Stream tag sent when activating the telemetry stream (default random)")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "Log format: text, json, pretty")
	fs.StringVar(&flags.Session.Doppler.GroundStationID, "ground-station-id", "", "Ground station ID")
	fs.StringVar(&flags.Session.Doppler.PlanID, "plan-id", "", "Plan ID of the pass to track")
	fs.Float64Var(&flags.Session.Doppler.DownlinkHz, "downlink-hz", 0, "Nominal downlink frequency in Hz")
	fs.Float64Var(&flags.Session.Doppler.UplinkHz, "uplink-hz", 0, "Nominal uplink frequency in Hz")
	fs.IntVar(&flags.Session.Doppler.CorrectionsPerSecond, "corrections-per-second", 1, "Doppler corrections published per second")
	fs.BoolVar(&flags.Session.Doppler.Verbose, "verbose", false, "Log every published Doppler correction")
	fs.StringVar(&flags.Telemetry.InputFolder, "telemetry-dir", "", "Folder of received frame files to relay")
	fs.IntVar(&flags.Telemetry.FrameLen, "frame-len", 0, "Size in bytes of each telemetry frame file")
	fs.StringVar(&flags.CommandFolder, "command-dir", "", "Folder commands from the API are written to (default: log only)")
	fs.StringVar(&flags.MQTT.Broker, "mqtt-broker", "", "MQTT broker URL for Doppler and telemetry publishing")
	framing := fs.String("framing", "BITSTREAM", "Telemetry framing: BITSTREAM, AX25, IQ")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	var flagErr error
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "api-addr":
			cfg.APIAddress = flags.APIAddress
		case "metrics-addr":
			cfg.MetricsAddress = flags.MetricsAddress
		case "stream-tag":
			cfg.StreamTag = flags.StreamTag
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "log-format":
			cfg.LogFormat = flags.LogFormat
		case "ground-station-id":
			cfg.Session.Doppler.GroundStationID = flags.Session.Doppler.GroundStationID
		case "plan-id":
			cfg.Session.Doppler.PlanID = flags.Session.Doppler.PlanID
		case "downlink-hz":
			cfg.Session.Doppler.DownlinkHz = flags.Session.Doppler.DownlinkHz
		case "uplink-hz":
			cfg.Session.Doppler.UplinkHz = flags.Session.Doppler.UplinkHz
		case "corrections-per-second":
			cfg.Session.Doppler.CorrectionsPerSecond = flags.Session.Doppler.CorrectionsPerSecond
		case "verbose":
			cfg.Session.Doppler.Verbose = flags.Session.Doppler.Verbose
		case "telemetry-dir":
			cfg.Telemetry.InputFolder = flags.Telemetry.InputFolder
		case "frame-len":
			cfg.Telemetry.FrameLen = flags.Telemetry.FrameLen
		case "command-dir":
			cfg.CommandFolder = flags.CommandFolder
		case "mqtt-broker":
			cfg.MQTT.Broker = flags.MQTT.Broker
		case "framing":
			flagErr = cfg.Telemetry.Framing.UnmarshalText([]byte(*framing))
		}
	})
	if flagErr != nil {
		return Config{}, flagErr
	}

	cfg.Session.Doppler.ApplyDefaults()
	if cfg.MQTT.Broker != "" {
		cfg.MQTT.ApplyDefaults()
	}
	return cfg, cfg.Validate()
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
