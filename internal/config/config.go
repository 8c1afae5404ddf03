package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hudlink/hudlink/internal/transport"
	"github.com/hudlink/hudlink/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "hudlink.cfg.json"

// JournalConfig holds connection journal settings
type JournalConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Type     string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	Path     string `json:"path" mapstructure:"path"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds stats sink settings
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// ReconnectConfig controls the CLI's retry-after-drop policy.
type ReconnectConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Delay   time.Duration `json:"delay" mapstructure:"delay"`
}

// MonitorConfig controls the periodic status file.
type MonitorConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
}

// SimMarker is a simulated map item placed relative to self.
type SimMarker struct {
	ID       string  `json:"id" mapstructure:"id"`
	Name     string  `json:"name" mapstructure:"name"`
	Type     string  `json:"type" mapstructure:"type"`
	IconPath string  `json:"iconPath" mapstructure:"iconPath"`
	RangeM   float64 `json:"rangeM" mapstructure:"rangeM"`
	Bearing  float64 `json:"bearing" mapstructure:"bearing"`
}

// SimConfig holds the simulated map settings
type SimConfig struct {
	Self          string      `json:"self" mapstructure:"self"`
	Zoom          float64     `json:"zoom" mapstructure:"zoom"`
	TurnRateDegPS float64     `json:"turnRate" mapstructure:"turnRate"`
	Markers       []SimMarker `json:"markers" mapstructure:"markers"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./hudlinklogs")

	viper.SetDefault("stream.deviceAddress", "")
	viper.SetDefault("stream.updateRateMs", 500)
	viper.SetDefault("stream.enablePoi", true)
	viper.SetDefault("stream.enableMap", true)
	viper.SetDefault("stream.enableCompass", true)
	viper.SetDefault("stream.maxDistanceM", 1000)
	viper.SetDefault("stream.mode", "aggregated")
	viper.SetDefault("stream.defaultPort", int(core.DefaultTCPPort))

	viper.SetDefault("transport.dialTimeout", "0s")
	viper.SetDefault("transport.writeTimeout", "5s")
	viper.SetDefault("transport.keepAlive", "15s")
	viper.SetDefault("transport.rfcommChannel", 1)
	viper.SetDefault("transport.sendQueue", 64)
	viper.SetDefault("transport.framing", "raw")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "hudlink")
	viper.SetDefault("influx.bucket", "hudlink_stream")
	viper.SetDefault("influx.backupDir", "")

	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.type", "sqlite")
	viper.SetDefault("journal.path", "./hudlink_journal.db")
	viper.SetDefault("journal.host", "localhost")
	viper.SetDefault("journal.port", "5432")
	viper.SetDefault("journal.username", "postgres")
	viper.SetDefault("journal.password", "postgres")
	viper.SetDefault("journal.database", "hudlink")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "hudlink")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("reconnect.enabled", false)
	viper.SetDefault("reconnect.delay", "5s")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("sim.self", "48.137,11.575,519")
	viper.SetDefault("sim.zoom", 15)
	viper.SetDefault("sim.turnRate", 3)
	viper.SetDefault("sim.markers", []map[string]any{
		{"id": "sim-friendly", "name": "Alpha", "type": "a-f-G", "rangeM": 250, "bearing": 30},
		{"id": "sim-hostile", "name": "Bravo", "type": "a-h-G", "rangeM": 600, "bearing": 120},
		{"id": "sim-neutral", "name": "Charlie", "type": "a-n-G", "rangeM": 900, "bearing": 210},
		{"id": "sim-far", "name": "Delta", "type": "a-u-G", "rangeM": 2500, "bearing": 300},
	})
}

// BindFlags registers command line overrides on fs and binds them to their
// config keys. Flags only win over the file when set explicitly.
func BindFlags(fs *pflag.FlagSet) error {
	fs.String("address", "", "display address: host[:port], MAC, or ws:// URL")
	fs.Int("rate", 0, "update interval in milliseconds (100-5000)")
	fs.String("mode", "", "message shape: aggregated or discrete")
	fs.Float64("max-distance", 0, "maximum POI distance in metres")
	fs.Bool("poi", true, "send POIs")
	fs.Bool("map", true, "send map state")
	fs.Bool("compass", true, "send orientation")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("reconnect", false, "reconnect after the link drops")

	bindings := map[string]string{
		"address":      "stream.deviceAddress",
		"rate":         "stream.updateRateMs",
		"mode":         "stream.mode",
		"max-distance": "stream.maxDistanceM",
		"poi":          "stream.enablePoi",
		"map":          "stream.enableMap",
		"compass":      "stream.enableCompass",
		"log-level":    "logLevel",
		"reconnect":    "reconnect.enabled",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStreamConfig returns the normalized stream settings. An empty device
// address yields a zero endpoint.
func GetStreamConfig() (core.StreamConfig, error) {
	cfg := core.StreamConfig{
		UpdateInterval:  time.Duration(viper.GetInt("stream.updateRateMs")) * time.Millisecond,
		EnablePOI:       viper.GetBool("stream.enablePoi"),
		EnableMap:       viper.GetBool("stream.enableMap"),
		EnableCompass:   viper.GetBool("stream.enableCompass"),
		MaxPOIDistanceM: viper.GetFloat64("stream.maxDistanceM"),
		Mode:            core.ParseStreamMode(viper.GetString("stream.mode")),
	}

	if addr := viper.GetString("stream.deviceAddress"); addr != "" {
		ep, err := core.ParseEndpoint(addr, uint16(viper.GetUint("stream.defaultPort")))
		if err != nil {
			return core.StreamConfig{}, fmt.Errorf("stream.deviceAddress: %w", err)
		}
		cfg.Endpoint = ep
	}

	return cfg.Normalize(), nil
}

// GetTransportOptions returns transport tunables.
func GetTransportOptions() transport.Options {
	channel := viper.GetUint("transport.rfcommChannel")
	if channel == 0 || channel > 30 {
		channel = uint(transport.DefaultRFCOMMChannel)
	}
	return transport.Options{
		DialTimeout:   viper.GetDuration("transport.dialTimeout"),
		WriteTimeout:  viper.GetDuration("transport.writeTimeout"),
		KeepAlive:     viper.GetDuration("transport.keepAlive"),
		RFCOMMChannel: uint8(channel),
		Framing:       transport.ParseFraming(viper.GetString("transport.framing")),
	}
}

// GetSendQueue returns the per-link send buffer size.
func GetSendQueue() int {
	return viper.GetInt("transport.sendQueue")
}

// GetJournalConfig returns journal settings.
func GetJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:  viper.GetBool("journal.enabled"),
		Type:     viper.GetString("journal.type"),
		Path:     viper.GetString("journal.path"),
		Host:     viper.GetString("journal.host"),
		Port:     viper.GetString("journal.port"),
		Username: viper.GetString("journal.username"),
		Password: viper.GetString("journal.password"),
		Database: viper.GetString("journal.database"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns stats sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetReconnectConfig returns the reconnect policy.
func GetReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled: viper.GetBool("reconnect.enabled"),
		Delay:   viper.GetDuration("reconnect.delay"),
	}
}

// GetMonitorConfig returns status file settings. An empty path means
// status.json in the logs directory.
func GetMonitorConfig() MonitorConfig {
	path := viper.GetString("monitor.statusFile")
	if path == "" {
		path = filepath.Join(viper.GetString("logsDir"), "status.json")
	}
	return MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: path,
	}
}

// GetSimConfig returns the simulated map settings.
func GetSimConfig() (SimConfig, error) {
	var cfg SimConfig
	if err := viper.UnmarshalKey("sim", &cfg); err != nil {
		return SimConfig{}, fmt.Errorf("sim: %w", err)
	}
	return cfg, nil
}
