package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultUGPSHost    = "https://demo.waterlinked.com"
	DefaultMavlinkHost = "http://blueos.local:6040"
	DefaultQGCIP       = "192.168.2.2"
	DefaultQGCPort     = 14401
)

type Config struct {
	Mavlink MavlinkConfig `yaml:"mavlink"`
	UGPS    UGPSConfig    `yaml:"ugps"`
	QGC     QGCConfig     `yaml:"qgc"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Web     WebConfig     `yaml:"web"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// MavlinkConfig addresses the mavlink2rest gateway. Vehicle/Component is the
// identity used when sending; GetVehicle/GetComponent is the autopilot read from.
type MavlinkConfig struct {
	Host         string        `yaml:"host"`
	Vehicle      int           `yaml:"vehicle"`
	Component    int           `yaml:"component"`
	GetVehicle   int           `yaml:"get_vehicle"`
	GetComponent int           `yaml:"get_component"`
	Timeout      time.Duration `yaml:"timeout"`
}

type UGPSConfig struct {
	Host          string        `yaml:"host"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ConfigRefresh time.Duration `yaml:"config_refresh"`
}

// QGCConfig is where the topside position goes as NMEA. An empty IP disables it.
type QGCConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type BridgeConfig struct {
	UpdatePeriod   time.Duration `yaml:"update_period"`
	Tick           time.Duration `yaml:"tick"`
	StreamRetry    time.Duration `yaml:"stream_retry"`
	IgnoreGPS      bool          `yaml:"ignore_gps"`
	IgnoreAcoustic bool          `yaml:"ignore_acoustic"`
}

// WebConfig enables the status server when Listen is set (e.g. ":8080").
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig enables telemetry publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// LogConfig controls the optional log_<timestamp>.txt file and debug output.
type LogConfig struct {
	File  bool   `yaml:"file"`
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{
		UGPS:    UGPSConfig{Host: DefaultUGPSHost},
		Mavlink: MavlinkConfig{Host: DefaultMavlinkHost},
		QGC:     QGCConfig{IP: DefaultQGCIP},
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a YAML file. Keys left out of the file take the same values as
// Default, except qgc.ip which stays empty (disabled) when absent.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		UGPS:    UGPSConfig{Host: DefaultUGPSHost},
		Mavlink: MavlinkConfig{Host: DefaultMavlinkHost},
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values and rejects settings the bridge cannot
// run with. Call it again after applying command-line overrides.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Mavlink.Host = strings.TrimRight(strings.TrimSpace(cfg.Mavlink.Host), "/")
	if err := validateHost("mavlink.host", cfg.Mavlink.Host); err != nil {
		return err
	}
	if cfg.Mavlink.Vehicle == 0 {
		cfg.Mavlink.Vehicle = 1
	}
	if cfg.Mavlink.Component == 0 {
		cfg.Mavlink.Component = 220
	}
	if cfg.Mavlink.GetVehicle == 0 {
		cfg.Mavlink.GetVehicle = 1
	}
	if cfg.Mavlink.GetComponent == 0 {
		cfg.Mavlink.GetComponent = 1
	}
	for name, v := range map[string]int{
		"mavlink.vehicle":       cfg.Mavlink.Vehicle,
		"mavlink.component":     cfg.Mavlink.Component,
		"mavlink.get_vehicle":   cfg.Mavlink.GetVehicle,
		"mavlink.get_component": cfg.Mavlink.GetComponent,
	} {
		if v < 1 || v > 255 {
			return fmt.Errorf("%s must be in [1,255]", name)
		}
	}
	if cfg.Mavlink.Timeout <= 0 {
		cfg.Mavlink.Timeout = 1 * time.Second
	}

	cfg.UGPS.Host = strings.TrimRight(strings.TrimSpace(cfg.UGPS.Host), "/")
	if err := validateHost("ugps.host", cfg.UGPS.Host); err != nil {
		return err
	}
	if cfg.UGPS.Timeout <= 0 {
		cfg.UGPS.Timeout = 1 * time.Second
	}
	if cfg.UGPS.ProbeInterval <= 0 {
		cfg.UGPS.ProbeInterval = 5 * time.Second
	}
	if cfg.UGPS.ConfigRefresh <= 0 {
		cfg.UGPS.ConfigRefresh = 10 * time.Second
	}

	cfg.QGC.IP = strings.TrimSpace(cfg.QGC.IP)
	if cfg.QGC.IP != "" && net.ParseIP(cfg.QGC.IP) == nil && strings.ContainsAny(cfg.QGC.IP, ":/ \t") {
		return fmt.Errorf("qgc.ip %q is neither an IP address nor a hostname", cfg.QGC.IP)
	}
	if cfg.QGC.Port == 0 {
		cfg.QGC.Port = DefaultQGCPort
	}
	if cfg.QGC.Port < 1 || cfg.QGC.Port > 65535 {
		return fmt.Errorf("qgc.port must be in [1,65535]")
	}

	if cfg.Bridge.UpdatePeriod <= 0 {
		cfg.Bridge.UpdatePeriod = 250 * time.Millisecond
	}
	if cfg.Bridge.Tick <= 0 {
		cfg.Bridge.Tick = 20 * time.Millisecond
	}
	if cfg.Bridge.UpdatePeriod < cfg.Bridge.Tick {
		log.Printf("config: bridge.update_period %s is shorter than bridge.tick, using %s", cfg.Bridge.UpdatePeriod, cfg.Bridge.Tick)
		cfg.Bridge.UpdatePeriod = cfg.Bridge.Tick
	}
	if cfg.Bridge.StreamRetry <= 0 {
		cfg.Bridge.StreamRetry = 2 * time.Second
	}

	cfg.MQTT.Broker = strings.TrimSpace(cfg.MQTT.Broker)
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ugps"
	}

	if cfg.Log.Dir == "" {
		cfg.Log.Dir = "."
	}
	return nil
}

// QGCEnabled reports whether topside positions are forwarded.
func (c Config) QGCEnabled() bool {
	return c.QGC.IP != ""
}

func validateHost(key, host string) error {
	if host == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an http(s) URL", key, host)
	}
	return nil
}
