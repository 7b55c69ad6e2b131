package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/waterlinked/blueos-ugps-extension/internal/bridge"
	"github.com/waterlinked/blueos-ugps-extension/internal/config"
	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/groundstation"
	"github.com/waterlinked/blueos-ugps-extension/internal/mavlink"
	"github.com/waterlinked/blueos-ugps-extension/internal/telemetry"
	"github.com/waterlinked/blueos-ugps-extension/internal/udp"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
	"github.com/waterlinked/blueos-ugps-extension/internal/web"
)

// overrides holds command-line values; only flags named in set replace what
// the config file says.
type overrides struct {
	set map[string]bool

	ugpsHost       string
	mavlinkHost    string
	qgcIP          string
	updatePeriod   float64
	ignoreGPS      bool
	ignoreAcoustic bool
	logfile        bool
	debug          bool
	webListen      string
	mqttBroker     string
}

func applyOverrides(cfg *config.Config, o overrides) error {
	if o.set["ugps_host"] {
		cfg.UGPS.Host = o.ugpsHost
	}
	if o.set["mavlink_host"] {
		cfg.Mavlink.Host = o.mavlinkHost
	}
	if o.set["qgc_ip"] {
		cfg.QGC.IP = o.qgcIP
	}
	if o.set["update_period"] {
		if o.updatePeriod <= 0 || math.IsNaN(o.updatePeriod) || math.IsInf(o.updatePeriod, 0) {
			return fmt.Errorf("update_period must be > 0")
		}
		cfg.Bridge.UpdatePeriod = time.Duration(o.updatePeriod * float64(time.Second))
	}
	if o.set["ignore_gps"] {
		cfg.Bridge.IgnoreGPS = o.ignoreGPS
	}
	if o.set["ignore_acoustic"] {
		cfg.Bridge.IgnoreAcoustic = o.ignoreAcoustic
	}
	if o.set["logfile"] {
		cfg.Log.File = o.logfile
	}
	if o.set["debug"] {
		cfg.Log.Debug = o.debug
	}
	if o.set["web_listen"] {
		cfg.Web.Listen = o.webListen
	}
	if o.set["mqtt_broker"] {
		cfg.MQTT.Broker = o.mqttBroker
	}
	return config.DefaultAndValidate(cfg)
}

func logFileName(now time.Time) string {
	return "log_" + now.Format("2006-01-02_15-04-05") + ".txt"
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, logFileName(now)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// components is everything run needs, built from the config.
type components struct {
	sessionID string
	status    *web.Status
	gateway   *mavlink.Client
	ugps      *ugps.Client
	bridge    *bridge.Bridge

	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func build(cfg config.Config) *components {
	c := &components{sessionID: uuid.NewString()}
	c.status = web.NewStatus(c.sessionID)
	c.closers = append(c.closers, c.status.Live().Close)

	c.gateway = mavlink.New(mavlink.Options{
		Host:         cfg.Mavlink.Host,
		Vehicle:      cfg.Mavlink.Vehicle,
		Component:    cfg.Mavlink.Component,
		GetVehicle:   cfg.Mavlink.GetVehicle,
		GetComponent: cfg.Mavlink.GetComponent,
		Timeout:      cfg.Mavlink.Timeout,
	})
	c.ugps = ugps.New(ugps.Options{
		Host:          cfg.UGPS.Host,
		Timeout:       cfg.UGPS.Timeout,
		RetryInterval: cfg.UGPS.ProbeInterval,
	})
	c.status.SetTopsideConfig(c.ugps.Config)

	endpoints := map[string]string{
		"ugps":    c.ugps.Host(),
		"mavlink": c.gateway.Host(),
	}
	observers := []bridge.Observer{c.status}

	var sink bridge.TopsideSink
	if cfg.QGCEnabled() {
		dest := groundstation.Address(cfg.QGC.IP, cfg.QGC.Port)
		bc, err := udp.NewBroadcaster(dest)
		if err != nil {
			log.Printf("qgc: topside forwarding disabled: %v", err)
		} else {
			c.closers = append(c.closers, func() { _ = bc.Close() })
			sink = groundstation.New(bc, nil)
			endpoints["qgc"] = dest
		}
	}

	if cfg.MQTT.Broker != "" {
		pub, err := telemetry.Connect(cfg.MQTT.Broker, "ugps-extension-"+c.sessionID, cfg.MQTT.TopicPrefix)
		if err != nil {
			log.Printf("telemetry: publishing disabled: %v", err)
		} else {
			c.closers = append(c.closers, pub.Close)
			observers = append(observers, pub)
			endpoints["mqtt"] = cfg.MQTT.Broker
		}
	}
	c.status.SetEndpoints(endpoints)

	c.bridge = bridge.New(c.gateway, c.ugps, bridge.Options{
		UpdatePeriod:  cfg.Bridge.UpdatePeriod,
		Tick:          cfg.Bridge.Tick,
		StreamRetry:   cfg.Bridge.StreamRetry,
		ConfigRefresh: cfg.UGPS.ConfigRefresh,
		Fusion: fusion.Options{
			IgnoreGPS:      cfg.Bridge.IgnoreGPS,
			IgnoreAcoustic: cfg.Bridge.IgnoreAcoustic,
		},
		Sink:      sink,
		Observers: observers,
	})
	return c
}

func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	c := build(cfg)
	defer c.Close()

	log.Printf("session=%s ugps=%s mavlink=%s update_period=%s ignore_gps=%t ignore_acoustic=%t",
		c.sessionID, cfg.UGPS.Host, cfg.Mavlink.Host, cfg.Bridge.UpdatePeriod, cfg.Bridge.IgnoreGPS, cfg.Bridge.IgnoreAcoustic)

	if cfg.Web.Listen != "" {
		go func() {
			log.Printf("web: listening on %s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, web.Handler(c.status, logs)); err != nil && ctx.Err() == nil {
				log.Printf("web: server stopped: %v", err)
			}
		}()
	}

	err := c.bridge.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
