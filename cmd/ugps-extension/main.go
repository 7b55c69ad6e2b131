// Command ugps-extension bridges a Water Linked Underwater GPS G2 to an
// ArduSub autopilot through mavlink2rest, and optionally forwards the topside
// position to QGroundControl.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/config"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
	"github.com/waterlinked/blueos-ugps-extension/internal/web"
)

func main() {
	var (
		configPath string
		o          overrides
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional)")
	flag.StringVar(&o.ugpsHost, "ugps_host", config.DefaultUGPSHost, "UGPS topside URL, e.g. http://192.168.2.94")
	flag.StringVar(&o.mavlinkHost, "mavlink_host", config.DefaultMavlinkHost, "mavlink2rest URL, e.g. http://192.168.2.2:6040")
	flag.StringVar(&o.qgcIP, "qgc_ip", config.DefaultQGCIP, "IP to send the topside position to as NMEA over UDP; empty disables")
	flag.Float64Var(&o.updatePeriod, "update_period", 0.25, "Update period in seconds")
	flag.BoolVar(&o.ignoreGPS, "ignore_gps", false, "Report a GPS fix regardless of the topside GPS quality")
	flag.BoolVar(&o.ignoreAcoustic, "ignore_acoustic", false, "Report a GPS fix regardless of the acoustic fix")
	flag.BoolVar(&o.logfile, "logfile", false, "Also write logs to log_<timestamp>.txt")
	flag.BoolVar(&o.debug, "debug", false, "Log every request")
	flag.StringVar(&o.webListen, "web_listen", "", "Status web server address, e.g. :8080; empty disables")
	flag.StringVar(&o.mqttBroker, "mqtt_broker", "", "MQTT broker URL, e.g. tcp://localhost:1883; empty disables")
	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}
	if err := applyOverrides(&cfg, o); err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	logs := web.NewLogBuffer(2000)
	writers := []io.Writer{os.Stderr, logs}
	if cfg.Log.File {
		f, err := openLogFile(cfg.Log.Dir, time.Now())
		if err != nil {
			log.Fatalf("log file: %v", err)
		}
		defer f.Close()
		writers = append(writers, f)
	}
	log.SetOutput(io.MultiWriter(writers...))
	monitoring.SetDebug(cfg.Log.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("ugps-extension starting")
	if err := run(ctx, cfg, logs); err != nil {
		log.Printf("ugps-extension stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("ugps-extension stopping")
}
