package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waterlinked/blueos-ugps-extension/internal/bridge"
	"github.com/waterlinked/blueos-ugps-extension/internal/config"
)

func TestApplyOverrides_OnlySetFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Web.Listen = ":9000"

	err := applyOverrides(&cfg, overrides{
		set:            map[string]bool{"ugps_host": true, "update_period": true, "ignore_gps": true, "qgc_ip": true},
		ugpsHost:       "http://192.168.2.94",
		updatePeriod:   0.5,
		ignoreGPS:      true,
		qgcIP:          "",
		webListen:      "ignored",
		ignoreAcoustic: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.2.94", cfg.UGPS.Host)
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.UpdatePeriod)
	assert.True(t, cfg.Bridge.IgnoreGPS)
	assert.False(t, cfg.Bridge.IgnoreAcoustic, "unset flag must not override")
	assert.False(t, cfg.QGCEnabled(), "empty qgc_ip disables forwarding")
	assert.Equal(t, ":9000", cfg.Web.Listen)
}

func TestApplyOverrides_Rejects(t *testing.T) {
	cfg := config.Default()
	err := applyOverrides(&cfg, overrides{set: map[string]bool{"update_period": true}, updatePeriod: 0})
	assert.EqualError(t, err, "update_period must be > 0")

	cfg = config.Default()
	err = applyOverrides(&cfg, overrides{set: map[string]bool{"mavlink_host": true}, mavlinkHost: "blueos.local"})
	assert.Error(t, err)
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

	f, err := openLogFile(dir, now)
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err := os.ReadFile(filepath.Join(dir, "log_2025-01-02_03-04-05.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(b))
}

func TestBuild_WiresOptionalParts(t *testing.T) {
	cfg := config.Default()
	cfg.QGC.IP = "127.0.0.1"
	cfg.QGC.Port = 14401

	c := build(cfg)
	defer c.Close()

	assert.NotEmpty(t, c.sessionID)
	snap := c.status.Snapshot(time.Time{})
	assert.Equal(t, "127.0.0.1:14401", snap.Endpoints["qgc"])
	assert.Equal(t, config.DefaultUGPSHost, snap.Endpoints["ugps"])
	assert.True(t, snap.TopsideConfig.Demo, "demo host detected")
	assert.Equal(t, "", c.bridge.Stage())

	cfg.QGC.IP = ""
	c2 := build(cfg)
	defer c2.Close()
	_, ok := c2.status.Snapshot(time.Time{}).Endpoints["qgc"]
	assert.False(t, ok)
	var _ bridge.Observer = c2.status
}
