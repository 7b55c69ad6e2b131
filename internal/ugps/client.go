// Package ugps talks to the Water Linked Underwater GPS topside REST API.
//
// Every call absorbs transport and payload failures: they are logged and
// reported to the caller as ok=false. Only WaitForConnection blocks, and it
// returns early only when its context is canceled.
package ugps

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/httputil"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
	"github.com/waterlinked/blueos-ugps-extension/internal/timeutil"
)

const (
	pathAbout    = "/api/v1/about/"
	pathConfig   = "/api/v1/config/generic"
	pathAcoustic = "/api/v1/position/acoustic/filtered"
	pathGlobal   = "/api/v1/position/global"
	pathMaster   = "/api/v1/position/master"
	pathDepth    = "/api/v1/external/depth"
	pathHeading  = "/api/v1/external/orientation"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Host          string
	Timeout       time.Duration
	RetryInterval time.Duration

	HTTPClient httputil.HTTPClient
	Clock      timeutil.Clock
}

type Client struct {
	ep    httputil.Endpoint
	clock timeutil.Clock
	retry time.Duration

	mu  sync.RWMutex
	cfg TopsideConfig
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 1 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httputil.NewStandardClient(&http.Client{})
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	return &Client{
		ep:    httputil.Endpoint{Client: opts.HTTPClient, BaseURL: host, Timeout: opts.Timeout},
		clock: opts.Clock,
		retry: opts.RetryInterval,
		cfg:   TopsideConfig{Demo: strings.Contains(host, "demo")},
	}
}

func (c *Client) Host() string {
	return c.ep.BaseURL
}

// Config returns the last successfully fetched topside configuration.
func (c *Client) Config() TopsideConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// WaitForConnection blocks until the topside answers its about endpoint and
// then until the generic configuration has been fetched once.
func (c *Client) WaitForConnection(ctx context.Context) error {
	for {
		monitoring.Logf("ugps: scanning for Water Linked underwater GPS at %s", c.ep.BaseURL)
		err := c.ep.Probe(ctx, pathAbout)
		if err == nil {
			break
		}
		monitoring.Debugf("ugps: about probe failed: %v", err)
		if err := timeutil.Sleep(ctx, c.clock, c.retry); err != nil {
			return err
		}
	}
	monitoring.Debugf("ugps: got response to about")

	for {
		if c.RefreshConfig(ctx, true) {
			return nil
		}
		if err := timeutil.Sleep(ctx, c.clock, c.retry); err != nil {
			return err
		}
	}
}

// RefreshConfig fetches the generic configuration. The stored config is only
// replaced when a value changed or force is set.
func (c *Client) RefreshConfig(ctx context.Context, force bool) bool {
	var raw map[string]any
	if err := c.ep.GetJSON(ctx, pathConfig, &raw); err != nil {
		c.logFailure("GET", pathConfig, err)
		return false
	}
	gps, okGPS := raw["gps"]
	compass, okCompass := raw["compass"]
	if !okGPS || !okCompass {
		monitoring.Logf("ugps: config format unexpected: %v", raw)
		return false
	}
	gpsStatic := gps == "static"
	compassStatic := compass == "static"

	c.mu.Lock()
	defer c.mu.Unlock()
	if force || c.cfg.GPSStatic != gpsStatic || c.cfg.CompassStatic != compassStatic {
		monitoring.Logf("ugps: updating configuration to gps_static=%t compass_static=%t", gpsStatic, compassStatic)
		c.cfg.GPSStatic = gpsStatic
		c.cfg.CompassStatic = compassStatic
	}
	return true
}

// GlobalPosition returns the locator position in world coordinates.
func (c *Client) GlobalPosition(ctx context.Context) (GlobalPosition, bool) {
	return c.position(ctx, pathGlobal)
}

// TopsidePosition returns the position of the topside (master) unit.
func (c *Client) TopsidePosition(ctx context.Context) (GlobalPosition, bool) {
	return c.position(ctx, pathMaster)
}

func (c *Client) position(ctx context.Context, path string) (GlobalPosition, bool) {
	raw, err := c.ep.Raw(ctx, path)
	if err != nil {
		c.logFailure("GET", path, err)
		return GlobalPosition{}, false
	}
	p, err := parsePosition(raw)
	if err != nil {
		monitoring.Logf("ugps: position format not valid at %s: %v", path, err)
		return GlobalPosition{}, false
	}
	return p, true
}

// AcousticPosition returns the filtered acoustic solution of the locator.
func (c *Client) AcousticPosition(ctx context.Context) (AcousticPosition, bool) {
	raw, err := c.ep.Raw(ctx, pathAcoustic)
	if err != nil {
		c.logFailure("GET", pathAcoustic, err)
		return AcousticPosition{}, false
	}
	p, err := parseAcoustic(raw)
	if err != nil {
		monitoring.Logf("ugps: acoustic position format not valid: %v", err)
		return AcousticPosition{}, false
	}
	return p, true
}

// PushDepthTemperature forwards locator depth (m) and water temperature (°C).
func (c *Client) PushDepthTemperature(ctx context.Context, depth, tempC float64) bool {
	if !finite(depth) || !finite(tempC) {
		monitoring.Logf("ugps: refusing to send depth=%v temp=%v", depth, tempC)
		return false
	}
	body := map[string]float64{"depth": depth, "temp": tempC}
	if err := c.ep.PutJSON(ctx, pathDepth, body); err != nil {
		c.logFailure("PUT", pathDepth, err)
		return false
	}
	return true
}

// PushOrientation forwards the locator heading, reduced into [0, 360).
func (c *Client) PushOrientation(ctx context.Context, headingDeg float64) bool {
	if !finite(headingDeg) {
		monitoring.Logf("ugps: refusing to send orientation=%v", headingDeg)
		return false
	}
	body := map[string]float64{"orientation": NormalizeHeading(headingDeg)}
	if err := c.ep.PutJSON(ctx, pathHeading, body); err != nil {
		c.logFailure("PUT", pathHeading, err)
		return false
	}
	return true
}

func (c *Client) logFailure(method, path string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	monitoring.Logf("ugps: %s %s failed: %v", method, path, err)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
