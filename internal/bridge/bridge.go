// Package bridge drives the extension: it prepares the autopilot, waits for
// the UGPS topside and then shuttles data between the two at fixed cadences.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
	"github.com/waterlinked/blueos-ugps-extension/internal/timeutil"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

// Startup stages, in order. RUNNING is never left except by cancellation.
const (
	StageInit               = "INIT"
	StageSetStreamRates     = "SET_STREAM_RATES"
	StageSetGPSTypeParam    = "SET_GPS_TYPE_PARAM"
	StageWaitForPositioning = "WAIT_FOR_POSITIONING_CONNECTION"
	StageRunning            = "RUNNING"
)

// Cadenced actions reported through Observer.ActionDone.
const (
	ActionSensor   = "sensor"
	ActionPosition = "position"
	ActionTopside  = "topside"
	ActionConfig   = "config"
)

const (
	// gpsTypeMAVLink makes the autopilot take its GPS from GPS_INPUT.
	gpsTypeMAVLink = 14
	gpsTypeParam   = "GPS_TYPE"
	gpsTypeKind    = "MAV_PARAM_TYPE_UINT8"
)

var streamRates = []struct {
	name string
	hz   float64
}{
	{"VFR_HUD", 5},          // heading
	{"AHRS2", 5},            // depth
	{"SCALED_PRESSURE2", 1}, // water temperature
}

// Gateway is the autopilot side (mavlink2rest).
type Gateway interface {
	EnsureMessageFrequency(ctx context.Context, name string, hz float64) bool
	SetParam(ctx context.Context, name, paramType string, value float64) bool
	Depth(ctx context.Context) (float64, bool)
	Temperature(ctx context.Context) (float64, bool)
	Orientation(ctx context.Context) (float64, bool)
	SendGPSInput(ctx context.Context, rec fusion.Record) bool
}

// Positioning is the UGPS topside.
type Positioning interface {
	WaitForConnection(ctx context.Context) error
	RefreshConfig(ctx context.Context, force bool) bool
	Config() ugps.TopsideConfig
	GlobalPosition(ctx context.Context) (ugps.GlobalPosition, bool)
	AcousticPosition(ctx context.Context) (ugps.AcousticPosition, bool)
	TopsidePosition(ctx context.Context) (ugps.GlobalPosition, bool)
	PushDepthTemperature(ctx context.Context, depth, tempC float64) bool
	PushOrientation(ctx context.Context, headingDeg float64) bool
}

// TopsideSink receives the topside position, typically a ground station.
type TopsideSink interface {
	SendTopsidePosition(pos ugps.GlobalPosition) error
}

// Observer is told what the bridge does. Calls happen on the bridge goroutine
// and must not block.
type Observer interface {
	StageChanged(stage string)
	ActionDone(action string, ok bool)
	FusedPosition(at time.Time, rec fusion.Record)
	TopsidePosition(at time.Time, pos ugps.GlobalPosition)
}

type Options struct {
	// UpdatePeriod is the minimum spacing of the sensor, position and topside
	// actions.
	UpdatePeriod  time.Duration
	Tick          time.Duration
	StreamRetry   time.Duration
	ConfigRefresh time.Duration

	Fusion fusion.Options

	// Sink is optional; without it the topside action never runs.
	Sink      TopsideSink
	Observers []Observer
	Clock     timeutil.Clock
}

type cadence struct {
	action string
	period time.Duration
	last   time.Time
	run    func(ctx context.Context) bool
}

type Bridge struct {
	gw    Gateway
	pos   Positioning
	sink  TopsideSink
	opts  Options
	clock timeutil.Clock
	obs   []Observer

	cadences []*cadence

	mu    sync.Mutex
	stage string
}

func New(gw Gateway, pos Positioning, opts Options) *Bridge {
	if opts.UpdatePeriod <= 0 {
		opts.UpdatePeriod = 250 * time.Millisecond
	}
	if opts.Tick <= 0 {
		opts.Tick = 20 * time.Millisecond
	}
	if opts.StreamRetry <= 0 {
		opts.StreamRetry = 2 * time.Second
	}
	if opts.ConfigRefresh <= 0 {
		opts.ConfigRefresh = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	b := &Bridge{
		gw:    gw,
		pos:   pos,
		sink:  opts.Sink,
		opts:  opts,
		clock: opts.Clock,
		obs:   opts.Observers,
	}
	b.cadences = []*cadence{
		{action: ActionSensor, period: opts.UpdatePeriod, run: b.forwardSensors},
		{action: ActionPosition, period: opts.UpdatePeriod, run: b.forwardPosition},
	}
	if b.sink != nil {
		b.cadences = append(b.cadences, &cadence{action: ActionTopside, period: opts.UpdatePeriod, run: b.forwardTopside})
	}
	b.cadences = append(b.cadences, &cadence{action: ActionConfig, period: opts.ConfigRefresh, run: b.refreshConfig})
	return b
}

// Stage returns the current startup stage.
func (b *Bridge) Stage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stage
}

func (b *Bridge) setStage(s string) {
	b.mu.Lock()
	b.stage = s
	b.mu.Unlock()
	monitoring.Logf("bridge: stage %s", s)
	for _, o := range b.obs {
		o.StageChanged(s)
	}
}

// Run performs the startup sequence and then runs the cadences until ctx is
// done. It only returns with ctx.Err().
func (b *Bridge) Run(ctx context.Context) error {
	b.setStage(StageInit)

	b.setStage(StageSetStreamRates)
	if err := b.setupStreamRates(ctx); err != nil {
		return err
	}

	b.setStage(StageSetGPSTypeParam)
	if !b.gw.SetParam(ctx, gpsTypeParam, gpsTypeKind, gpsTypeMAVLink) {
		monitoring.Logf("bridge: could not set %s=%d, continuing", gpsTypeParam, gpsTypeMAVLink)
	}

	b.setStage(StageWaitForPositioning)
	if err := b.pos.WaitForConnection(ctx); err != nil {
		return err
	}

	b.setStage(StageRunning)
	return b.loop(ctx)
}

func (b *Bridge) setupStreamRates(ctx context.Context) error {
	for _, s := range streamRates {
		for !b.gw.EnsureMessageFrequency(ctx, s.name, s.hz) {
			monitoring.Logf("bridge: %s stream not at %.0f Hz yet, retrying in %s", s.name, s.hz, b.opts.StreamRetry)
			if err := timeutil.Sleep(ctx, b.clock, b.opts.StreamRetry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bridge) loop(ctx context.Context) error {
	b.resetCadences()

	ticker := b.clock.NewTicker(b.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		b.step(ctx)
	}
}

// resetCadences makes every action due on the first tick except the config
// refresh, which WaitForConnection has just done.
func (b *Bridge) resetCadences() {
	now := b.clock.Now()
	for _, c := range b.cadences {
		c.last = time.Time{}
		if c.action == ActionConfig {
			c.last = now
		}
	}
}

// step runs every action whose period has elapsed. Each action's timestamp
// is taken before it runs; missed periods are not made up.
func (b *Bridge) step(ctx context.Context) {
	for _, c := range b.cadences {
		now := b.clock.Now()
		if !now.After(c.last.Add(c.period)) {
			continue
		}
		c.last = now
		ok := c.run(ctx)
		for _, o := range b.obs {
			o.ActionDone(c.action, ok)
		}
	}
}

func (b *Bridge) forwardSensors(ctx context.Context) bool {
	monitoring.Debugf("bridge: forwarding depth, temperature and orientation to ugps")
	var ok bool

	depth, okDepth := b.gw.Depth(ctx)
	temp, okTemp := b.gw.Temperature(ctx)
	if okDepth && okTemp {
		ok = b.pos.PushDepthTemperature(ctx, depth, temp)
	} else {
		monitoring.Debugf("bridge: depth/temperature unavailable, skipping push")
	}

	if heading, okHeading := b.gw.Orientation(ctx); okHeading {
		ok = b.pos.PushOrientation(ctx, heading) && ok
	} else {
		monitoring.Debugf("bridge: heading unavailable, skipping push")
		ok = false
	}
	return ok
}

func (b *Bridge) forwardPosition(ctx context.Context) bool {
	monitoring.Debugf("bridge: forwarding locator position to mavlink")

	var global *ugps.GlobalPosition
	if g, ok := b.pos.GlobalPosition(ctx); ok {
		global = &g
	}
	var acoustic *ugps.AcousticPosition
	if a, ok := b.pos.AcousticPosition(ctx); ok {
		acoustic = &a
	}

	// Sent even without UGPS data so the autopilot learns the fix is gone.
	rec := fusion.Fuse(global, acoustic, b.pos.Config(), b.opts.Fusion)
	at := b.clock.Now()
	for _, o := range b.obs {
		o.FusedPosition(at, rec)
	}
	return b.gw.SendGPSInput(ctx, rec)
}

func (b *Bridge) forwardTopside(ctx context.Context) bool {
	monitoring.Debugf("bridge: forwarding topside position to ground station")

	pos, ok := b.pos.TopsidePosition(ctx)
	if !ok {
		return false
	}
	at := b.clock.Now()
	for _, o := range b.obs {
		o.TopsidePosition(at, pos)
	}
	if err := b.sink.SendTopsidePosition(pos); err != nil {
		monitoring.Logf("bridge: %v", err)
		return false
	}
	return true
}

func (b *Bridge) refreshConfig(ctx context.Context) bool {
	return b.pos.RefreshConfig(ctx, false)
}
