package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

type paramCall struct {
	name, kind string
	value      float64
}

type pushDepth struct {
	depth, temp float64
}

type fakeGateway struct {
	mu sync.Mutex

	// ensureFailures makes the first N calls for a message fail.
	ensureFailures map[string]int
	ensureCalls    []string
	paramOK        bool
	params         []paramCall

	depth, temp, heading       float64
	depthOK, tempOK, headingOK bool

	sendOK bool
	sent   []fusion.Record
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ensureFailures: map[string]int{},
		paramOK:        true,
		depth:          12.5, depthOK: true,
		temp: 7.25, tempOK: true,
		heading: 90, headingOK: true,
		sendOK: true,
	}
}

func (g *fakeGateway) EnsureMessageFrequency(_ context.Context, name string, hz float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureCalls = append(g.ensureCalls, fmt.Sprintf("%s@%g", name, hz))
	if g.ensureFailures[name] != 0 {
		if g.ensureFailures[name] > 0 {
			g.ensureFailures[name]--
		}
		return false
	}
	return true
}

func (g *fakeGateway) SetParam(_ context.Context, name, kind string, value float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.params = append(g.params, paramCall{name, kind, value})
	return g.paramOK
}

func (g *fakeGateway) Depth(context.Context) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth, g.depthOK
}

func (g *fakeGateway) Temperature(context.Context) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.temp, g.tempOK
}

func (g *fakeGateway) Orientation(context.Context) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading, g.headingOK
}

func (g *fakeGateway) SendGPSInput(_ context.Context, rec fusion.Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, rec)
	return g.sendOK
}

func (g *fakeGateway) sentRecords() []fusion.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]fusion.Record(nil), g.sent...)
}

func (g *fakeGateway) ensureLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ensureCalls...)
}

type fakePositioning struct {
	mu sync.Mutex

	waitErr   error
	waitCalls int

	cfg          ugps.TopsideConfig
	refreshCalls int

	global     ugps.GlobalPosition
	globalOK   bool
	acoustic   ugps.AcousticPosition
	acousticOK bool
	topside    ugps.GlobalPosition
	topsideOK  bool

	depthPushes   []pushDepth
	headingPushes []float64
}

func newFakePositioning() *fakePositioning {
	return &fakePositioning{
		global:     ugps.GlobalPosition{LatDeg: 63.4305, LonDeg: 10.3950, Orientation: 45, HDOP: 0.8, FixQuality: 1, NumSats: 9},
		globalOK:   true,
		acoustic:   ugps.AcousticPosition{Valid: true, Std: 0.4},
		acousticOK: true,
		topside:    ugps.GlobalPosition{LatDeg: 63.4306, LonDeg: 10.3951, Orientation: 180, FixQuality: 1, NumSats: 10},
		topsideOK:  true,
	}
}

func (p *fakePositioning) WaitForConnection(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waitCalls++
	return p.waitErr
}

func (p *fakePositioning) RefreshConfig(context.Context, bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	return true
}

func (p *fakePositioning) Config() ugps.TopsideConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *fakePositioning) GlobalPosition(context.Context) (ugps.GlobalPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.global, p.globalOK
}

func (p *fakePositioning) AcousticPosition(context.Context) (ugps.AcousticPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acoustic, p.acousticOK
}

func (p *fakePositioning) TopsidePosition(context.Context) (ugps.GlobalPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topside, p.topsideOK
}

func (p *fakePositioning) PushDepthTemperature(_ context.Context, depth, temp float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depthPushes = append(p.depthPushes, pushDepth{depth, temp})
	return true
}

func (p *fakePositioning) PushOrientation(_ context.Context, heading float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headingPushes = append(p.headingPushes, heading)
	return true
}

type fakeSink struct {
	mu  sync.Mutex
	got []ugps.GlobalPosition
	err error
}

func (s *fakeSink) SendTopsidePosition(pos ugps.GlobalPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, pos)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

var errSinkDown = errors.New("sink down")

type recorder struct {
	mu       sync.Mutex
	stages   []string
	stageCh  chan string
	actions  []string
	fused    []fusion.Record
	topsides []ugps.GlobalPosition
}

func newRecorder() *recorder {
	return &recorder{stageCh: make(chan string, 16)}
}

func (r *recorder) StageChanged(stage string) {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
	r.stageCh <- stage
}

func (r *recorder) ActionDone(action string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, fmt.Sprintf("%s:%t", action, ok))
}

func (r *recorder) FusedPosition(_ time.Time, rec fusion.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fused = append(r.fused, rec)
}

func (r *recorder) TopsidePosition(_ time.Time, pos ugps.GlobalPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topsides = append(r.topsides, pos)
}

// takeActions returns and clears the recorded actions.
func (r *recorder) takeActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.actions
	r.actions = nil
	return out
}

func (r *recorder) stageLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}
