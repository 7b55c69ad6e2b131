package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

// Status collects what the bridge reports and serves it as a snapshot. It is
// safe for concurrent use and implements the bridge observer methods.
type Status struct {
	startUnixNano int64
	stageNano     int64
	sessionID     string

	stage     atomic.Value // string
	endpoints atomic.Value // map[string]string
	topside   atomic.Value // func() ugps.TopsideConfig

	lastFused   atomic.Pointer[FusedSnapshot]
	lastTopside atomic.Pointer[TopsideSnapshot]

	mu      sync.Mutex
	actions map[string]ActionStats

	live *LiveBroadcaster
}

func NewStatus(sessionID string) *Status {
	s := &Status{
		sessionID: sessionID,
		actions:   make(map[string]ActionStats),
		live:      NewLiveBroadcaster(),
	}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.stage.Store("")
	s.endpoints.Store(map[string]string{})
	s.topside.Store(func() ugps.TopsideConfig { return ugps.TopsideConfig{} })
	return s
}

// Live returns the broadcaster fed by this status.
func (s *Status) Live() *LiveBroadcaster {
	return s.live
}

// SetEndpoints records the configured peers (ugps, mavlink, qgc...).
func (s *Status) SetEndpoints(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.endpoints.Store(cp)
}

// SetTopsideConfig installs the source of the current UGPS configuration.
func (s *Status) SetTopsideConfig(f func() ugps.TopsideConfig) {
	if f != nil {
		s.topside.Store(f)
	}
}

type ActionStats struct {
	OK      uint64 `json:"ok"`
	Failed  uint64 `json:"failed"`
	LastOK  bool   `json:"last_ok"`
	LastUTC string `json:"last_utc,omitempty"`
}

type FusedSnapshot struct {
	Time   string        `json:"time"`
	Record fusion.Record `json:"record"`
}

type TopsideSnapshot struct {
	Time     string              `json:"time"`
	Position ugps.GlobalPosition `json:"position"`
}

func (s *Status) StageChanged(stage string) {
	s.stage.Store(stage)
	atomic.StoreInt64(&s.stageNano, time.Now().UTC().UnixNano())
	s.live.Publish(LiveUpdate{Kind: KindStage, Time: stamp(time.Now()), Stage: stage})
}

func (s *Status) ActionDone(action string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.actions[action]
	if ok {
		st.OK++
	} else {
		st.Failed++
	}
	st.LastOK = ok
	st.LastUTC = stamp(time.Now())
	s.actions[action] = st
}

func (s *Status) FusedPosition(at time.Time, rec fusion.Record) {
	snap := &FusedSnapshot{Time: stamp(at), Record: rec}
	s.lastFused.Store(snap)
	s.live.Publish(LiveUpdate{Kind: KindFused, Time: snap.Time, Record: &snap.Record})
}

func (s *Status) TopsidePosition(at time.Time, pos ugps.GlobalPosition) {
	snap := &TopsideSnapshot{Time: stamp(at), Position: pos}
	s.lastTopside.Store(snap)
	s.live.Publish(LiveUpdate{Kind: KindTopside, Time: snap.Time, Position: &snap.Position})
}

type StatusSnapshot struct {
	Service       string                 `json:"service"`
	SessionID     string                 `json:"session_id"`
	NowUTC        string                 `json:"now_utc"`
	UptimeSec     int64                  `json:"uptime_sec"`
	Stage         string                 `json:"stage"`
	StageSinceUTC string                 `json:"stage_since_utc,omitempty"`
	Endpoints     map[string]string      `json:"endpoints"`
	TopsideConfig ugps.TopsideConfig     `json:"topside_config"`
	Actions       map[string]ActionStats `json:"actions"`
	ActionNames   []string               `json:"action_names"`
	LastFused     *FusedSnapshot         `json:"last_fused,omitempty"`
	LastTopside   *TopsideSnapshot       `json:"last_topside,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	s.mu.Lock()
	actions := make(map[string]ActionStats, len(s.actions))
	names := make([]string, 0, len(s.actions))
	for k, v := range s.actions {
		actions[k] = v
		names = append(names, k)
	}
	s.mu.Unlock()
	sort.Strings(names)

	snap := StatusSnapshot{
		Service:       "ugps-extension",
		SessionID:     s.sessionID,
		NowUTC:        stamp(nowUTC),
		UptimeSec:     int64(nowUTC.Sub(start).Seconds()),
		Stage:         s.stage.Load().(string),
		Endpoints:     s.endpoints.Load().(map[string]string),
		TopsideConfig: s.topside.Load().(func() ugps.TopsideConfig)(),
		Actions:       actions,
		ActionNames:   names,
		LastFused:     s.lastFused.Load(),
		LastTopside:   s.lastTopside.Load(),
	}
	if ns := atomic.LoadInt64(&s.stageNano); ns != 0 {
		snap.StageSinceUTC = stamp(time.Unix(0, ns))
	}
	return snap
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
