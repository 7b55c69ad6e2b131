// Package mavlink is a small client for the mavlink2rest gateway.
//
// Outgoing messages are built from the gateway's own message templates
// (/helper/mavlink?name=...), which are fetched once and cached per client.
// Each send works on a fresh copy of the cached template.
package mavlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/waterlinked/blueos-ugps-extension/internal/httputil"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
)

var (
	// ErrUnknownMessage is returned for message names missing from the id table.
	ErrUnknownMessage = errors.New("message not in internal table")
	// ErrShape marks a template or payload missing an expected field.
	ErrShape = errors.New("unexpected payload shape")
)

// messageIDs lists the messages whose stream rate the bridge manages.
var messageIDs = map[string]int{
	"VFR_HUD":          74,
	"SCALED_PRESSURE2": 137,
	"AHRS2":            178,
}

// MessageID returns the numeric MAVLink id for a supported message name.
func MessageID(name string) (int, error) {
	id, ok := messageIDs[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return id, nil
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Host string

	// Vehicle and Component identify this bridge on outgoing messages.
	Vehicle   int
	Component int
	// GetVehicle and GetComponent select whose telemetry is read.
	GetVehicle   int
	GetComponent int

	Timeout    time.Duration
	HTTPClient httputil.HTTPClient
}

type Client struct {
	ep httputil.Endpoint

	vehicle      int
	component    int
	getVehicle   int
	getComponent int

	mu        sync.Mutex
	templates map[string]json.RawMessage
	// fetchMu serializes template misses so each name is fetched once.
	fetchMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Vehicle == 0 {
		opts.Vehicle = 1
	}
	if opts.Component == 0 {
		opts.Component = 220
	}
	if opts.GetVehicle == 0 {
		opts.GetVehicle = 1
	}
	if opts.GetComponent == 0 {
		opts.GetComponent = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 1 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httputil.NewStandardClient(&http.Client{})
	}
	return &Client{
		ep: httputil.Endpoint{
			Client:  opts.HTTPClient,
			BaseURL: strings.TrimRight(strings.TrimSpace(opts.Host), "/"),
			Timeout: opts.Timeout,
		},
		vehicle:      opts.Vehicle,
		component:    opts.Component,
		getVehicle:   opts.GetVehicle,
		getComponent: opts.GetComponent,
		templates:    make(map[string]json.RawMessage),
	}
}

func (c *Client) Host() string {
	return c.ep.BaseURL
}

// template returns a private, mutable copy of the named message template.
func (c *Client) template(ctx context.Context, name string) (map[string]any, error) {
	raw, ok := c.cachedTemplate(name)
	if !ok {
		var err error
		if raw, err = c.fetchTemplate(ctx, name); err != nil {
			return nil, err
		}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("template %s: %w: %v", name, ErrShape, err)
	}
	return m, nil
}

func (c *Client) cachedTemplate(name string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.templates[name]
	return raw, ok
}

func (c *Client) fetchTemplate(ctx context.Context, name string) (json.RawMessage, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// Another caller may have filled the cache while we waited.
	if raw, ok := c.cachedTemplate(name); ok {
		return raw, nil
	}

	b, err := c.ep.Raw(ctx, "/helper/mavlink?name="+url.QueryEscape(name))
	if err != nil {
		monitoring.Debugf("mavlink: could not cache template %s: %v", name, err)
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("template %s: %w: not json", name, ErrShape)
	}
	raw := append(json.RawMessage(nil), b...)
	c.mu.Lock()
	c.templates[name] = raw
	c.mu.Unlock()
	monitoring.Debugf("mavlink: cached template %s", name)
	return raw, nil
}

func section(m map[string]any, key string) (map[string]any, error) {
	s, ok := m[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrShape, key)
	}
	return s, nil
}

func (c *Client) post(ctx context.Context, what string, body map[string]any) bool {
	if err := c.ep.PostJSON(ctx, "/mavlink", body); err != nil {
		if !errors.Is(err, context.Canceled) {
			monitoring.Logf("mavlink: post %s failed: %v", what, err)
		}
		return false
	}
	return true
}

// float reads a scalar below /mavlink/vehicles/{v}/components/{c}/messages.
func (c *Client) float(ctx context.Context, path string) (float64, bool) {
	full := fmt.Sprintf("/mavlink/vehicles/%d/components/%d/messages%s", c.getVehicle, c.getComponent, path)
	b, err := c.ep.Raw(ctx, full)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			monitoring.Logf("mavlink: GET %s failed: %v", full, err)
		}
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		monitoring.Debugf("mavlink: %s is not a number: %q", full, string(b))
		return 0, false
	}
	return v, true
}

// Depth returns the vehicle depth in meters (positive down).
func (c *Client) Depth(ctx context.Context) (float64, bool) {
	alt, ok := c.float(ctx, "/VFR_HUD/message/alt")
	if !ok {
		return 0, false
	}
	return -alt, true
}

// Orientation returns the vehicle heading in degrees.
func (c *Client) Orientation(ctx context.Context) (float64, bool) {
	return c.float(ctx, "/VFR_HUD/message/heading")
}

// Temperature returns the water temperature in °C.
func (c *Client) Temperature(ctx context.Context) (float64, bool) {
	cdeg, ok := c.float(ctx, "/SCALED_PRESSURE2/message/temperature")
	if !ok {
		return 0, false
	}
	return cdeg / 100.0, true
}

// EnsureMessageFrequency asks the autopilot to stream name at least at hz.
// It does not retry.
func (c *Client) EnsureMessageFrequency(ctx context.Context, name string, hz float64) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	monitoring.Logf("mavlink: trying to set message frequency of %s to %v Hz", name, hz)

	id, err := MessageID(name)
	if err != nil {
		monitoring.Logf("mavlink: %v", err)
		return false
	}
	if !(hz > 0) {
		monitoring.Logf("mavlink: invalid frequency %v for %s", hz, name)
		return false
	}

	previous, ok := c.float(ctx, "/"+name+"/message_information/frequency")
	if !ok {
		previous = 0
	}

	cmd, err := c.template(ctx, "COMMAND_LONG")
	if err != nil {
		monitoring.Logf("mavlink: %v", err)
		return false
	}
	msg, err := section(cmd, "message")
	if err != nil {
		monitoring.Logf("mavlink: COMMAND_LONG template: %v", err)
		return false
	}
	msg["command"] = map[string]any{"type": "MAV_CMD_SET_MESSAGE_INTERVAL"}
	msg["param1"] = id
	msg["param2"] = int(1000 / hz)

	if !c.post(ctx, "COMMAND_LONG", cmd) {
		return false
	}
	monitoring.Logf("mavlink: set message frequency of %s to %v Hz, was %v Hz", name, hz, previous)
	return true
}

// SetParam writes an autopilot parameter. paramType is a MAV_PARAM_TYPE name.
func (c *Client) SetParam(ctx context.Context, name, paramType string, value float64) bool {
	payload, err := c.template(ctx, "PARAM_SET")
	if err != nil {
		monitoring.Logf("mavlink: %v", err)
		return false
	}
	msg, err := section(payload, "message")
	if err != nil {
		monitoring.Logf("mavlink: PARAM_SET template: %v", err)
		return false
	}
	ids, ok := msg["param_id"].([]any)
	if !ok || len(name) > len(ids) {
		monitoring.Logf("mavlink: error setting parameter %q: param_id does not fit", name)
		return false
	}
	for i := 0; i < len(name); i++ {
		ids[i] = string(name[i])
	}
	msg["param_type"] = map[string]any{"type": paramType}
	msg["param_value"] = value

	if !c.post(ctx, "PARAM_SET", payload) {
		return false
	}
	monitoring.Logf("mavlink: set parameter %s to %v", name, value)
	return true
}
