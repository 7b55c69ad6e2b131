// Package telemetry publishes bridge output to an MQTT broker so other
// vehicle software can follow the fused position without polling the UGPS.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

const (
	DefaultTopicPrefix = "ugps"

	publishTimeout = 2 * time.Second
	disconnectMS   = 250
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher writes fused records, topside positions and stage changes under
// a topic prefix. Publishing never blocks the caller.
type Publisher struct {
	client publisher
	prefix string
}

// FusedMessage is the payload on {prefix}/fused.
type FusedMessage struct {
	Time   string        `json:"time"`
	Record fusion.Record `json:"record"`
}

// TopsideMessage is the payload on {prefix}/topside.
type TopsideMessage struct {
	Time     string              `json:"time"`
	Position ugps.GlobalPosition `json:"position"`
}

func NewPublisher(client publisher, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{client: client, prefix: prefix}
}

// Connect dials broker (e.g. tcp://localhost:1883) and returns a publisher
// for it. The client reconnects on its own after the first connection.
func Connect(broker, clientID, prefix string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	monitoring.Logf("telemetry: connected to MQTT broker at %s", broker)
	return NewPublisher(client, prefix), nil
}

// Close disconnects when the underlying client is a paho client.
func (p *Publisher) Close() {
	if c, ok := p.client.(mqtt.Client); ok {
		c.Disconnect(disconnectMS)
	}
}

func (p *Publisher) Topic(name string) string {
	return p.prefix + "/" + name
}

func (p *Publisher) StageChanged(stage string) {
	p.publish(p.Topic("stage"), true, []byte(stage))
}

func (p *Publisher) ActionDone(string, bool) {}

func (p *Publisher) FusedPosition(at time.Time, rec fusion.Record) {
	p.publishJSON(p.Topic("fused"), FusedMessage{Time: stamp(at), Record: rec})
}

func (p *Publisher) TopsidePosition(at time.Time, pos ugps.GlobalPosition) {
	p.publishJSON(p.Topic("topside"), TopsideMessage{Time: stamp(at), Position: pos})
}

func (p *Publisher) publishJSON(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("telemetry: marshal %s: %v", topic, err)
		return
	}
	p.publish(topic, false, b)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			monitoring.Debugf("telemetry: publish %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			monitoring.Logf("telemetry: publish %s: %v", topic, err)
		}
	}()
}

func stamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}
