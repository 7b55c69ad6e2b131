package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waterlinked/blueos-ugps-extension/internal/fusion"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
	"github.com/waterlinked/blueos-ugps-extension/internal/ugps"
)

const (
	KindStage   = "stage"
	KindFused   = "fused"
	KindTopside = "topside"

	wsWriteWait    = 5 * time.Second
	wsPingInterval = 20 * time.Second
)

// LiveUpdate is one message on the /ws stream.
type LiveUpdate struct {
	Kind     string               `json:"kind"`
	Time     string               `json:"time"`
	Stage    string               `json:"stage,omitempty"`
	Record   *fusion.Record       `json:"record,omitempty"`
	Position *ugps.GlobalPosition `json:"position,omitempty"`
}

// LiveBroadcaster fans updates out to any listeners. It keeps the most recent
// value so new subscribers get an immediate sample. Slow listeners drop
// updates rather than stall the bridge.
type LiveBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan LiveUpdate
	nextID   int
	last     LiveUpdate
	haveLast bool
	closed   bool
}

func NewLiveBroadcaster() *LiveBroadcaster {
	return &LiveBroadcaster{subs: make(map[int]chan LiveUpdate)}
}

func (b *LiveBroadcaster) Subscribe(buffer int) (int, <-chan LiveUpdate) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan LiveUpdate, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	return id, ch
}

func (b *LiveBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *LiveBroadcaster) Publish(u LiveUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
	b.last = u
	b.haveLast = true
}

// Close ends every subscription; later subscribers get a closed channel.
func (b *LiveBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler streams updates as JSON text frames until the client goes away or
// the broadcaster is closed.
func (b *LiveBroadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			monitoring.Logf("web: websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		id, ch := b.Subscribe(16)
		defer b.Unsubscribe(id)

		// Reads only serve to notice the peer closing.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				return
			case u, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(u); err != nil {
					monitoring.Debugf("web: websocket write: %v", err)
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	})
}
