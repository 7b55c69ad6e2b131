package mavlink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/waterlinked/blueos-ugps-extension/internal/httputil"
	"github.com/waterlinked/blueos-ugps-extension/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

const header = `"header":{"system_id":255,"component_id":0,"sequence":0}`

var templates = map[string]string{
	"COMMAND_LONG": `{` + header + `,"message":{"type":"COMMAND_LONG","param1":0.0,"param2":0.0,"param3":0.0,"param4":0.0,"param5":0.0,"param6":0.0,"param7":0.0,"command":{"type":"MAV_CMD_NAV_WAYPOINT"},"target_system":0,"target_component":0,"confirmation":0}}`,
	"PARAM_SET":    `{` + header + `,"message":{"type":"PARAM_SET","param_value":0.0,"target_system":0,"target_component":0,"param_id":["\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000","\u0000"],"param_type":{"type":"MAV_PARAM_TYPE_REAL32"}}}`,
	"GPS_INPUT":    `{` + header + `,"message":{"type":"GPS_INPUT","time_usec":0,"time_week_ms":0,"lat":0,"lon":0,"alt":0.0,"hdop":0.0,"vdop":0.0,"vn":0.0,"ve":0.0,"vd":0.0,"speed_accuracy":0.0,"horiz_accuracy":0.0,"vert_accuracy":0.0,"ignore_flags":{"bits":0},"time_week":0,"gps_id":0,"fix_type":0,"satellites_visible":0,"yaw":0}}`,
}

// fakeGateway is a minimal mavlink2rest stand-in.
type fakeGateway struct {
	mu            sync.Mutex
	values        map[string]string
	templateHits  map[string]int
	posts         []map[string]any
	postStatus    int
	templatesDown bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{values: map[string]string{}, templateHits: map[string]int{}}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/mavlink":
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.posts = append(g.posts, m)
		if g.postStatus != 0 {
			w.WriteHeader(g.postStatus)
		}
	case r.URL.Path == "/helper/mavlink":
		name := r.URL.Query().Get("name")
		g.templateHits[name]++
		tmpl, ok := templates[name]
		if !ok || g.templatesDown {
			http.Error(w, "unknown", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(tmpl))
	case strings.HasPrefix(r.URL.Path, "/mavlink/vehicles/1/components/1/messages/"):
		v, ok := g.values[strings.TrimPrefix(r.URL.Path, "/mavlink/vehicles/1/components/1/messages")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(v))
	default:
		http.NotFound(w, r)
	}
}

func (g *fakeGateway) configure(f func(g *fakeGateway)) {
	g.mu.Lock()
	f(g)
	g.mu.Unlock()
}

func (g *fakeGateway) setValue(path, v string) {
	g.mu.Lock()
	g.values[path] = v
	g.mu.Unlock()
}

func (g *fakeGateway) lastPost(t *testing.T) map[string]any {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.posts) == 0 {
		t.Fatalf("no posts recorded")
	}
	return g.posts[len(g.posts)-1]
}

func (g *fakeGateway) postCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.posts)
}

func (g *fakeGateway) hits(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.templateHits[name]
}

func newTestClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	ts := httptest.NewServer(g)
	t.Cleanup(ts.Close)
	return New(Options{Host: ts.URL, HTTPClient: httputil.NewStandardClient(ts.Client())})
}

func message(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	m, ok := body["message"].(map[string]any)
	if !ok {
		t.Fatalf("message missing in %v", body)
	}
	return m
}
