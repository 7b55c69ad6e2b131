package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_HoldsPartialLines(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("first\nsec"))
	lines, _ := b.Snapshot(0)
	assert.Equal(t, []string{"first"}, lines)

	_, _ = b.Write([]byte("ond\r\n\nthird\n"))
	lines, _ = b.Snapshot(0)
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestLogBuffer_EvictsOldest(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("a\nb\nc\nd\n"))
	lines, dropped := b.Snapshot(10)
	assert.Equal(t, []string{"c", "d"}, lines)
	assert.Equal(t, uint64(2), dropped)

	lines, _ = b.Snapshot(1)
	assert.Equal(t, []string{"d"}, lines)
}

func TestLogBuffer_Handler(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("ugps: connected\nmavlink: stream rate set\n"))

	ts := httptest.NewServer(b.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "?tail=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got LogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"mavlink: stream rate set"}, got.Lines)

	resp2, err := http.Get(ts.URL + "?format=text")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Equal(t, "ugps: connected\nmavlink: stream rate set\n", string(body))

	resp3, err := http.Get(ts.URL + "?tail=0")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}
