package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shaunagostinho/createlink/internal/metrics"
	"github.com/shaunagostinho/createlink/internal/sensor"
)

type fakeSource struct {
	mu       sync.Mutex
	table    map[byte]int
	messages []string
}

func (f *fakeSource) Snapshot() map[byte]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[byte]int, len(f.table))
	for k, v := range f.table {
		out[k] = v
	}
	return out
}

func (f *fakeSource) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSource) FullMessages() string { return strings.Join(f.Messages(), ", ") }

func (f *fakeSource) ClearLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

func (f *fakeSource) Pending() int     { return 2 }
func (f *fakeSource) Connected() bool  { return true }
func (f *fakeSource) LinkName() string { return "fake" }

func newTestServer(t *testing.T, src *fakeSource) (*Server, *metrics.StreamMetrics) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")
	cfg.Recording.Path = filepath.Join(t.TempDir(), "rec")

	reg := prometheus.NewRegistry()
	m := metrics.NewStreamMetrics(reg)
	web := fstest.MapFS{"index.html": {Data: []byte("<html>createlink</html>")}}
	return New(cfg, src, web, zaptest.NewLogger(t), reg, m), m
}

func TestSensorsEndpoint(t *testing.T) {
	src := &fakeSource{table: map[byte]int{sensor.Distance: 0xfffe, sensor.BumpsAndWheelDrops: 1}}
	s, _ := newTestServer(t, src)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sensors", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var frame Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	assert.Equal(t, "fake", frame.Link)
	assert.True(t, frame.Connected)
	assert.Equal(t, 2, frame.Pending)
	assert.Equal(t, []Reading{
		{ID: 7, Name: "bumps_wheel_drops", Raw: 1, Signed: 1},
		{ID: 19, Name: "distance", Raw: 0xfffe, Signed: -2},
	}, frame.Sensors)
}

func TestLogEndpoint(t *testing.T) {
	src := &fakeSource{messages: []string{"a", "b"}}
	s, _ := newTestServer(t, src)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/log", nil))
	var body struct {
		Messages []string `json:"messages"`
		Full     string   `json:"full"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Messages)
	assert.Equal(t, "a, b", body.Full)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/log", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, src.Messages())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/log", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config",
		strings.NewReader(`{"server":{"broadcastHz":25}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, s.cfg.Snapshot().Server.BroadcastHz)

	_, err := os.Stat(s.cfg.Path())
	assert.NoError(t, err, "config saved")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 25, got["server"].(map[string]any)["broadcastHz"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaticAndMetrics(t *testing.T) {
	s, m := newTestServer(t, &fakeSource{})
	m.FrameQueued()
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "createlink")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "createlink_frames_queued_total 1")
}

func TestWebSocketBroadcast(t *testing.T) {
	src := &fakeSource{table: map[byte]int{sensor.CargoBayAnalogSignal: 512}}
	s, _ := newTestServer(t, src)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.NotEmpty(t, hello.ClientID)
	require.Len(t, hello.Sensors, 1)
	assert.Equal(t, 512, hello.Sensors[0].Raw)

	require.Eventually(t, func() bool {
		s.clientsMu.RLock()
		defer s.clientsMu.RUnlock()
		return len(s.clients) == 1
	}, time.Second, time.Millisecond)

	src.mu.Lock()
	src.table[sensor.CargoBayAnalogSignal] = 600
	src.mu.Unlock()
	s.tick(time.Now())

	var next Frame
	require.NoError(t, conn.ReadJSON(&next))
	assert.Empty(t, next.ClientID)
	assert.Equal(t, 600, next.Sensors[0].Raw)
}

func TestTickRecords(t *testing.T) {
	src := &fakeSource{table: map[byte]int{sensor.Distance: 10}}
	s, _ := newTestServer(t, src)
	s.recorder.SetEnabled(true)

	s.tick(time.Now())
	path := s.recorder.Path()
	require.NotEmpty(t, path)
	s.recorder.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,bumps_wheel_drops,distance,angle,cargo_bay_analog", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",,10,,"), lines[1])
}
