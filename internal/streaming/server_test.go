package streaming

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/voicetool/internal/config"
	"github.com/petems/voicetool/internal/events"
)

// serverEntry is one message the fake service received: decoded PCM for
// binary frames, raw text otherwise.
type serverEntry struct {
	samples []int16
	text    string
}

type fakeServer struct {
	*httptest.Server

	mu      sync.Mutex
	conns   [][]serverEntry
	headers []http.Header
	queries []url.Values
}

// newFakeServer starts a listen endpoint. script runs right after the upgrade
// and before the server starts reading.
func newFakeServer(t *testing.T, script func(ws *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		fs.mu.Lock()
		idx := len(fs.conns)
		fs.conns = append(fs.conns, nil)
		fs.headers = append(fs.headers, r.Header.Clone())
		fs.queries = append(fs.queries, r.URL.Query())
		fs.mu.Unlock()

		if script != nil {
			script(ws)
		}

		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var e serverEntry
			if mt == websocket.BinaryMessage {
				e.samples = decodePCM(data)
			} else {
				e.text = string(data)
			}
			fs.mu.Lock()
			fs.conns[idx] = append(fs.conns[idx], e)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) connections() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.conns)
}

func (fs *fakeServer) entries(conn int) []serverEntry {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if conn >= len(fs.conns) {
		return nil
	}
	return append([]serverEntry(nil), fs.conns[conn]...)
}

func decodePCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func (l *eventLog) kinds() []events.Kind {
	var out []events.Kind
	for _, e := range l.snapshot() {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) has(k events.Kind) bool {
	for _, e := range l.snapshot() {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func testConfig(endpoint string) config.StreamingConfig {
	cfg := config.Default().Streaming
	cfg.Endpoint = endpoint
	cfg.CloseTimeoutMS = 2000
	cfg.WriteTimeoutMS = 2000
	return cfg
}

func sendClose(ws *websocket.Conn, code int, text string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func block(n int, v int16) []int16 {
	b := make([]int16, n)
	for i := range b {
		b[i] = v
	}
	return b
}
