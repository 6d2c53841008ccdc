package streaming

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/voicetool/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = Credentials{APIKey: "dg-test-key"}

func TestConnectSendsQueryAndAuth(t *testing.T) {
	srv := newFakeServer(t, nil)
	cfg := testConfig(srv.wsURL())
	cfg.Model = "nova-2"
	c := New(cfg, zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "fr-FR", 48000, sink))
	assert.True(t, c.IsConnected())
	c.Disconnect()

	require.Equal(t, 1, srv.connections())
	srv.mu.Lock()
	header, query := srv.headers[0], srv.queries[0]
	srv.mu.Unlock()

	assert.Equal(t, "Token dg-test-key", header.Get("Authorization"))
	assert.Equal(t, "fr-FR", query.Get("language"))
	assert.Equal(t, "48000", query.Get("sample_rate"))
	assert.Equal(t, "linear16", query.Get("encoding"))
	assert.Equal(t, "1", query.Get("channels"))
	assert.Equal(t, "true", query.Get("punctuate"))
	assert.Equal(t, "true", query.Get("interim_results"))
	assert.Equal(t, "nova-2", query.Get("model"))

	kinds := sink.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, events.StreamConnected, kinds[0])
}

func TestSenderFlushesWhenBatchIsFull(t *testing.T) {
	srv := newFakeServer(t, nil)
	cfg := testConfig(srv.wsURL())
	cfg.FlushIntervalMS = 60000
	c := New(cfg, zerolog.Nop())

	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, &eventLog{}))
	defer c.Close()

	require.NoError(t, c.SendAudio(block(2000, 1)))
	require.NoError(t, c.SendAudio(block(2000, -2)))
	require.NoError(t, c.SendAudio(block(2000, 300)))

	require.Eventually(t, func() bool {
		return len(srv.entries(0)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	frame := srv.entries(0)[0].samples
	require.Len(t, frame, 6000)
	assert.Equal(t, block(2000, 1), frame[:2000])
	assert.Equal(t, block(2000, -2), frame[2000:4000])
	assert.Equal(t, block(2000, 300), frame[4000:])
}

func TestSenderFlushesOnInterval(t *testing.T) {
	srv := newFakeServer(t, nil)
	cfg := testConfig(srv.wsURL())
	cfg.FlushIntervalMS = 50
	c := New(cfg, zerolog.Nop())

	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 16000, &eventLog{}))
	defer c.Close()

	require.NoError(t, c.SendAudio(block(100, 7)))

	require.Eventually(t, func() bool {
		e := srv.entries(0)
		return len(e) == 1 && len(e[0].samples) == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectFlushesRemainderBeforeCloseStream(t *testing.T) {
	srv := newFakeServer(t, nil)
	cfg := testConfig(srv.wsURL())
	cfg.FlushIntervalMS = 60000
	c := New(cfg, zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, sink))

	var sent []int16
	for i := 0; i < 10; i++ {
		chunk := block(100, int16(i))
		sent = append(sent, chunk...)
		require.NoError(t, c.SendAudio(chunk))
	}

	c.Disconnect()
	assert.False(t, c.IsConnected())

	entries := srv.entries(0)
	require.Len(t, entries, 2)
	assert.Equal(t, sent, entries[0].samples)
	assert.Equal(t, `{"type":"CloseStream"}`, entries[1].text)
	assert.True(t, sink.has(events.StreamDisconnected))

	assert.ErrorIs(t, c.SendAudio(block(10, 1)), ErrNotConnected)
}

func TestConnectedEventSeesLiveConnection(t *testing.T) {
	srv := newFakeServer(t, nil)
	c := New(testConfig(srv.wsURL()), zerolog.Nop())
	defer c.Close()

	var connectedOnEvent bool
	sink := events.SinkFunc(func(e events.Event) {
		if e.Kind == events.StreamConnected {
			connectedOnEvent = c.IsConnected()
		}
	})
	require.NoError(t, c.Connect(context.Background(), creds, "fr-FR", 48000, sink))
	assert.True(t, connectedOnEvent)
}

func TestReceiverEmitsEventsInServerOrder(t *testing.T) {
	srv := newFakeServer(t, func(ws *websocket.Conn) {
		for _, m := range []string{
			`{"type":"Metadata","request_id":"abc"}`,
			`{"type":"Results","channel":{"alternatives":[{"transcript":"","confidence":0}]},"is_final":false}`,
			`{"type":"Results","channel":{"alternatives":[{"transcript":"bonjour","confidence":0.6}]},"is_final":false}`,
			`{"type":"Results","channel":{"alternatives":[{"transcript":"bonjour tout le monde","confidence":0.98}]},"is_final":true,"speech_final":true}`,
			`{"type":"Results","channel":{"alternatives":[{"transcript":"bonjour tout"}]},"is_final":false}`,
			`{"type":"SpeechStarted"}`,
			`{"type":"UtteranceEnd","channel":[0,1],"last_word_end":2.1}`,
			`{"type":"Error","description":"Audio could not be decoded"}`,
			`{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`,
			`{"something":"else"}`,
			`not json`,
		} {
			_ = ws.WriteMessage(websocket.TextMessage, []byte(m))
		}
		sendClose(ws, websocket.CloseNormalClosure, "done")
	})
	c := New(testConfig(srv.wsURL()), zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "fr-FR", 48000, sink))
	defer c.Close()

	require.Eventually(t, func() bool {
		return sink.has(events.StreamDisconnected)
	}, 2*time.Second, 10*time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 7)

	assert.Equal(t, events.StreamConnected, got[0].Kind)

	assert.Equal(t, events.TranscriptionInterim, got[1].Kind)
	assert.Equal(t, "bonjour", got[1].Transcript.Text)

	assert.Equal(t, events.TranscriptionFinal, got[2].Kind)
	assert.Equal(t, "bonjour tout le monde", got[2].Transcript.Text)
	require.NotNil(t, got[2].Transcript.Confidence)
	assert.Equal(t, 0.98, *got[2].Transcript.Confidence)
	assert.True(t, got[2].Transcript.SpeechFinal)

	// A late interim after a final is delivered as-is.
	assert.Equal(t, events.TranscriptionInterim, got[3].Kind)
	assert.Nil(t, got[3].Transcript.Confidence)

	assert.Equal(t, events.StreamError, got[4].Kind)
	assert.Equal(t, "Error", got[4].Code)
	assert.Equal(t, "Audio could not be decoded", got[4].Message)

	assert.Equal(t, events.StreamError, got[5].Kind)
	assert.Equal(t, "INVALID_AUTH", got[5].Code)
	assert.Equal(t, "Invalid credentials.", got[5].Message)

	assert.Equal(t, events.StreamDisconnected, got[6].Kind)
}

func TestServerCloseEndsSession(t *testing.T) {
	srv := newFakeServer(t, func(ws *websocket.Conn) {
		sendClose(ws, websocket.CloseNormalClosure, "bye")
	})
	c := New(testConfig(srv.wsURL()), zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, sink))

	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return errors.Is(c.SendAudio(block(10, 1)), ErrQueueClosed)
	}, 2*time.Second, 10*time.Millisecond)

	c.Disconnect()
	assert.True(t, sink.has(events.StreamDisconnected))
	assert.False(t, sink.has(events.StreamError))
}

func TestDroppedConnectionReportsWebSocketError(t *testing.T) {
	srv := newFakeServer(t, func(ws *websocket.Conn) {
		ws.UnderlyingConn().Close()
	})
	c := New(testConfig(srv.wsURL()), zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, sink))
	defer c.Close()

	require.Eventually(t, func() bool {
		return sink.has(events.StreamError)
	}, 2*time.Second, 10*time.Millisecond)

	for _, e := range sink.snapshot() {
		if e.Kind == events.StreamError {
			assert.Equal(t, events.CodeWebSocketError, e.Code)
		}
	}
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectAbortsUnresponsiveServer(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeServer(t, func(ws *websocket.Conn) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := testConfig(srv.wsURL())
	cfg.CloseTimeoutMS = 100
	c := New(cfg, zerolog.Nop())

	sink := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, sink))

	start := time.Now()
	c.Disconnect()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.IsConnected())
	assert.True(t, sink.has(events.StreamDisconnected))
}

func TestReconnectRetiresPreviousConnection(t *testing.T) {
	srv := newFakeServer(t, nil)
	c := New(testConfig(srv.wsURL()), zerolog.Nop())
	defer c.Close()

	first := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 48000, first))
	require.NoError(t, c.SendAudio(block(50, 1)))

	second := &eventLog{}
	require.NoError(t, c.Connect(context.Background(), creds, "en-US", 44100, second))
	assert.True(t, c.IsConnected())

	entries := srv.entries(0)
	require.Len(t, entries, 2)
	assert.Len(t, entries[0].samples, 50)
	assert.Equal(t, `{"type":"CloseStream"}`, entries[1].text)
	assert.True(t, first.has(events.StreamDisconnected))

	assert.Equal(t, 2, srv.connections())
	assert.Equal(t, []events.Kind{events.StreamConnected}, second.kinds())
}

func TestSendAudioWhenNotConnected(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"), zerolog.Nop())

	assert.ErrorIs(t, c.SendAudio(block(10, 1)), ErrNotConnected)
	assert.False(t, c.IsConnected())

	// Disconnect is a no-op when idle.
	c.Disconnect()
	c.Disconnect()
	assert.NoError(t, c.Close())
}

func TestConnectRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(testConfig("ws"+strings.TrimPrefix(srv.URL, "http")), zerolog.Nop())
	err := c.Connect(context.Background(), creds, "en-US", 48000, &eventLog{})

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnauthorized, ce.Status)
	assert.Equal(t, "CONNECT_ERROR", ce.Code())
	assert.False(t, c.IsConnected())
}

func TestConnectRequiresAPIKey(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"), zerolog.Nop())

	err := c.Connect(context.Background(), Credentials{}, "en-US", 48000, nil)
	var ce *ConnectError
	assert.True(t, errors.As(err, &ce))
}
