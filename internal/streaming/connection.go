package streaming

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/voicetool/internal/events"
	"github.com/rs/zerolog"
)

var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// connection is one live session: a socket, the queue feeding it and the
// sender/receiver goroutine pair. The sender is the only writer of data frames.
type connection struct {
	ws   *websocket.Conn
	sink events.Sink
	log  zerolog.Logger

	batchSize    int
	interval     time.Duration
	writeTimeout time.Duration

	qmu         sync.RWMutex // held for reading while enqueuing, for writing to close
	queue       chan []int16
	queueClosed bool

	closing      atomic.Bool
	senderDone   chan struct{}
	receiverDone chan struct{}
}

func newConnection(ws *websocket.Conn, sink events.Sink, opts options, log zerolog.Logger) *connection {
	return &connection{
		ws:           ws,
		sink:         sink,
		log:          log,
		batchSize:    opts.batchSamples,
		interval:     opts.flushInterval,
		writeTimeout: opts.writeTimeout,
		queue:        make(chan []int16, opts.queueSize),
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
	}
}

func (cn *connection) start() {
	go cn.runSender()
	go cn.runReceiver()
}

// enqueue blocks while the queue is full, unless the sender goes away.
func (cn *connection) enqueue(chunk []int16) error {
	cn.qmu.RLock()
	defer cn.qmu.RUnlock()

	if cn.queueClosed {
		return ErrQueueClosed
	}
	select {
	case <-cn.senderDone:
		return ErrQueueClosed
	default:
	}

	buf := make([]int16, len(chunk))
	copy(buf, chunk)

	select {
	case cn.queue <- buf:
		return nil
	case <-cn.senderDone:
		return ErrQueueClosed
	}
}

// closeQueue tells the sender to flush and end the stream.
func (cn *connection) closeQueue() {
	cn.qmu.Lock()
	defer cn.qmu.Unlock()
	if !cn.queueClosed {
		cn.queueClosed = true
		close(cn.queue)
	}
}

// abort closes the socket under both goroutines.
func (cn *connection) abort() {
	cn.closing.Store(true)
	_ = cn.ws.Close()
}

func (cn *connection) alive() bool {
	select {
	case <-cn.senderDone:
		return false
	case <-cn.receiverDone:
		return false
	default:
		return true
	}
}

func (cn *connection) runSender() {
	defer close(cn.senderDone)
	cn.log.Debug().Msg("Audio sender started")
	defer cn.log.Debug().Msg("Audio sender stopped")

	batch := make([]int16, 0, cn.batchSize)
	lastFlush := time.Now()
	timer := time.NewTimer(cn.interval)
	defer timer.Stop()

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := cn.writeAudio(batch); err != nil {
			cn.sendFailed(err)
			return false
		}
		batch = batch[:0]
		lastFlush = time.Now()
		timer.Reset(cn.interval)
		return true
	}

	for {
		select {
		case chunk, ok := <-cn.queue:
			if !ok {
				if flush() {
					cn.closeStream()
				}
				return
			}
			batch = append(batch, chunk...)
			if len(batch) >= cn.batchSize || time.Since(lastFlush) >= cn.interval {
				if !flush() {
					return
				}
			}

		case <-timer.C:
			if len(batch) == 0 {
				timer.Reset(cn.interval)
				continue
			}
			if !flush() {
				return
			}

		case <-cn.receiverDone:
			// The socket is gone; nothing queued can be delivered.
			return
		}
	}
}

func (cn *connection) writeAudio(samples []int16) error {
	payload := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(s))
	}

	if err := cn.ws.SetWriteDeadline(time.Now().Add(cn.writeTimeout)); err != nil {
		return err
	}
	if err := cn.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return err
	}
	cn.log.Trace().Int("samples", len(samples)).Msg("Flushed audio batch")
	return nil
}

func (cn *connection) sendFailed(err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		// The server closed first; the receiver reports it.
		cn.log.Debug().Err(err).Msg("Audio write after close handshake")
		return
	}
	select {
	case <-cn.receiverDone:
		cn.log.Debug().Err(err).Msg("Audio write after connection closed")
		return
	default:
	}

	cn.log.Error().Err(err).Msg("Failed to send audio to streaming service")
	cn.sink.Emit(events.Error(events.CodeSendError, fmt.Sprintf("failed to send audio: %v", err)))
	cn.abort()
}

// closeStream asks the server to finish, then starts the close handshake. The
// receiver sees the server's close frame and exits.
func (cn *connection) closeStream() {
	deadline := time.Now().Add(cn.writeTimeout)
	_ = cn.ws.SetWriteDeadline(deadline)
	if err := cn.ws.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
		cn.log.Debug().Err(err).Msg("Failed to send CloseStream message")
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := cn.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		cn.log.Debug().Err(err).Msg("Failed to close websocket cleanly")
	}
}

func (cn *connection) runReceiver() {
	defer cn.ws.Close()
	defer close(cn.receiverDone)
	cn.log.Debug().Msg("Transcription receiver started")
	defer cn.log.Debug().Msg("Transcription receiver stopped")

	for {
		mt, data, err := cn.ws.ReadMessage()
		if err != nil {
			cn.readFailed(err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		cn.handleMessage(data)
	}
}

func (cn *connection) readFailed(err error) {
	// gorilla reports a dropped TCP connection as close code 1006.
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		cn.log.Info().Int("code", ce.Code).Str("reason", ce.Text).Msg("Streaming connection closed")
		cn.sink.Emit(events.Disconnected())
		return
	}
	if cn.closing.Load() {
		cn.sink.Emit(events.Disconnected())
		return
	}

	cn.log.Error().Err(err).Msg("WebSocket error")
	cn.sink.Emit(events.Error(events.CodeWebSocketError, fmt.Sprintf("websocket error: %v", err)))
}

func (cn *connection) handleMessage(data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		cn.log.Warn().Err(err).Str("message", string(data)).Msg("Unknown streaming message format")
		return
	}

	switch msg.kind() {
	case kindResult:
		t, ok := msg.transcript()
		if !ok {
			return
		}
		if t.Final {
			cn.log.Info().
				Str("text", t.Text).
				Bool("speech_final", t.SpeechFinal).
				Msg("Final transcript")
		} else {
			cn.log.Debug().Str("text", t.Text).Msg("Interim transcript")
		}
		cn.sink.Emit(events.Result(t))

	case kindError:
		e := msg.errorEvent()
		cn.log.Error().Str("code", e.Code).Str("message", e.Message).Msg("Streaming service error")
		cn.sink.Emit(e)

	case kindInfo:
		cn.log.Debug().Str("type", msg.Type).Msg("Streaming service message")

	default:
		cn.log.Warn().Str("message", string(data)).Msg("Unknown streaming message format")
	}
}
