// Package streaming sends live PCM audio to a Deepgram-compatible listen
// endpoint over a WebSocket and reports transcripts as events.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/voicetool/internal/config"
	"github.com/petems/voicetool/internal/events"
	"github.com/rs/zerolog"
)

const defaultEndpoint = "wss://api.deepgram.com/v1/listen"

// Credentials authenticate against the streaming service.
type Credentials struct {
	APIKey string
}

type options struct {
	endpoint       string
	model          string
	punctuate      bool
	interimResults bool
	batchSamples   int
	flushInterval  time.Duration
	queueSize      int
	connectTimeout time.Duration
	writeTimeout   time.Duration
	closeTimeout   time.Duration
}

func optionsFrom(cfg config.StreamingConfig) options {
	ms := func(v, def int) time.Duration {
		if v <= 0 {
			v = def
		}
		return time.Duration(v) * time.Millisecond
	}
	positive := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return options{
		endpoint:       endpoint,
		model:          cfg.Model,
		punctuate:      cfg.Punctuate,
		interimResults: cfg.InterimResults,
		batchSamples:   positive(cfg.BatchSamples, 4800),
		flushInterval:  ms(cfg.FlushIntervalMS, 100),
		queueSize:      positive(cfg.QueueSize, 100),
		connectTimeout: ms(cfg.ConnectTimeoutMS, 10000),
		writeTimeout:   ms(cfg.WriteTimeoutMS, 10000),
		closeTimeout:   ms(cfg.CloseTimeoutMS, 5000),
	}
}

// Client manages at most one streaming connection at a time.
type Client struct {
	opts   options
	dialer *websocket.Dialer
	log    zerolog.Logger

	lifecycle sync.Mutex // serialises Connect and Disconnect

	mu   sync.RWMutex
	conn *connection
}

// New creates a new streaming client
func New(cfg config.StreamingConfig, log zerolog.Logger) *Client {
	opts := optionsFrom(cfg)
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.connectTimeout,
		},
		log: log,
	}
}

// Connect opens a session for audio at sampleRate in the given language. Any
// existing session is fully shut down first. Events for the new session,
// starting with a connected event, go to sink.
func (c *Client) Connect(ctx context.Context, creds Credentials, language string, sampleRate uint32, sink events.Sink) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.disconnectLocked()

	if creds.APIKey == "" {
		return &ConnectError{Err: errors.New("missing API key")}
	}
	if sink == nil {
		sink = events.Discard
	}

	u, err := c.listenURL(language, sampleRate)
	if err != nil {
		return &ConnectError{Err: err}
	}

	c.log.Info().
		Str("language", language).
		Uint32("sample_rate", sampleRate).
		Msg("Connecting to streaming service")

	header := http.Header{}
	header.Set("Authorization", "Token "+creds.APIKey)

	ws, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		c.log.Error().Err(err).Int("status", status).Msg("Streaming connection failed")
		return &ConnectError{Status: status, Err: err}
	}

	conn := newConnection(ws, sink, c.opts, c.log.With().Str("component", "streaming").Logger())
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Published before the event so a sink sees IsConnected; started after it
	// so no transcript can overtake it.
	sink.Emit(events.Connected())
	conn.start()

	c.log.Info().Msg("Streaming connection established")
	return nil
}

func (c *Client) listenURL(language string, sampleRate uint32) (string, error) {
	u, err := url.Parse(c.opts.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.opts.endpoint, err)
	}

	q := u.Query()
	q.Set("language", language)
	q.Set("sample_rate", strconv.FormatUint(uint64(sampleRate), 10))
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("punctuate", strconv.FormatBool(c.opts.punctuate))
	q.Set("interim_results", strconv.FormatBool(c.opts.interimResults))
	if c.opts.model != "" {
		q.Set("model", c.opts.model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendAudio queues a mono chunk for sending. The chunk is copied. It blocks
// only while the queue is full.
func (c *Client) SendAudio(chunk []int16) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.enqueue(chunk)
}

// Disconnect flushes queued audio, ends the stream and waits for both
// goroutines. It is a no-op when not connected.
func (c *Client) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.log.Info().Msg("Disconnecting from streaming service")
	conn.closeQueue()
	<-conn.senderDone

	select {
	case <-conn.receiverDone:
	case <-time.After(c.opts.closeTimeout):
		c.log.Warn().Dur("timeout", c.opts.closeTimeout).Msg("Streaming service did not close in time, aborting")
		conn.abort()
		<-conn.receiverDone
	}

	c.log.Info().Msg("Streaming service disconnected")
}

// IsConnected reports whether a session exists and both of its goroutines are
// still running. It turns false as soon as the server closes or a send fails.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.alive()
}

// Close disconnects.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}
