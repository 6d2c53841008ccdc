// Package events carries asynchronous notifications from the capture engine and
// the streaming client to whoever presents them.
package events

import "sync"

type Kind string

const (
	AudioLevel           Kind = "audio-level"
	StreamConnected      Kind = "stream-connected"
	StreamDisconnected   Kind = "stream-disconnected"
	StreamError          Kind = "stream-error"
	TranscriptionInterim Kind = "transcription-interim"
	TranscriptionFinal   Kind = "transcription-final"
)

// Error codes carried by StreamError events raised locally. Server-reported
// errors keep the code the server sent.
const (
	CodeSendError      = "SEND_ERROR"
	CodeWebSocketError = "WEBSOCKET_ERROR"
)

// Transcript is a recognition result.
type Transcript struct {
	Final       bool
	Text        string
	Confidence  *float64
	SpeechFinal bool
}

// Event is a tagged notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	Level      float64
	Transcript Transcript
	Code       string
	Message    string
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block for long: Emit is called from the audio and network goroutines.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

func Level(l float64) Event { return Event{Kind: AudioLevel, Level: l} }

func Connected() Event { return Event{Kind: StreamConnected} }

func Disconnected() Event { return Event{Kind: StreamDisconnected} }

func Error(code, message string) Event {
	return Event{Kind: StreamError, Code: code, Message: message}
}

func Result(t Transcript) Event {
	if t.Final {
		return Event{Kind: TranscriptionFinal, Transcript: t}
	}
	return Event{Kind: TranscriptionInterim, Transcript: t}
}

// Fanout delivers each event to every subscribed sink in subscription order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func (f *Fanout) Subscribe(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Emit(e Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(e)
	}
}
