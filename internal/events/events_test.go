package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultKind(t *testing.T) {
	assert.Equal(t, TranscriptionInterim, Result(Transcript{Text: "hel"}).Kind)

	conf := 0.9
	e := Result(Transcript{Final: true, Text: "hello", Confidence: &conf, SpeechFinal: true})
	assert.Equal(t, TranscriptionFinal, e.Kind)
	assert.Equal(t, "hello", e.Transcript.Text)
	assert.True(t, e.Transcript.SpeechFinal)
}

func TestFanoutDeliversInOrder(t *testing.T) {
	var got []string
	var f Fanout
	f.Subscribe(SinkFunc(func(e Event) { got = append(got, "a:"+string(e.Kind)) }))
	f.Subscribe(SinkFunc(func(e Event) { got = append(got, "b:"+string(e.Kind)) }))

	f.Emit(Connected())
	f.Emit(Error(CodeSendError, "broken pipe"))

	assert.Equal(t, []string{
		"a:stream-connected", "b:stream-connected",
		"a:stream-error", "b:stream-error",
	}, got)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Emit(Level(0.5)) })
}
