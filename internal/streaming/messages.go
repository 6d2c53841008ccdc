package streaming

import (
	"encoding/json"

	"github.com/petems/voicetool/internal/events"
)

type messageKind int

const (
	kindUnknown messageKind = iota
	kindResult
	kindError
	kindInfo
)

// serverMessage covers every JSON shape the listen endpoint sends. Which
// fields are present decides how it is handled.
type serverMessage struct {
	Type string `json:"type"`
	// Results carry an object here; UtteranceEnd carries an array of channel indices.
	Channel json.RawMessage `json:"channel"`

	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`

	ErrCode     string `json:"err_code"`
	ErrMsg      string `json:"err_msg"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

type resultChannel struct {
	Alternatives []struct {
		Transcript string   `json:"transcript"`
		Confidence *float64 `json:"confidence"`
	} `json:"alternatives"`
}

func (m *serverMessage) kind() messageKind {
	switch {
	case m.Type == "Metadata" || m.Type == "SpeechStarted" || m.Type == "UtteranceEnd":
		return kindInfo
	case m.Type == "Error" || m.ErrCode != "" || m.ErrMsg != "":
		return kindError
	case m.resultChannel() != nil:
		return kindResult
	default:
		return kindUnknown
	}
}

// resultChannel decodes channel when it is a result object.
func (m *serverMessage) resultChannel() *resultChannel {
	if len(m.Channel) == 0 || m.Channel[0] != '{' {
		return nil
	}
	var ch resultChannel
	if err := json.Unmarshal(m.Channel, &ch); err != nil {
		return nil
	}
	return &ch
}

// transcript returns the first alternative. ok is false when there is no text.
func (m *serverMessage) transcript() (events.Transcript, bool) {
	ch := m.resultChannel()
	if ch == nil || len(ch.Alternatives) == 0 {
		return events.Transcript{}, false
	}
	alt := ch.Alternatives[0]
	if alt.Transcript == "" {
		return events.Transcript{}, false
	}
	return events.Transcript{
		Final:       m.IsFinal,
		Text:        alt.Transcript,
		Confidence:  alt.Confidence,
		SpeechFinal: m.SpeechFinal,
	}, true
}

func (m *serverMessage) errorEvent() events.Event {
	code := m.ErrCode
	if code == "" {
		code = m.Type
	}
	msg := m.Message
	for _, s := range []string{m.ErrMsg, m.Description} {
		if msg == "" {
			msg = s
		}
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return events.Error(code, msg)
}

func parseMessage(data []byte) (*serverMessage, error) {
	var m serverMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
