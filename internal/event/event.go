// Package event defines the tagged variant carried on every pipeline
// channel: gateway -> orchestrator, and orchestrator -> edge writer.
package event

import "encoding/json"

// Kind discriminates the Event variant. It doubles as the wire "type" field
// of the NDJSON response stream.
type Kind string

const (
	KindHandshake    Kind = "handshake"
	KindDelta        Kind = "delta"
	KindAction       Kind = "action"
	KindTextDone     Kind = "text_done"
	KindError        Kind = "error"
	KindSessionReset Kind = "session_reset"
	KindAudio        Kind = "audio"
	KindTTSError     Kind = "tts_error"
	KindNoAudio      Kind = "no_audio"
)

// Phase is the lifecycle half of an Action event.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// Action is an out-of-band tool-call or lifecycle marker extracted from an
// inline "[...]" side-channel tag or surfaced directly by a gateway.
type Action struct {
	Kind    string         `json:"kind"`
	Phase   Phase          `json:"phase"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Timing carries the handful of duration measurements client/metrics code
// cares about; zero-valued fields are simply omitted when marshaled.
type Timing struct {
	TTSMs   int64 `json:"tts_ms,omitempty"`
	TotalMs int64 `json:"total_ms,omitempty"`
}

// AudioFormat enumerates the container formats a TTS provider may emit.
type AudioFormat string

const (
	FormatWAV    AudioFormat = "wav"
	FormatMP3    AudioFormat = "mp3"
	FormatRawPCM AudioFormat = "raw-pcm"
)

// Event is a closed tagged union. Only the fields grouped under the current
// Kind are meaningful; Go has no sum type, so a discriminated struct with
// optional fields is the idiomatic stand-in.
type Event struct {
	Kind Kind

	// handshake
	LatencyMs int64

	// delta
	Text string

	// action
	ActionPayload Action

	// text_done
	FullText *string
	Actions  []Action
	Timing   Timing

	// error / tts_error
	Message    string
	Provider   string
	ReasonCode string

	// session_reset
	OldKey string
	NewKey string
	Reason string

	// audio
	ChunkIndex  int
	TotalChunks *int
	Format      AudioFormat
	Bytes       []byte
	SampleRate  int
	Channels    int
	BitsPerSam  int
}

func Handshake(latencyMs int64) Event {
	return Event{Kind: KindHandshake, LatencyMs: latencyMs}
}

func Delta(text string) Event {
	return Event{Kind: KindDelta, Text: text}
}

func NewAction(kind string, phase Phase, payload map[string]any) Event {
	return Event{Kind: KindAction, ActionPayload: Action{Kind: kind, Phase: phase, Payload: payload}}
}

func TextDone(full *string, actions []Action, timing Timing) Event {
	return Event{Kind: KindTextDone, FullText: full, Actions: actions, Timing: timing}
}

func Err(message string) Event {
	return Event{Kind: KindError, Message: message}
}

func SessionReset(old, new, reason string) Event {
	return Event{Kind: KindSessionReset, OldKey: old, NewKey: new, Reason: reason}
}

func Audio(chunkIndex int, total *int, format AudioFormat, bytes []byte, sr, ch, bps int, timing Timing) Event {
	return Event{
		Kind: KindAudio, ChunkIndex: chunkIndex, TotalChunks: total, Format: format,
		Bytes: bytes, SampleRate: sr, Channels: ch, BitsPerSam: bps, Timing: timing,
	}
}

func TTSError(provider, reasonCode, message string) Event {
	return Event{Kind: KindTTSError, Provider: provider, ReasonCode: reasonCode, Message: message}
}

func NoAudio() Event { return Event{Kind: KindNoAudio} }

// IsTerminal reports whether this Event closes out a gateway->orchestrator
// stream: exactly one of text_done/error is emitted per request.
func (e Event) IsTerminal() bool {
	return e.Kind == KindTextDone || e.Kind == KindError
}

// wireEvent is the NDJSON-serializable shape of Event.
type wireEvent struct {
	Type        Kind        `json:"type"`
	Ms          int64       `json:"ms,omitempty"`
	Text        string      `json:"text,omitempty"`
	ActionData  *Action     `json:"action,omitempty"`
	Response    *string     `json:"response,omitempty"`
	Actions     []Action    `json:"actions,omitempty"`
	TimingData  *Timing     `json:"timing,omitempty"`
	Error       string      `json:"error,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Old         string      `json:"old,omitempty"`
	New         string      `json:"new,omitempty"`
	Audio       string      `json:"audio,omitempty"`
	AudioFormat AudioFormat `json:"audio_format,omitempty"`
	Chunk       *int        `json:"chunk,omitempty"`
	TotalChunks *int        `json:"total_chunks,omitempty"`
}

// MarshalJSON renders the NDJSON line clients read one-per-line.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Kind}
	switch e.Kind {
	case KindHandshake:
		w.Ms = e.LatencyMs
	case KindDelta:
		w.Text = e.Text
	case KindAction:
		a := e.ActionPayload
		w.ActionData = &a
	case KindTextDone:
		w.Response = e.FullText
		w.Actions = e.Actions
		if w.Actions == nil {
			w.Actions = []Action{}
		}
		w.TimingData = &e.Timing
	case KindError:
		w.Error = e.Message
	case KindTTSError:
		w.Provider = e.Provider
		w.Reason = e.ReasonCode
		w.Error = e.Message
	case KindSessionReset:
		w.Old = e.OldKey
		w.New = e.NewKey
		w.Reason = e.Reason
	case KindAudio:
		w.Audio = base64Encode(e.Bytes)
		w.AudioFormat = e.Format
		chunk := e.ChunkIndex
		w.Chunk = &chunk
		w.TotalChunks = e.TotalChunks
		w.TimingData = &e.Timing
	case KindNoAudio:
		// no extra fields
	}
	return json.Marshal(w)
}
