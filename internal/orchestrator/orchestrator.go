// Package orchestrator implements the streaming state machine that
// consumes gateway Events, drives parallel per-sentence TTS with strict
// output ordering, and emits a single in-order client event stream.
//
// The macro phases (streaming -> draining -> done/failed) are driven by a
// looplab/fsm.FSM; within the streaming phase, one goroutine owns the
// gateway's in/out channel pair and dispatches each event by kind.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/voicebridge/voicebridge/internal/durable"
	"github.com/voicebridge/voicebridge/internal/event"
	"github.com/voicebridge/voicebridge/internal/gateway"
	"github.com/voicebridge/voicebridge/internal/normalizer"
	"github.com/voicebridge/voicebridge/internal/profile"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/internal/tts"
	"github.com/voicebridge/voicebridge/pkg/logging"
)

// autoResetThreshold is the consecutive-empty-response count that
// triggers an automatic session bump.
const autoResetThreshold = 3

// perChunkTimeout bounds how long the drain phase waits for one TTS task.
const perChunkTimeout = 30 * time.Second

// gatewayIdleTimeout is forwarded to gateway calls as an overall request
// deadline.
const gatewayIdleTimeout = 310 * time.Second

const apologyText = "I'm sorry, I wasn't able to process that right now."

var recognizedAudioExt = map[string]event.AudioFormat{
	".wav": event.FormatWAV,
	".mp3": event.FormatMP3,
	".pcm": event.FormatRawPCM,
}

// Synthesizer is the subset of chunker.Chunker the orchestrator needs,
// narrowed to an interface so tests can stub it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, provider tts.Provider, opts tts.SynthesizeOpts) (tts.AudioChunk, error)
}

// Deps bundles the Orchestrator's collaborators, handed in by value
// instead of resolved through process-wide singletons.
type Deps struct {
	Gateways      *gateway.Registry
	TTS           *tts.Registry
	Sessions      *session.Store
	Normalizer    *normalizer.Normalizer
	Chunker       Synthesizer
	Sink          *durable.Sink         // may be nil: durability becomes a no-op
	Counters      *durable.LiveCounters // may be nil
	Logger        *logging.Logger
	DBPath        string   // sqlite path for history/metrics writes; "" disables
	FallbackIDs   []string // ordered gateway ids tried by the fallback chain
	SessionPrefix string   // default "voice"
}

// Orchestrator drives one conversation pipeline per request.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.SessionPrefix == "" {
		deps.SessionPrefix = "voice"
	}
	return &Orchestrator{deps: deps}
}

// Request is one conversation-pipeline invocation.
type Request struct {
	Message          string
	SessionKey       session.Key
	Profile          profile.Profile
	GatewayID        string // request override
	TTSProviderID    string // request override
	Voice            string // request override
	MaxResponseChars int    // request override, 0 = use profile
	UIContext        UIContext
	AgentID          string
}

// UIContext carries the client's current canvas/music/identity state,
// concatenated as a bracketed prefix to the user message before it
// reaches the gateway.
type UIContext struct {
	CanvasVisible    bool
	CanvasDisplayed  string
	MusicPlaying     bool
	MusicTrack       string
	IdentifiedPerson string
}

func (u UIContext) prefix() string {
	var parts []string
	if u.CanvasVisible {
		parts = append(parts, fmt.Sprintf("[CANVAS:visible=%t,displayed=%s]", u.CanvasVisible, u.CanvasDisplayed))
	}
	if u.MusicPlaying {
		parts = append(parts, fmt.Sprintf("[MUSIC:playing=%t,track=%s]", u.MusicPlaying, u.MusicTrack))
	}
	if u.IdentifiedPerson != "" {
		parts = append(parts, fmt.Sprintf("[IDENTITY:%s]", u.IdentifiedPerson))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "") + " "
}

// pendingTask is one in-flight TTS synthesis, ordered by spawn order so
// the drain phase and mid-stream flush can keep chunk_index strictly
// monotonic.
type pendingTask struct {
	done       chan struct{}
	chunk      tts.AudioChunk
	err        error
	reasonCode string
	startedAt  time.Time
}

func (o *Orchestrator) spawnTTS(ctx context.Context, text string, req Request, provider tts.Provider) *pendingTask {
	pt := &pendingTask{done: make(chan struct{}), startedAt: time.Now()}
	go func() {
		defer close(pt.done)
		if provider == nil {
			pt.err = fmt.Errorf("tts: no provider available")
			pt.reasonCode = "error"
			return
		}
		cleaned := o.deps.Normalizer.Normalize(text, req.Profile.ID)
		if cleaned == "" {
			pt.err = fmt.Errorf("tts: normalized text is empty")
			pt.reasonCode = "error"
			return
		}
		cctx, cancel := context.WithTimeout(ctx, perChunkTimeout)
		defer cancel()
		chunk, err := o.deps.Chunker.Synthesize(cctx, cleaned, req.Voice, provider, tts.SynthesizeOpts{Voice: req.Voice})
		if err != nil {
			pt.err = err
			pt.reasonCode = classifyTTSError(err)
			return
		}
		pt.chunk = chunk
	}()
	return pt
}

// classifyTTSError maps a provider error to a stable reason code for the
// tts_error event. Providers are not required to return typed errors, so
// this is a best-effort substring classification.
func classifyTTSError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "credit") || strings.Contains(msg, "quota"):
		return "no_credits"
	case strings.Contains(msg, "terms"):
		return "terms"
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return "bad_key"
	default:
		return "error"
	}
}

// state carries every mutable variable the streaming state machine needs
// across the lifetime of one request.
type state struct {
	out               chan event.Event
	buf               strings.Builder
	pending           []*pendingTask
	chunksSent        int
	fullResponseParts []string
	capturedActions   []event.Action
	provider          tts.Provider
	machine           *fsm.FSM
}

// Run drives one request end to end and returns the client-facing event
// channel. The channel is closed once the terminal event (and any
// drain-phase audio) has been sent.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan event.Event {
	st := &state{
		out: make(chan event.Event, 64),
		machine: fsm.NewFSM(
			"streaming",
			fsm.Events{
				{Name: "finish_text", Src: []string{"streaming"}, Dst: "draining"},
				{Name: "fail", Src: []string{"streaming", "draining"}, Dst: "failed"},
				{Name: "complete", Src: []string{"draining"}, Dst: "done"},
			},
			fsm.Callbacks{},
		),
	}
	go o.run(ctx, req, st)
	return st.out
}

func (o *Orchestrator) run(ctx context.Context, req Request, st *state) {
	defer close(st.out)

	log := o.deps.Logger.WithSession(string(req.SessionKey))

	provider, err := o.selectTTSProvider(req)
	if err != nil {
		st.out <- event.TTSError("", "error", err.Error())
		if log != nil {
			log.Warnf("tts selection failed: %v", err)
		}
	}
	st.provider = provider

	gw, gwErr := o.deps.Gateways.Resolve(req.GatewayID)
	if gwErr != nil && log != nil {
		log.Warnf("gateway resolve failed for %q: %v", req.GatewayID, gwErr)
	}
	started := time.Now()

	var gwErrEmitted bool
	var sawTextDone bool
	if gwErr == nil {
		sawTextDone, gwErrEmitted = o.streamGateway(ctx, req, gw, st)
	}

	fallbackUsed := false
	if gwErr != nil || (!sawTextDone && !gwErrEmitted) {
		fallbackUsed = true
		o.runFallbackChain(ctx, req, st)
	}

	elapsed := time.Since(started)
	o.recordMetrics(req, gw, fallbackUsed, !gwErrEmitted, elapsed)
	_ = gwErrEmitted
}

// streamGateway consumes one gateway's event stream, forwarding or acting
// on each event by kind. Returns whether a text_done was observed and
// whether an error event was emitted to the client (so the caller knows
// not to double-report).
func (o *Orchestrator) streamGateway(ctx context.Context, req Request, gw gateway.Gateway, st *state) (sawTextDone bool, errEmitted bool) {
	ch := make(chan event.Event, 16)
	gctx, cancel := context.WithTimeout(ctx, gatewayIdleTimeout)
	defer cancel()

	message := req.UIContext.prefix() + req.Message

	done := make(chan error, 1)
	go func() {
		done <- gw.StreamToQueue(gctx, ch, message, req.SessionKey, &st.capturedActions, gateway.StreamOpts{AgentID: req.AgentID})
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// The gateway closed its channel without a terminal
				// event; returning with sawTextDone=false hands the
				// request to the fallback chain immediately instead of
				// waiting out the idle timeout.
				return sawTextDone, errEmitted
			}
			switch ev.Kind {
			case event.KindHandshake:
				// Handshake only carries latency; nothing to forward.
			case event.KindDelta:
				o.onDelta(ctx, req, st, ev)
				st.out <- ev
			case event.KindAction:
				o.flushCompletedPending(st)
				st.out <- ev
			case event.KindTextDone:
				sawTextDone = true
				o.onTextDone(ctx, req, st, ev)
				return sawTextDone, errEmitted
			case event.KindError:
				st.out <- ev
				errEmitted = true
				_ = st.machine.Event(ctx, "fail")
				return sawTextDone, errEmitted
			}
		case gwErr := <-done:
			if gwErr != nil && !sawTextDone {
				st.out <- event.Err(gwErr.Error())
				errEmitted = true
				_ = st.machine.Event(ctx, "fail")
				return sawTextDone, errEmitted
			}
		case <-gctx.Done():
			if !sawTextDone {
				st.out <- event.Err("gateway idle timeout")
				errEmitted = true
				_ = st.machine.Event(ctx, "fail")
			}
			return sawTextDone, errEmitted
		}
	}
}

// onDelta consumes one gateway text delta, peeling off complete sentences
// as they accumulate and handing each to TTS.
func (o *Orchestrator) onDelta(ctx context.Context, req Request, st *state, ev event.Event) {
	st.buf.WriteString(ev.Text)
	st.fullResponseParts = append(st.fullResponseParts, ev.Text)

	for {
		sentence, remainder, ok := extractSentence(st.buf.String())
		if !ok {
			return
		}
		st.buf.Reset()
		st.buf.WriteString(remainder)
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		if pt := o.extractAndSpawnTTS(ctx, sentence, req, st); pt != nil {
			st.pending = append(st.pending, pt)
		}
	}
}

// extractAndSpawnTTS pulls any inline canvas/music commands out of text,
// recording each as a captured action, and only spawns TTS if speakable
// text remains once they're removed.
func (o *Orchestrator) extractAndSpawnTTS(ctx context.Context, text string, req Request, st *state) *pendingTask {
	stripped, actions := extractSideChannelActions(text)
	st.capturedActions = append(st.capturedActions, actions...)
	if strings.TrimSpace(stripped) == "" {
		return nil
	}
	return o.spawnTTS(ctx, stripped, req, st.provider)
}

// flushCompletedPending emits audio/tts_error for every already-completed
// task at the front of pending, in spawn order, so chunk_index stays
// strictly monotonic. It runs when an action event arrives, just before
// that action is forwarded.
func (o *Orchestrator) flushCompletedPending(st *state) {
	for len(st.pending) > 0 {
		pt := st.pending[0]
		select {
		case <-pt.done:
			o.emitPendingResult(st, pt, nil)
			st.pending = st.pending[1:]
		default:
			return
		}
	}
}

func (o *Orchestrator) emitPendingResult(st *state, pt *pendingTask, total *int) {
	if pt.err != nil {
		st.out <- event.TTSError(o.providerID(st), pt.reasonCode, pt.err.Error())
		if o.deps.Counters != nil {
			o.deps.Counters.IncrTTSErrors(pt.reasonCode)
		}
		return
	}
	st.out <- event.Audio(
		st.chunksSent, total, event.AudioFormat(pt.chunk.Format), pt.chunk.Bytes,
		pt.chunk.SampleRate, pt.chunk.Channels, pt.chunk.BitsPerSample,
		event.Timing{TTSMs: time.Since(pt.startedAt).Milliseconds()},
	)
	st.chunksSent++
}

func (o *Orchestrator) providerID(st *state) string {
	if st.provider == nil {
		return ""
	}
	return st.provider.ID()
}

// onTextDone implements the text_done row: truncation, the system-
// sentinel short-circuit, and the transition into the drain phase.
func (o *Orchestrator) onTextDone(ctx context.Context, req Request, st *state, ev event.Event) {
	full := strings.Join(st.fullResponseParts, "")
	if ev.FullText != nil && *ev.FullText != "" {
		full = *ev.FullText
	}

	limit := req.MaxResponseChars
	if limit == 0 {
		limit = req.Profile.MaxResponseChars
	}
	if limit > 0 {
		full = truncateAtSentenceBoundary(full, limit)
	}

	resetNow := strings.Contains(full, "[SESSION_RESET]")
	full = strings.ReplaceAll(full, "[SESSION_RESET]", "")

	// Pull side-channel tags out of the not-yet-extracted buffer tail now,
	// so the text_done event carries every captured action including those
	// the drain phase would otherwise only discover after it was emitted.
	strippedTail, tailActions := extractSideChannelActions(st.buf.String())
	strippedTail = strings.ReplaceAll(strippedTail, "[SESSION_RESET]", "")
	st.capturedActions = append(st.capturedActions, tailActions...)
	st.buf.Reset()
	st.buf.WriteString(strippedTail)

	if isSentinelMessage(req.Message) && isBareYesNo(full) {
		st.out <- event.TextDone(strPtr(full), st.capturedActions, ev.Timing)
		st.out <- event.NoAudio()
		_ = st.machine.Event(ctx, "finish_text")
		_ = st.machine.Event(ctx, "complete")
		o.recordHistoryAndReset(req, st, full, resetNow)
		return
	}

	st.out <- event.TextDone(strPtr(full), st.capturedActions, ev.Timing)
	_ = st.machine.Event(ctx, "finish_text")

	if passthrough, handled := o.tryAudioPassthrough(full); handled {
		st.out <- passthrough
		_ = st.machine.Event(ctx, "complete")
		o.recordHistoryAndReset(req, st, full, resetNow)
		return
	}

	o.drain(ctx, req, st, full)
	_ = st.machine.Event(ctx, "complete")
	o.recordHistoryAndReset(req, st, full, resetNow)
}

// drain synthesizes whatever text is still outstanding once the gateway
// has finished: the last partial sentence left in the buffer, or, if no
// sentence was ever completed, the full response in one shot.
func (o *Orchestrator) drain(ctx context.Context, req Request, st *state, full string) {
	remainder := strings.TrimSpace(st.buf.String())
	if remainder != "" {
		if pt := o.extractAndSpawnTTS(ctx, remainder, req, st); pt != nil {
			st.pending = append(st.pending, pt)
		}
		st.buf.Reset()
	}

	if len(st.pending) == 0 {
		if strings.TrimSpace(full) == "" {
			st.out <- event.NoAudio()
			return
		}
		// Tags in full were already captured either mid-stream or from the
		// buffer tail, so strip without re-capturing here.
		stripped, _ := extractSideChannelActions(full)
		if strings.TrimSpace(stripped) != "" {
			st.pending = append(st.pending, o.spawnTTS(ctx, stripped, req, st.provider))
		}
	}

	if len(st.pending) == 0 {
		st.out <- event.NoAudio()
		return
	}

	total := st.chunksSent + len(st.pending)
	for _, pt := range st.pending {
		select {
		case <-pt.done:
			o.emitPendingResult(st, pt, &total)
			if pt.err != nil {
				return // stop emitting further audio on first failure
			}
		case <-time.After(perChunkTimeout):
			st.out <- event.TTSError(o.providerID(st), "error", "tts task timed out")
			if o.deps.Counters != nil {
				o.deps.Counters.IncrTTSErrors("error")
			}
			return
		case <-ctx.Done():
			return
		}
	}
	st.pending = nil
}

// runFallbackChain tries each configured fallback gateway's synchronous
// Ask in order, re-entering the drain phase with whichever response is
// obtained first; a canned apology is used if every fallback also fails.
func (o *Orchestrator) runFallbackChain(ctx context.Context, req Request, st *state) {
	message := req.UIContext.prefix() + req.Message
	for _, id := range o.deps.FallbackIDs {
		gw, ok := o.deps.Gateways.Get(id)
		if !ok || !gw.IsConfigured() {
			continue
		}
		text, err := gw.Ask(ctx, message, req.SessionKey)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		o.finishWithText(ctx, req, st, text)
		return
	}
	o.finishWithText(ctx, req, st, apologyText)
}

// finishWithText emits the terminal text_done for a fallback response and
// runs the drain phase against it.
func (o *Orchestrator) finishWithText(ctx context.Context, req Request, st *state, text string) {
	st.out <- event.TextDone(strPtr(text), st.capturedActions, event.Timing{})
	_ = st.machine.Event(ctx, "finish_text")
	o.drain(ctx, req, st, text)
	_ = st.machine.Event(ctx, "complete")
	o.recordHistoryAndReset(req, st, text, strings.Contains(text, "[SESSION_RESET]"))
}

// tryAudioPassthrough recognizes a response that is itself a local audio
// file path and, if the file exists, streams its bytes back verbatim
// instead of running it through TTS.
func (o *Orchestrator) tryAudioPassthrough(full string) (event.Event, bool) {
	path := strings.TrimSpace(full)
	ext := strings.ToLower(filepath.Ext(path))
	format, recognized := recognizedAudioExt[ext]
	if !recognized {
		return event.Event{}, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return event.Event{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return event.Event{}, false
	}
	total := 1
	return event.Audio(0, &total, format, data, 0, 0, 0, event.Timing{}), true
}

// recordHistoryAndReset appends the user and assistant turns, enqueues the
// history row, applies the auto-reset policy, and emits session_reset if
// warranted.
func (o *Orchestrator) recordHistoryAndReset(req Request, st *state, responseText string, explicitReset bool) {
	o.deps.Sessions.Append(req.SessionKey, session.Turn{Role: session.RoleUser, Content: req.Message})
	o.deps.Sessions.Append(req.SessionKey, session.Turn{Role: session.RoleAssistant, Content: responseText})

	if o.deps.Sink != nil && o.deps.DBPath != "" {
		q, params := durable.PrepareHistoryInsert(string(req.SessionKey), "assistant", responseText, req.TTSProviderID, req.Voice, time.Now())
		o.deps.Sink.Enqueue(o.deps.DBPath, q, params...)
	}

	responseEmpty := strings.TrimSpace(responseText) == ""
	prefix := sessionPrefix(req.SessionKey, o.deps.SessionPrefix)
	reachedThreshold := o.deps.Sessions.RecordTextDone(req.SessionKey, responseEmpty, autoResetThreshold)

	if explicitReset {
		newKey := o.deps.Sessions.Bump(prefix)
		st.out <- event.SessionReset(string(req.SessionKey), string(newKey), "explicit_marker")
		return
	}
	if reachedThreshold {
		newKey := o.deps.Sessions.Bump(prefix)
		st.out <- event.SessionReset(string(req.SessionKey), string(newKey), "consecutive_empty")
	}
}

func (o *Orchestrator) recordMetrics(req Request, gw gateway.Gateway, fallbackUsed, success bool, elapsed time.Duration) {
	if o.deps.Counters != nil {
		gwID := req.GatewayID
		if gw != nil {
			gwID = gw.ID()
		}
		o.deps.Counters.IncrRequests(gwID, fallbackUsed, !success)
	}
	if o.deps.Sink == nil || o.deps.DBPath == "" {
		return
	}
	gwID := ""
	if gw != nil {
		gwID = gw.ID()
	}
	q, params := durable.PrepareMetricsInsert(string(req.SessionKey), gwID, req.TTSProviderID, elapsed.Milliseconds(), 0, elapsed.Milliseconds(), fallbackUsed, success, time.Now())
	o.deps.Sink.Enqueue(o.deps.DBPath, q, params...)
}

func (o *Orchestrator) selectTTSProvider(req Request) (tts.Provider, error) {
	return o.deps.TTS.Select(req.TTSProviderID, req.Profile.TTSProvider)
}

func sessionPrefix(key session.Key, fallback string) string {
	s := string(key)
	if idx := strings.LastIndex(s, "-"); idx > 0 {
		return s[:idx]
	}
	return fallback
}

func isSentinelMessage(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), "__")
}

func isBareYesNo(response string) bool {
	r := strings.ToUpper(strings.TrimSpace(response))
	return r == "YES" || r == "NO"
}

func strPtr(s string) *string { return &s }
