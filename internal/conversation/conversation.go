// Package conversation implements the Conversation FSM from spec.md §4.F:
// WAKE/ATTENTIVE_LISTEN/THINK/SPEAK driven by a lossy STT stream, an LLM
// client, and a shared stop signal. Grounded verbatim on
// original_source/Server/core/VoiceInterface.py's ConversationManager per
// SPEC_FULL.md §4.F's Open Question resolution.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/rclock"
)

// State is one of the four ConversationFSM states.
type State int

const (
	Wake State = iota
	AttentiveListen
	Think
	Speak
)

func (s State) String() string {
	switch s {
	case Wake:
		return "WAKE"
	case AttentiveListen:
		return "ATTENTIVE_LISTEN"
	case Think:
		return "THINK"
	case Speak:
		return "SPEAK"
	default:
		return "UNKNOWN"
	}
}

// ledFor maps a ConversationFSM state to the LED animation name,
// mirroring VoiceInterface.py's LED_STATE_MAP.
func ledFor(s State) string {
	switch s {
	case Wake:
		return "wake"
	case AttentiveListen:
		return "listen"
	case Think:
		return "processing"
	case Speak:
		return "speaking"
	default:
		return "off"
	}
}

// Default constants, carried over from VoiceInterface.py.
const (
	MaxReplyChars      = 220
	AttentionTTL       = 15 * time.Second
	AttnBonusAfterSpeak = 5 * time.Second
	SpeakCooldown      = 1500 * time.Millisecond
)

// DefaultWakeWords is the case-insensitive substring wake-word set.
var DefaultWakeWords = []string{"humo", "lo humo", "alumno", "lune", "lomo"}

// DefaultMemoryTurns mirrors VoiceInterface.py's module-level
// mem = ConversationMemory(last_n=3).
const DefaultMemoryTurns = 3

// DefaultSystemPrompt mirrors persona.py's build_system/SYSTEM_STYLE,
// trimmed to the persona-neutral instructions (profile/threads/state
// blocks are deployment-specific and left to the caller via
// Config.SystemPrompt).
const DefaultSystemPrompt = "You are a small companion robot: warm, playful, and a good listener. " +
	"Reply in one or two natural sentences, never long paragraphs. " +
	"Never say you are an AI or mention technical limitations."

func containsWakeWord(text string, words []string) bool {
	lowered := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// STT is the speech-to-text collaborator consumed by the ConversationFSM.
// Listen returns ("", false) if no utterance arrived within timeout — a
// Go-idiomatic stand-in for VoiceInterface.py's generator that yields
// None on a queue timeout.
type STT interface {
	Listen(timeout time.Duration) (string, bool)
	Pause()
	Resume()
	Stop()
}

// TTS speaks a reply aloud.
type TTS interface {
	Speak(text string) error
}

// LED drives the robot's status lighting.
type LED interface {
	SetState(state string)
	Close() error
}

// Message is one turn in a chat-style conversation, matching
// llm_memory.py's {"role": ..., "content": ...} dict shape.
type Message struct {
	Role    string
	Content string
}

// LLMClient queries the conversational model with the full message
// history built by Memory.
type LLMClient interface {
	Query(ctx context.Context, messages []Message, maxReplyChars int) (string, error)
}

// Memory keeps the last N user/assistant turns for short-term context,
// grounded verbatim on original_source/Server/mind/llm_memory.py's
// ConversationMemory. The FSM owns one Memory instance per spec.md §9's
// "ConversationFSM owns its memory" resolution; there is no module-level
// store.
type Memory struct {
	lastN   int
	history []Message
}

// NewMemory constructs a Memory retaining the last lastN turns (lastN*2
// messages). lastN <= 0 falls back to ConversationMemory's default of 4.
func NewMemory(lastN int) *Memory {
	if lastN <= 0 {
		lastN = 4
	}
	return &Memory{lastN: lastN}
}

// AddTurn records a completed user/assistant exchange, trimming to the
// last lastN turns.
func (m *Memory) AddTurn(userText, assistantText string) {
	m.history = append(m.history, Message{Role: "user", Content: userText}, Message{Role: "assistant", Content: assistantText})
	if max := m.lastN * 2; len(m.history) > max {
		m.history = m.history[len(m.history)-max:]
	}
}

// Reset clears all remembered turns.
func (m *Memory) Reset() { m.history = nil }

// BuildMessages assembles the full message list for the next query:
// system prompt, remembered history, then the new user turn.
func (m *Memory) BuildMessages(systemText, userText string) []Message {
	msgs := make([]Message, 0, len(m.history)+2)
	if systemText != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemText})
	}
	msgs = append(msgs, m.history...)
	msgs = append(msgs, Message{Role: "user", Content: userText})
	return msgs
}

// RetryPolicy configures the THINK-state LLM retry/backoff loop.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Backoff      float64
	MaxDelay     time.Duration // zero means unbounded
}

// DefaultRetryPolicy mirrors ConversationManager's constructor defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, Backoff: 2.0}
}

// Metrics tracks LLM call counters and listen-window durations, mirroring
// VoiceInterface.py's ConversationMetrics.
type Metrics struct {
	mu               sync.Mutex
	LLMCalls         int
	LLMRetryCount    int
	LLMTotalLatency  time.Duration
	listenStartedAt  *time.Time
	TotalListenTime  time.Duration
}

func (m *Metrics) startListen(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenStartedAt == nil {
		t := now
		m.listenStartedAt = &t
	}
}

func (m *Metrics) stopListen(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenStartedAt == nil {
		return
	}
	elapsed := now.Sub(*m.listenStartedAt)
	if elapsed > 0 {
		m.TotalListenTime += elapsed
	}
	m.listenStartedAt = nil
}

func (m *Metrics) recordLLM(latency time.Duration, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLMCalls++
	m.LLMRetryCount += retries
	m.LLMTotalLatency += latency
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{LLMCalls: m.LLMCalls, LLMRetryCount: m.LLMRetryCount, LLMTotalLatency: m.LLMTotalLatency, TotalListenTime: m.TotalListenTime}
}

// Config configures a FSM.
type Config struct {
	WakeWords           []string
	MaxReplyChars       int
	AttentionTTL        time.Duration
	AttnBonusAfterSpeak time.Duration
	SpeakCooldown       time.Duration
	PollInterval        time.Duration
	Retry               RetryPolicy
	SystemPrompt        string
	MemoryTurns         int
}

// DefaultConfig mirrors VoiceInterface.py's module-level constants and
// ConversationManager constructor defaults.
func DefaultConfig() Config {
	return Config{
		WakeWords:           DefaultWakeWords,
		MaxReplyChars:       MaxReplyChars,
		AttentionTTL:        AttentionTTL,
		AttnBonusAfterSpeak: AttnBonusAfterSpeak,
		SpeakCooldown:       SpeakCooldown,
		PollInterval:        20 * time.Millisecond,
		Retry:               DefaultRetryPolicy(),
		SystemPrompt:        DefaultSystemPrompt,
		MemoryTurns:         DefaultMemoryTurns,
	}
}

// FSM is the Conversation FSM. Single-threaded cooperative loop: Run must
// be invoked from exactly one goroutine.
type FSM struct {
	cfg Config
	stt STT
	tts TTS
	led LED
	llm LLMClient
	log *zerolog.Logger
	mem *Memory

	stop <-chan struct{}

	Metrics Metrics

	mu    sync.Mutex
	state State

	pending       string
	reply         string
	hasReply      bool
	lastSpeakEnd  time.Time
	attentiveUntil time.Time
}

// New constructs a FSM in the WAKE state. stop is a channel the caller
// closes to request shutdown; it is never written to, only closed.
func New(cfg Config, stt STT, tts TTS, led LED, llm LLMClient, stop <-chan struct{}, log *zerolog.Logger) *FSM {
	if log == nil {
		log = observability.For("conversation_fsm")
	}
	return &FSM{
		cfg:          cfg,
		stt:          stt,
		tts:          tts,
		led:          led,
		llm:          llm,
		log:          log,
		mem:          NewMemory(cfg.MemoryTurns),
		stop:         stop,
		state:        Wake,
		lastSpeakEnd: rclock.Now(),
	}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FSM) setState(newState State) {
	f.mu.Lock()
	changed := newState != f.state
	if changed {
		f.state = newState
	}
	f.mu.Unlock()
	if !changed {
		return
	}
	f.log.Info().Str("to", newState.String()).Msg("conversation state transition")
	if f.led != nil {
		f.led.SetState(ledFor(newState))
	}
}

func (f *FSM) stopRequested() bool {
	select {
	case <-f.stop:
		return true
	default:
		return false
	}
}

func (f *FSM) waitWithStop(d time.Duration) bool {
	res := rclock.WaitWithCancel(d, f.stop)
	return res.Canceled
}

// Run blocks on waitUntilReady (if non-nil), then drives the cooperative
// poll loop until the stop channel closes, cleaning up STT/LED state
// before returning. Mirrors ConversationManager.run.
func (f *FSM) Run(waitUntilReady func()) {
	f.log.Info().Msg("conversation manager starting")
	defer f.cleanup()

	if waitUntilReady != nil {
		waitUntilReady()
	}
	if f.stopRequested() {
		return
	}

	f.setState(Wake)

	for {
		if f.stopRequested() {
			return
		}

		utter, hasUtter := f.stt.Listen(f.cfg.PollInterval)
		now := rclock.Now()

		switch f.State() {
		case Wake:
			if hasUtter && utter != "" {
				f.log.Info().Str("utterance", utter).Msg("heard")
				if containsWakeWord(utter, f.cfg.WakeWords) {
					f.log.Info().Msg("wake word detected")
					f.attentiveUntil = now.Add(f.cfg.AttentionTTL)
					f.Metrics.startListen(now)
					f.setState(AttentiveListen)
				}
			}

		case AttentiveListen:
			if now.After(f.attentiveUntil) {
				f.log.Info().Msg("attention expired")
				f.Metrics.stopListen(now)
				f.setState(Wake)
			} else if hasUtter && utter != "" {
				f.log.Info().Str("command", utter).Msg("command received")
				f.pending = utter
				f.attentiveUntil = now.Add(f.cfg.AttentionTTL)
				f.Metrics.stopListen(now)
				f.stt.Pause()
				f.setState(Think)
			}

		case Think:
			reply, err := f.queryLLM(f.pending)
			if err != nil {
				if f.stopRequested() {
					return
				}
				f.log.Error().Err(err).Msg("LLM processing failed")
				f.stt.Resume()
				f.setState(Wake)
				break
			}
			f.reply = reply
			f.hasReply = true
			f.setState(Speak)

		case Speak:
			if f.hasReply {
				f.log.Info().Str("reply", f.reply).Msg("speaking reply")
				if err := f.tts.Speak(f.reply); err != nil {
					f.log.Error().Err(err).Msg("TTS failed")
				}
				f.hasReply = false
				f.reply = ""
				f.lastSpeakEnd = rclock.Now()
				f.attentiveUntil = f.lastSpeakEnd.Add(f.cfg.AttentionTTL + f.cfg.AttnBonusAfterSpeak)
			}
			if rclock.Now().Sub(f.lastSpeakEnd) >= f.cfg.SpeakCooldown {
				f.stt.Resume()
				f.Metrics.startListen(rclock.Now())
				f.setState(AttentiveListen)
			}
		}

		if f.waitWithStop(f.cfg.PollInterval) {
			return
		}
	}
}

// queryLLM runs the THINK-state retry loop: up to Retry.MaxAttempts
// attempts, waiting Retry.InitialDelay*Backoff^n (capped at MaxDelay)
// between failures via the cancellable wait helper. Each attempt sends
// the full message history built from f.mem, mirroring VoiceInterface.py's
// mem.build_messages(system, text) into llm_ask. On success the turn is
// recorded into memory via mem.add_turn.
func (f *FSM) queryLLM(text string) (string, error) {
	delay := f.cfg.Retry.InitialDelay
	retries := 0
	var lastErr error
	messages := f.mem.BuildMessages(f.cfg.SystemPrompt, text)

	for attempt := 1; attempt <= f.cfg.Retry.MaxAttempts; attempt++ {
		start := rclock.Now()
		reply, err := f.llm.Query(context.Background(), messages, f.cfg.MaxReplyChars)
		if err == nil {
			f.Metrics.recordLLM(rclock.Now().Sub(start), retries)
			f.mem.AddTurn(text, reply)
			return reply, nil
		}
		lastErr = err
		f.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", f.cfg.Retry.MaxAttempts).Msg("LLM query failed")
		if attempt >= f.cfg.Retry.MaxAttempts {
			break
		}
		retries++
		wait := delay
		if f.cfg.Retry.MaxDelay > 0 && wait > f.cfg.Retry.MaxDelay {
			wait = f.cfg.Retry.MaxDelay
		}
		if f.waitWithStop(wait) {
			return "", lastErr
		}
		delay = time.Duration(float64(delay) * f.cfg.Retry.Backoff)
	}
	return "", lastErr
}

func (f *FSM) cleanup() {
	f.Metrics.stopListen(rclock.Now())
	f.stt.Stop()
	if f.led != nil {
		f.led.SetState("off")
		if err := f.led.Close(); err != nil {
			f.log.Debug().Err(err).Msg("error closing LED handler")
		}
	}
}
