// Package assistant runs the conversation: it routes transcripts by state,
// dispatches commands to the agent, speaks replies, and keeps the timeout
// and interruption rules honest.
package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/backend"
	"github.com/Lefyd24/LunaEye/internal/bus"
	"github.com/Lefyd24/LunaEye/internal/recognizer"
	"github.com/Lefyd24/LunaEye/internal/state"
	"github.com/Lefyd24/LunaEye/internal/wake"
)

const (
	// listeningTimeout bounds how long we wait for a command after a bare
	// wake phrase before giving up and going back to sleep.
	listeningTimeout = 8 * time.Second
	// conversationTimeout ends an active conversation that has gone quiet.
	conversationTimeout = 15 * time.Second
	// errorRecoveryDelay is how long the error state is shown before the
	// assistant resumes listening.
	errorRecoveryDelay = 2 * time.Second

	rePrompt = "I didn't catch anything. Just say hey luna when you need me."
)

// Session identifies one conversation thread with the agent.
type Session struct {
	ThreadID       string
	InConversation bool
	StartedAt      time.Time
}

// Speaker is the slice of the speech service the controller needs.
type Speaker interface {
	Speak(ctx context.Context, text string) (interrupted bool, err error)
	Interrupt()
	Speaking() bool
}

// Recognition is the slice of the supervisor the controller needs.
type Recognition interface {
	Start(ctx context.Context) error
	Stop()
	Pause()
	Resume(ctx context.Context) error
	ForceRestart(reason string)
	EnsureListening()
	SetResultHandler(fn func(recognizer.Result))
}

// Controller owns the conversation loop.
type Controller struct {
	machine  *state.Machine
	recog    Recognition
	speaker  Speaker
	detector *wake.Detector
	filter   *wake.Filter
	history  *History
	events   *bus.EventBus
	logger   zerolog.Logger

	channel *backend.Channel
	rest    backend.Responder
	local   backend.Responder

	mu          sync.Mutex
	session     Session
	listenTimer *time.Timer
	convTimer   *time.Timer
	lateQueue   []backend.Reply
	ctx         context.Context

	// afterFn is swappable for tests.
	afterFn func(d time.Duration, fn func()) *time.Timer
}

// Options wires the controller's collaborators. Channel may be nil (REST
// only) and Rest may be nil (socket only); Local is required so the
// assistant always has an answer.
type Options struct {
	Machine  *state.Machine
	Recog    Recognition
	Speaker  Speaker
	Detector *wake.Detector
	Filter   *wake.Filter
	History  *History
	Events   *bus.EventBus
	Channel  *backend.Channel
	Rest     backend.Responder
	Local    backend.Responder
	Logger   zerolog.Logger
}

// New creates the controller and installs its transcript and late-reply
// handlers.
func New(opts Options) *Controller {
	c := &Controller{
		machine:  opts.Machine,
		recog:    opts.Recog,
		speaker:  opts.Speaker,
		detector: opts.Detector,
		filter:   opts.Filter,
		history:  opts.History,
		events:   opts.Events,
		channel:  opts.Channel,
		rest:     opts.Rest,
		local:    opts.Local,
		logger:   opts.Logger.With().Str("component", "assistant").Logger(),
		session:  Session{ThreadID: uuid.NewString(), StartedAt: time.Now()},
		afterFn:  time.AfterFunc,
	}
	if c.filter == nil {
		c.filter = wake.NewFilter(nil)
	}
	if c.history == nil {
		c.history = NewHistory(DefaultHistoryConfig())
	}
	if c.local == nil {
		c.local = backend.NewLocalResponder(opts.Logger)
	}
	if c.recog != nil {
		c.recog.SetResultHandler(c.HandleTranscript)
	}
	if c.channel != nil {
		c.channel.SetLateReplyHandler(c.handleLateReply)
		c.channel.SetClearedHandler(func() {
			c.logger.Info().Msg("Agent confirmed history cleared")
		})
	}
	return c
}

// Start begins recognition and parks the assistant in idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if c.recog != nil {
		if err := c.recog.Start(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Recognition did not start cleanly")
		}
	}
	return nil
}

// Stop shuts the conversation loop down.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.cancelTimersLocked()
	c.mu.Unlock()

	if c.speaker != nil {
		c.speaker.Interrupt()
	}
	if c.recog != nil {
		c.recog.Stop()
	}
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// HandleTranscript routes one recognizer result according to the current
// state. Interims are cheap signals; finals can change everything.
func (c *Controller) HandleTranscript(r recognizer.Result) {
	text, ok := c.filter.Clean(r.Text)
	if !ok {
		return
	}

	current := c.machine.Current()

	if !r.IsFinal {
		// Interims only matter while listening: the user talking is
		// proof the conversation is alive.
		if current == state.StateListening && len(strings.TrimSpace(text)) > wake.MinCommandLength {
			c.touchConversation()
		}
		return
	}

	c.logger.Debug().Str("state", string(current)).Str("text", text).Msg("Final transcript")

	switch current {
	case state.StateIdle, state.StateWaking:
		c.handleWakeCheck(text)

	case state.StateListening:
		c.handleListeningFinal(text)

	case state.StateSpeaking:
		// Everything we hear while speaking is probably our own voice.
		// Only the wake phrase cuts through.
		if c.detector.Match(text) {
			c.InterruptSpeaking()
		}

	case state.StateThinking, state.StateError:
		// Nothing to do with speech here.
	}
}

// handleWakeCheck processes a final transcript heard outside a conversation.
func (c *Controller) handleWakeCheck(text string) {
	if !c.detector.Match(text) {
		return
	}

	cmd, ok := c.detector.ExtractCommand(text)
	if ok && wake.IsCommand(cmd) {
		// "hey luna what time is it" skips the listening pause entirely.
		c.logger.Info().Str("command", cmd).Msg("Wake phrase with inline command")
		go c.Dispatch(cmd, false)
		return
	}

	c.logger.Info().Msg("Wake phrase heard")
	if c.machine.Current() == state.StateIdle {
		if err := c.machine.SetState(state.StateWaking, map[string]any{"reason": "wake phrase"}); err != nil {
			return
		}
	}
	if err := c.machine.SetState(state.StateListening, nil); err != nil {
		return
	}
	c.armListeningTimeout()
	if c.recog != nil {
		c.recog.EnsureListening()
	}
}

// handleListeningFinal treats a final transcript heard in Listening as a
// command, with one exception: a bare wake phrase just means "still here".
func (c *Controller) handleListeningFinal(text string) {
	if c.detector.Match(text) {
		cmd, ok := c.detector.ExtractCommand(text)
		if ok && wake.IsCommand(cmd) {
			go c.Dispatch(cmd, false)
			return
		}
		// Bare wake phrase: the user wants us to keep listening.
		c.touchConversation()
		c.armListeningTimeout()
		return
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	go c.Dispatch(text, false)
}

// Dispatch runs one command/response cycle: Thinking, agent round trip,
// Speaking, then back to Listening. typed marks keyboard input, which goes
// out on a different wire type.
func (c *Controller) Dispatch(command string, typed bool) {
	c.mu.Lock()
	c.cancelTimersLocked()
	c.session.InConversation = true
	threadID := c.session.ThreadID
	ctx := c.ctx
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.machine.SetState(state.StateThinking, map[string]any{"command": command}); err != nil {
		c.logger.Warn().Err(err).Msg("Could not enter thinking state")
		return
	}

	reply, err := c.ask(ctx, command, threadID, typed)
	if err != nil {
		c.logger.Error().Err(err).Msg("No usable reply from any responder")
		c.recoverFromError(err)
		return
	}

	c.speakReply(ctx, command, reply)
	c.drainLateQueue()
}

// ask walks the fallback ladder: live socket, then REST, then the canned
// local responder. A deadline expiry on the socket falls through the ladder
// too; the eventual socket answer comes back through the late path.
func (c *Controller) ask(ctx context.Context, command, threadID string, typed bool) (backend.Reply, error) {
	if c.channel != nil && c.channel.Connected() {
		var reply backend.Reply
		var err error
		if typed {
			reply, err = c.channel.AskText(ctx, command, threadID)
		} else {
			reply, err = c.channel.Ask(ctx, command, threadID)
		}
		if err == nil {
			return reply, nil
		}
		c.logger.Warn().Err(err).Msg("Socket ask failed, trying REST")
	}

	if c.rest != nil {
		reply, err := c.rest.Ask(ctx, command, threadID)
		if err == nil {
			return reply, nil
		}
		c.logger.Warn().Err(err).Msg("REST ask failed, answering locally")
	}

	return c.local.Ask(ctx, command, threadID)
}

// speakReply plays a reply and settles the state machine afterwards.
func (c *Controller) speakReply(ctx context.Context, command string, reply backend.Reply) {
	if err := c.machine.SetState(state.StateSpeaking, map[string]any{"tools": reply.ToolsUsed}); err != nil {
		c.logger.Warn().Err(err).Msg("Could not enter speaking state")
		return
	}

	interrupted, _ := c.speaker.Speak(ctx, reply.Text)
	c.history.Add(command, reply.Text)

	if interrupted {
		// The interrupt path already moved us to Listening and restarted
		// recognition; doing it again here would double up.
		c.logger.Debug().Msg("Reply cut short by the user")
		return
	}

	if c.machine.Current() == state.StateSpeaking {
		if err := c.machine.SetState(state.StateListening, nil); err != nil {
			return
		}
	}
	c.armConversationTimeout()
	if c.recog != nil {
		c.recog.EnsureListening()
	}
}

// recoverFromError shows the error state briefly, then resumes listening
// with the conversation intact.
func (c *Controller) recoverFromError(err error) {
	_ = c.machine.SetState(state.StateError, map[string]any{"error": err.Error()})
	c.afterFn(errorRecoveryDelay, func() {
		if !c.machine.Is(state.StateError) {
			return
		}
		if setErr := c.machine.SetState(state.StateListening, map[string]any{"reason": "error recovery"}); setErr != nil {
			return
		}
		c.armConversationTimeout()
		if c.recog != nil {
			c.recog.EnsureListening()
		}
	})
}

// InterruptSpeaking halts the current reply and hands the floor back to the
// user. Idempotent: a second call during the same utterance is a no-op.
func (c *Controller) InterruptSpeaking() {
	if !c.machine.Is(state.StateSpeaking) && !c.speaker.Speaking() {
		return
	}

	c.logger.Info().Msg("User interrupted playback")
	c.speaker.Interrupt()

	if c.machine.Is(state.StateSpeaking) {
		if err := c.machine.SetState(state.StateListening, map[string]any{"reason": "interrupted"}); err != nil {
			return
		}
	}
	c.armConversationTimeout()

	// Guarantee, not hope: the recognizer must be live right now.
	if c.recog != nil {
		c.recog.ForceRestart("speech interrupted")
	}
}

// handleLateReply deals with an answer that arrived after its deadline. It
// is never dropped: either spoken now or queued behind the current cycle.
func (c *Controller) handleLateReply(reply backend.Reply) {
	if strings.TrimSpace(reply.Text) == "" {
		return
	}

	current := c.machine.Current()
	if current == state.StateThinking || current == state.StateSpeaking {
		c.mu.Lock()
		c.lateQueue = append(c.lateQueue, reply)
		c.mu.Unlock()
		c.logger.Info().Msg("Late reply queued behind current exchange")
		return
	}

	go c.speakLate(reply)
}

func (c *Controller) speakLate(reply backend.Reply) {
	c.mu.Lock()
	ctx := c.ctx
	inConv := c.session.InConversation
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.Info().Msg("Speaking late reply")
	if err := c.machine.SetState(state.StateSpeaking, map[string]any{"reason": "late reply"}); err != nil {
		return
	}
	interrupted, _ := c.speaker.Speak(ctx, reply.Text)
	if interrupted {
		return
	}
	if !c.machine.Is(state.StateSpeaking) {
		return
	}
	if inConv {
		if err := c.machine.SetState(state.StateListening, nil); err == nil {
			c.armConversationTimeout()
			if c.recog != nil {
				c.recog.EnsureListening()
			}
		}
		return
	}
	_ = c.machine.SetState(state.StateIdle, nil)
}

func (c *Controller) drainLateQueue() {
	for {
		c.mu.Lock()
		if len(c.lateQueue) == 0 {
			c.mu.Unlock()
			return
		}
		reply := c.lateQueue[0]
		c.lateQueue = c.lateQueue[1:]
		c.mu.Unlock()
		c.speakLate(reply)
	}
}

// HandleTextInput dispatches typed input through the same cycle as speech.
func (c *Controller) HandleTextInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	go c.Dispatch(text, true)
}

// ClearHistory forgets the conversation on both ends and starts a fresh
// thread.
func (c *Controller) ClearHistory() {
	c.history.Clear()
	c.mu.Lock()
	c.session = Session{ThreadID: uuid.NewString(), StartedAt: time.Now()}
	c.mu.Unlock()

	if c.channel != nil && c.channel.Connected() {
		if err := c.channel.ClearHistory(); err != nil {
			c.logger.Warn().Err(err).Msg("Could not clear agent-side history")
		}
	}
	c.logger.Info().Msg("Conversation history cleared")
}

// SetMuted pauses or resumes the microphone.
func (c *Controller) SetMuted(muted bool) {
	if c.recog == nil {
		return
	}
	if muted {
		c.recog.Pause()
		return
	}
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.recog.Resume(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Could not resume recognition")
	}
}

// armListeningTimeout starts the 8 second wait for a command after a bare
// wake phrase. On expiry the assistant speaks a re-prompt and goes idle.
func (c *Controller) armListeningTimeout() {
	c.mu.Lock()
	if c.listenTimer != nil {
		c.listenTimer.Stop()
	}
	c.listenTimer = c.afterFn(listeningTimeout, c.listeningExpired)
	c.mu.Unlock()
}

func (c *Controller) listeningExpired() {
	if !c.machine.Is(state.StateListening) {
		return
	}
	c.logger.Info().Msg("Listening timed out, going back to sleep")

	c.mu.Lock()
	c.session.InConversation = false
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.machine.SetState(state.StateSpeaking, map[string]any{"reason": "re-prompt"}); err == nil {
		interrupted, _ := c.speaker.Speak(ctx, rePrompt)
		if interrupted {
			// The user barged in on the re-prompt; whatever handled the
			// interruption owns the state now.
			return
		}
	}
	_ = c.machine.SetState(state.StateIdle, nil)
	if c.recog != nil {
		c.recog.EnsureListening()
	}
}

// armConversationTimeout starts the 15 second quiet-conversation clock.
func (c *Controller) armConversationTimeout() {
	c.mu.Lock()
	if c.convTimer != nil {
		c.convTimer.Stop()
	}
	c.convTimer = c.afterFn(conversationTimeout, c.conversationExpired)
	c.mu.Unlock()
}

func (c *Controller) conversationExpired() {
	c.mu.Lock()
	inConv := c.session.InConversation
	c.mu.Unlock()

	if !inConv || !c.machine.Is(state.StateListening) {
		return
	}
	c.logger.Info().Msg("Conversation went quiet, going idle")

	c.mu.Lock()
	c.session.InConversation = false
	c.mu.Unlock()

	_ = c.machine.SetState(state.StateIdle, map[string]any{"reason": "conversation timeout"})
}

// touchConversation re-arms the conversation timeout; called when the user
// is audibly still engaged.
func (c *Controller) touchConversation() {
	c.history.Touch()
	c.mu.Lock()
	inConv := c.session.InConversation
	c.mu.Unlock()
	if inConv {
		c.armConversationTimeout()
	}
}

func (c *Controller) cancelTimersLocked() {
	if c.listenTimer != nil {
		c.listenTimer.Stop()
		c.listenTimer = nil
	}
	if c.convTimer != nil {
		c.convTimer.Stop()
		c.convTimer = nil
	}
}
