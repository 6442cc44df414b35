package recognizer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/bus"
	"github.com/Lefyd24/LunaEye/internal/state"
)

// lifecycle is the supervisor's own phase, separate from the assistant
// state machine. Exactly one phase holds at a time.
type lifecycle int

const (
	lifecycleStopped lifecycle = iota
	lifecycleStarting
	lifecycleRunning
	lifecycleRestartPending
	lifecyclePaused
)

func (l lifecycle) String() string {
	switch l {
	case lifecycleStopped:
		return "stopped"
	case lifecycleStarting:
		return "starting"
	case lifecycleRunning:
		return "running"
	case lifecycleRestartPending:
		return "restart-pending"
	case lifecyclePaused:
		return "paused"
	}
	return "unknown"
}

const (
	// fastRestartDelay is used after benign endings (no speech detected).
	fastRestartDelay = 100 * time.Millisecond
	// errorRestartDelay is used after recoverable faults.
	errorRestartDelay = 1 * time.Second
	// listeningGraceDelay is how long the watchdog waits after entering
	// the listening state before forcing a restart.
	listeningGraceDelay = 300 * time.Millisecond
	// maxNetworkErrors is the consecutive failure count that flips the
	// supervisor into permanent local detection.
	maxNetworkErrors = 3
)

// Supervisor owns the recognizer lifecycle: it starts the streaming adapter,
// restarts it whenever it ends while the assistant still needs ears, and
// degrades to local volume detection when the streaming service fails
// repeatedly. At most one restart is ever scheduled; scheduling a new one
// cancels the old.
type Supervisor struct {
	primary Adapter
	local   Adapter
	machine *state.Machine
	events  *bus.EventBus
	logger  zerolog.Logger

	mu            sync.Mutex
	phase         lifecycle
	restartTimer  *time.Timer
	networkErrors int
	errorStreak   int
	localMode     bool
	// generation identifies the current adapter session. Callbacks carry
	// the generation they were created under; anything from an older
	// session is ignored.
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc

	onResult func(Result)

	// afterFn is swappable for tests.
	afterFn func(d time.Duration, fn func()) *time.Timer
}

// NewSupervisor wires the supervisor to its adapters and the assistant state
// machine. The local adapter may be nil, in which case the fallback is a
// no-recognizer mode.
func NewSupervisor(primary, local Adapter, machine *state.Machine, events *bus.EventBus, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		primary: primary,
		local:   local,
		machine: machine,
		events:  events,
		logger:  logger.With().Str("component", "recognizer-supervisor").Logger(),
		phase:   lifecycleStopped,
		afterFn: time.AfterFunc,
	}
	if machine != nil {
		machine.Subscribe(state.KeyEnter(state.StateListening), func(state.Change) {
			s.watchdogListening()
		})
	}
	return s
}

// SetResultHandler installs the transcript consumer. Must be called before
// Start.
func (s *Supervisor) SetResultHandler(fn func(Result)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

// LocalMode reports whether the supervisor has degraded to volume-only
// detection.
func (s *Supervisor) LocalMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localMode
}

// Running reports whether a recognizer session is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == lifecycleRunning || s.phase == lifecycleStarting
}

// active returns the adapter the supervisor should be driving.
func (s *Supervisor) active() Adapter {
	if s.localMode && s.local != nil {
		return s.local
	}
	return s.primary
}

// Start begins recognition. It is guarded: a session that is already
// running, starting, or pending restart is left alone, and a paused
// supervisor refuses to start until Resume.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case lifecycleRunning, lifecycleStarting:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case lifecycleRestartPending:
		s.mu.Unlock()
		return ErrRestartPending
	case lifecyclePaused:
		s.mu.Unlock()
		return ErrPaused
	}
	s.phase = lifecycleStarting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.generation++
	gen := s.generation
	adapter := s.active()
	isLocal := s.localMode && s.local != nil
	runCtx := s.ctx
	s.mu.Unlock()

	// Each session gets callbacks stamped with its generation, so a
	// straggling end or error from a torn-down session cannot disturb the
	// one that replaced it.
	if isLocal {
		adapter.SetEvents(Events{
			OnStart: func() { s.handleStart(gen) },
			OnEnd:   func() { s.handleLocalEnd(gen) },
		})
	} else {
		adapter.SetEvents(Events{
			OnStart:  func() { s.handleStart(gen) },
			OnEnd:    func() { s.handleEnd(gen) },
			OnError:  func(kind ErrorKind, err error) { s.handleError(gen, kind, err) },
			OnResult: s.handleResult,
		})
	}

	if err := adapter.Start(runCtx); err != nil {
		s.mu.Lock()
		s.phase = lifecycleStopped
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Recognizer start failed")
		return err
	}
	return nil
}

// Stop ends recognition and cancels any pending restart.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.cancelRestartLocked()
	adapter := s.active()
	s.phase = lifecycleStopped
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	_ = adapter.Stop()
}

// Pause suspends recognition without tearing down the supervisor, used while
// the wake word is disabled or the microphone is muted. Restarts are refused
// until Resume.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	s.cancelRestartLocked()
	adapter := s.active()
	s.phase = lifecyclePaused
	s.mu.Unlock()

	_ = adapter.Stop()
	s.logger.Info().Msg("Recognition paused")
	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeMicPaused})
	}
}

// Resume lifts a pause and restarts recognition.
func (s *Supervisor) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != lifecyclePaused {
		s.mu.Unlock()
		return nil
	}
	s.phase = lifecycleStopped
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeMicResumed})
	}
	return s.Start(ctx)
}

// ScheduleRestart arranges a single restart after delay. Any previously
// scheduled restart is cancelled first, so back-to-back failures collapse
// into one attempt.
func (s *Supervisor) ScheduleRestart(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleRestartLocked(delay)
}

func (s *Supervisor) scheduleRestartLocked(delay time.Duration) {
	if s.phase == lifecyclePaused {
		return
	}
	s.cancelRestartLocked()
	s.phase = lifecycleRestartPending
	s.logger.Debug().Dur("delay", delay).Msg("Restart scheduled")
	s.restartTimer = s.afterFn(delay, s.fireRestart)
}

func (s *Supervisor) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

// fireRestart runs when the restart timer elapses. Conditions are re-checked
// at fire time: a pause or stop that landed while the timer was pending wins.
func (s *Supervisor) fireRestart() {
	s.mu.Lock()
	if s.phase != lifecycleRestartPending {
		s.mu.Unlock()
		return
	}
	s.restartTimer = nil
	s.phase = lifecycleStopped
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Start(ctx); err != nil && err != ErrAlreadyStarted {
		s.logger.Warn().Err(err).Msg("Scheduled restart failed")
		s.ScheduleRestart(errorRestartDelay)
	}
}

// ForceRestart tears down the current session and starts a new one
// immediately, bypassing the usual guards. Used after the user interrupts
// playback, where a live recognizer is required no matter what phase the
// supervisor thinks it is in.
func (s *Supervisor) ForceRestart(reason string) {
	s.logger.Info().Str("reason", reason).Msg("Forcing recognizer restart")

	s.mu.Lock()
	s.cancelRestartLocked()
	adapter := s.active()
	s.phase = lifecycleStopped
	ctx := s.ctx
	s.mu.Unlock()

	_ = adapter.Stop()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Start(ctx); err != nil && err != ErrAlreadyStarted {
		s.logger.Warn().Err(err).Msg("Forced restart failed, rescheduling")
		s.ScheduleRestart(fastRestartDelay)
	}
}

// EnsureListening restarts recognition if nothing is running. The assistant
// controller calls it whenever it moves into a state that needs ears.
func (s *Supervisor) EnsureListening() {
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()

	switch phase {
	case lifecycleRunning, lifecycleStarting, lifecycleRestartPending, lifecyclePaused:
		return
	}
	s.ScheduleRestart(fastRestartDelay)
}

// watchdogListening is the second line of defense: shortly after the
// assistant enters the listening state, verify a recognizer is actually
// running and force one if not.
func (s *Supervisor) watchdogListening() {
	s.afterFn(listeningGraceDelay, func() {
		if s.machine != nil && !s.machine.Is(state.StateListening) {
			return
		}
		s.mu.Lock()
		phase := s.phase
		s.mu.Unlock()
		if phase == lifecycleRunning || phase == lifecycleStarting || phase == lifecyclePaused {
			return
		}
		s.logger.Warn().Str("phase", phase.String()).Msg("Listening state without live recognizer, forcing restart")
		s.ForceRestart("listening watchdog")
	})
}

// SendAudio forwards captured PCM to whichever adapter is live.
func (s *Supervisor) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.phase != lifecycleRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	adapter := s.active()
	s.mu.Unlock()
	return adapter.SendAudio(pcm)
}

func (s *Supervisor) handleStart(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.phase = lifecycleRunning
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeRecognitionStart})
	}
}

func (s *Supervisor) handleResult(r Result) {
	s.mu.Lock()
	// Any real result proves the pipe works.
	s.networkErrors = 0
	s.errorStreak = 0
	fn := s.onResult
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeTranscript, Data: map[string]any{
			"text":       r.Text,
			"confidence": r.Confidence,
			"final":      r.IsFinal,
		}})
	}
	if fn != nil {
		fn(r)
	}
}

// handleEnd decides whether an ended session should come back. While the
// assistant is speaking, recognition must stay alive so the user can barge
// in, so the restart is unconditional and immediate.
func (s *Supervisor) handleEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug().Msg("Ignoring end from a superseded recognizer session")
		return
	}
	phase := s.phase
	if phase == lifecycleRunning || phase == lifecycleStarting {
		s.phase = lifecycleStopped
	}
	s.mu.Unlock()

	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeRecognitionEnd})
	}

	if phase == lifecyclePaused || phase == lifecycleRestartPending {
		return
	}
	if phase == lifecycleStopped {
		// Deliberate stop; nothing to revive.
		return
	}

	if s.machine != nil {
		switch s.machine.Current() {
		case state.StateSpeaking:
			s.ForceRestart("ended while speaking")
			return
		case state.StateThinking, state.StateError:
			// The controller restarts recognition itself when these resolve.
			return
		}
	}
	s.ScheduleRestart(fastRestartDelay)
}

func (s *Supervisor) handleLocalEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	phase := s.phase
	if phase == lifecycleRunning || phase == lifecycleStarting {
		s.phase = lifecycleStopped
	}
	s.mu.Unlock()

	if phase == lifecycleRunning || phase == lifecycleStarting {
		s.ScheduleRestart(fastRestartDelay)
	}
}

// handleError applies the fault policy. Aborted errors are the echo of our
// own restarts and are ignored entirely; handleEnd does the rescheduling.
func (s *Supervisor) handleError(gen uint64, kind ErrorKind, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch kind {
	case ErrorAborted:
		return

	case ErrorNoSpeech:
		s.mu.Lock()
		s.networkErrors = 0
		s.errorStreak = 0
		s.mu.Unlock()
		s.ScheduleRestart(fastRestartDelay)

	case ErrorNetwork:
		s.mu.Lock()
		s.networkErrors++
		s.errorStreak++
		count := s.networkErrors
		s.mu.Unlock()
		s.logger.Warn().Int("consecutive", count).Err(err).Msg("Recognizer network error")
		if count >= maxNetworkErrors {
			s.switchToLocal()
			return
		}
		s.ScheduleRestart(s.errorBackoff())

	case ErrorNotAllowed:
		s.logger.Error().Err(err).Msg("Microphone permission denied")
		if s.events != nil {
			s.events.Publish(bus.Event{Type: bus.EventTypePermissionDenied})
		}
		s.Stop()

	case ErrorAudioCapture:
		s.mu.Lock()
		s.errorStreak++
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Audio capture failed")
		s.ScheduleRestart(s.errorBackoff())

	default:
		s.mu.Lock()
		s.errorStreak++
		s.mu.Unlock()
		s.logger.Warn().Str("kind", string(kind)).Err(err).Msg("Recognizer error")
		s.ScheduleRestart(s.errorBackoff())
	}
}

// errorBackoff doubles the restart delay with each consecutive failure,
// capped at eight times the base.
func (s *Supervisor) errorBackoff() time.Duration {
	s.mu.Lock()
	streak := s.errorStreak
	s.mu.Unlock()
	if streak < 1 {
		streak = 1
	}
	if streak > 4 {
		streak = 4
	}
	return errorRestartDelay << (streak - 1)
}

// switchToLocal permanently degrades to volume-based detection. There is no
// automatic path back: the streaming service has proven unreliable for this
// session.
func (s *Supervisor) switchToLocal() {
	s.mu.Lock()
	if s.localMode {
		s.mu.Unlock()
		return
	}
	s.localMode = true
	s.cancelRestartLocked()
	s.phase = lifecycleStopped
	primary := s.primary
	s.mu.Unlock()

	_ = primary.Stop()
	s.logger.Warn().Msg("Too many network failures, degrading to local speech detection")
	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeLocalFallback})
	}
	if s.local == nil {
		return
	}
	s.ScheduleRestart(fastRestartDelay)
}
