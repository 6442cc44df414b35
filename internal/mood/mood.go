// Package mood derives the rendering layer's emotional cues from what the
// assistant is doing. Renderers never look at the conversation machinery
// directly; they watch mood and audio level events.
package mood

import (
	"sync"
	"time"

	"github.com/Lefyd24/LunaEye/internal/bus"
	"github.com/Lefyd24/LunaEye/internal/state"
)

// Mood is the emotional flavor a renderer should show.
type Mood string

const (
	MoodCalm      Mood = "calm"      // nothing happening
	MoodAlert     Mood = "alert"     // wake phrase heard
	MoodAttentive Mood = "attentive" // listening for a command
	MoodFocused   Mood = "focused"   // waiting on the agent
	MoodAnimated  Mood = "animated"  // speaking a reply
	MoodTroubled  Mood = "troubled"  // something went wrong
)

// moodFor maps assistant states to moods.
func moodFor(s state.Assistant) Mood {
	switch s {
	case state.StateWaking:
		return MoodAlert
	case state.StateListening:
		return MoodAttentive
	case state.StateThinking:
		return MoodFocused
	case state.StateSpeaking:
		return MoodAnimated
	case state.StateError:
		return MoodTroubled
	}
	return MoodCalm
}

// View is the full renderable snapshot.
type View struct {
	Mood       Mood    `json:"mood"`
	State      string  `json:"state"`
	AudioLevel float64 `json:"audioLevel"`
	UserVoice  bool    `json:"userVoice"`
}

// Controller tracks the current mood and audio intensity. It subscribes to
// the state machine and the audio events on the bus and republishes a single
// mood stream for renderers.
type Controller struct {
	events *bus.EventBus

	mu   sync.RWMutex
	view View

	onChange func(View)

	decayTicker *time.Ticker
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewController wires the mood controller to the state machine and bus.
func NewController(machine *state.Machine, events *bus.EventBus) *Controller {
	c := &Controller{
		events:   events,
		view:     View{Mood: MoodCalm, State: string(state.StateIdle)},
		stopChan: make(chan struct{}),
	}

	if machine != nil {
		machine.Subscribe(state.KeyStateChange, func(ch state.Change) {
			c.setMood(moodFor(ch.To), string(ch.To))
		})
	}
	if events != nil {
		events.Subscribe(bus.EventTypeAudioLevel, func(ev bus.Event) {
			if lvl, ok := ev.Data["level"].(float64); ok {
				c.setLevel(lvl)
			}
		})
		events.Subscribe(bus.EventTypeSpeechStart, func(bus.Event) { c.setUserVoice(true) })
		events.Subscribe(bus.EventTypeSpeechEnd, func(bus.Event) { c.setUserVoice(false) })
	}
	return c
}

// SetChangeHandler sets the callback for mood changes
func (c *Controller) SetChangeHandler(handler func(View)) {
	c.mu.Lock()
	c.onChange = handler
	c.mu.Unlock()
}

// Start begins the audio level decay loop, which eases the level back to
// zero between frames so renderers get smooth falloff.
func (c *Controller) Start() {
	c.decayTicker = time.NewTicker(50 * time.Millisecond)
	go func() {
		for {
			select {
			case <-c.stopChan:
				return
			case <-c.decayTicker.C:
				c.decay()
			}
		}
	}()
}

// Stop halts the decay loop
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	if c.decayTicker != nil {
		c.decayTicker.Stop()
	}
}

// Current returns the renderable snapshot.
func (c *Controller) Current() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

func (c *Controller) setMood(m Mood, stateName string) {
	c.mu.Lock()
	changed := c.view.Mood != m || c.view.State != stateName
	c.view.Mood = m
	c.view.State = stateName
	view := c.view
	handler := c.onChange
	c.mu.Unlock()

	if !changed {
		return
	}
	if handler != nil {
		handler(view)
	}
	if c.events != nil {
		c.events.Publish(bus.Event{Type: bus.EventTypeMoodChanged, Data: map[string]any{
			"mood":  string(view.Mood),
			"state": view.State,
		}})
	}
}

func (c *Controller) setLevel(level float64) {
	c.mu.Lock()
	if level > c.view.AudioLevel {
		c.view.AudioLevel = level
	}
	view := c.view
	handler := c.onChange
	c.mu.Unlock()

	if handler != nil {
		handler(view)
	}
}

func (c *Controller) setUserVoice(active bool) {
	c.mu.Lock()
	c.view.UserVoice = active
	view := c.view
	handler := c.onChange
	c.mu.Unlock()

	if handler != nil {
		handler(view)
	}
}

func (c *Controller) decay() {
	c.mu.Lock()
	if c.view.AudioLevel <= 0 {
		c.mu.Unlock()
		return
	}
	c.view.AudioLevel *= 0.85
	if c.view.AudioLevel < 0.001 {
		c.view.AudioLevel = 0
	}
	view := c.view
	handler := c.onChange
	c.mu.Unlock()

	if handler != nil {
		handler(view)
	}
}
