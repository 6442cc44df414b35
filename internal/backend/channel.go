package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/bus"
)

// ChannelConfig configures the WebSocket channel.
type ChannelConfig struct {
	URL             string        // e.g., "ws://localhost:8765/ws"
	ResponseTimeout time.Duration // base deadline for a reply
	ToolTimeout     time.Duration // deadline once a tool run starts
	HeartbeatEvery  time.Duration // keepalive interval
	ReconnectDelay  time.Duration // wait between reconnect attempts
}

// DefaultChannelConfig returns sensible defaults
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		URL:             "ws://localhost:8765/ws",
		ResponseTimeout: 15 * time.Second,
		ToolTimeout:     60 * time.Second,
		HeartbeatEvery:  30 * time.Second,
		ReconnectDelay:  5 * time.Second,
	}
}

// Channel is the live conversation link to the agent service. It owns a
// single WebSocket, reconnects on failure, and correlates replies with
// outstanding Ask calls. Replies that arrive after their deadline are handed
// to the late-response handler rather than dropped.
type Channel struct {
	config  *ChannelConfig
	events  *bus.EventBus
	logger  zerolog.Logger
	pending *tracker

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closing      bool
	degraded     bool
	ackedBeats   int
	sentBeats    int
	serverThread string

	onLateReply func(Reply)
	onCleared   func()
	handlerMu   sync.RWMutex
}

// NewChannel creates the WebSocket channel
func NewChannel(cfg *ChannelConfig, events *bus.EventBus, logger zerolog.Logger) *Channel {
	if cfg == nil {
		cfg = DefaultChannelConfig()
	}
	return &Channel{
		config:  cfg,
		events:  events,
		logger:  logger.With().Str("component", "backend-channel").Logger(),
		pending: newTracker(),
	}
}

// SetLateReplyHandler installs the sink for replies that arrive after their
// Ask call already gave up.
func (c *Channel) SetLateReplyHandler(fn func(Reply)) {
	c.handlerMu.Lock()
	c.onLateReply = fn
	c.handlerMu.Unlock()
}

// SetClearedHandler installs the callback for history-cleared confirmations.
func (c *Channel) SetClearedHandler(fn func()) {
	c.handlerMu.Lock()
	c.onCleared = fn
	c.handlerMu.Unlock()
}

// Connected reports whether the socket is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ServerThreadID returns the conversation thread the agent announced in its
// hello, or "" if it never sent one.
func (c *Channel) ServerThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverThread
}

// Degraded reports a connected socket whose heartbeats have stopped being
// acknowledged. The socket may still carry traffic, but the agent is not
// keeping up.
func (c *Channel) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.degraded
}

// Run connects and keeps the channel alive until the context ends,
// reconnecting after failures.
func (c *Channel) Run(ctx context.Context) {
	for {
		if err := c.connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
		} else {
			c.readLoop(ctx)
		}

		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

func (c *Channel) connect(ctx context.Context) error {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return fmt.Errorf("parse backend URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.degraded = false
	c.sentBeats = 0
	c.ackedBeats = 0
	c.mu.Unlock()

	c.logger.Info().Str("url", u.String()).Msg("Connected to agent service")
	if c.events != nil {
		c.events.Publish(bus.Event{Type: bus.EventTypeConnected})
	}
	return nil
}

// readLoop pumps inbound messages until the socket dies, running the
// heartbeat alongside.
func (c *Channel) readLoop(ctx context.Context) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	go c.heartbeatLoop(hbCtx)
	defer hbCancel()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			break
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Socket read failed")
			}
			break
		}
		c.handleMessage(data)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.logger.Info().Msg("Disconnected from agent service")
		if c.events != nil {
			c.events.Publish(bus.Event{Type: bus.EventTypeDisconnected})
		}
	}

	// In-flight questions will never be answered on this socket.
	for _, call := range c.pending.failAll() {
		call.ch <- Reply{}
	}
}

func (c *Channel) heartbeatLoop(ctx context.Context) {
	if c.config.HeartbeatEvery <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			// Two unacknowledged beats in a row means the agent has
			// stopped answering even if the socket looks healthy.
			missed := c.sentBeats - c.ackedBeats
			if missed >= 2 && !c.degraded {
				c.degraded = true
				c.logger.Warn().Int("missed", missed).Msg("Heartbeats unacknowledged, channel degraded")
			}
			c.sentBeats++
			c.mu.Unlock()

			if err := c.send(outboundMessage{Type: msgHeartbeat, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

func (c *Channel) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Unparseable message from agent")
		return
	}

	switch msg.Type {
	case msgHello:
		c.logger.Info().Str("agent", msg.Agent).Str("version", msg.Version).
			Str("thread_id", msg.ThreadID).Msg("Agent said hello")
		if msg.ThreadID != "" {
			c.mu.Lock()
			c.serverThread = msg.ThreadID
			c.mu.Unlock()
		}

	case msgStateChange:
		c.logger.Debug().Str("state", msg.State).Msg("Agent state change")

	case msgToolStart:
		c.logger.Info().Str("tool", msg.Tool).Msg("Agent tool started")
		c.pending.addTool(msg.Tool)
		c.pending.markExtended()
		if c.events != nil {
			c.events.Publish(bus.Event{Type: bus.EventTypeToolStarted, Data: map[string]any{"tool": msg.Tool}})
		}

	case msgToolEnd:
		c.logger.Info().Str("tool", msg.Tool).Msg("Agent tool finished")
		if c.events != nil {
			c.events.Publish(bus.Event{Type: bus.EventTypeToolCompleted, Data: map[string]any{"tool": msg.Tool}})
		}

	case msgTextResponse:
		call, late := c.pending.resolve(msg.Text, msg.ToolsUsed)
		if call == nil {
			c.routeLate(Reply{Text: msg.Text, ToolsUsed: msg.ToolsUsed})
			return
		}
		if late {
			c.logger.Info().Dur("latency", time.Since(call.sentAt)).Msg("Reply arrived after deadline")
		}

	case msgError:
		c.logger.Error().Str("message", msg.Message).Msg("Agent error")
		// Resolve the waiting request with an apology so the assistant
		// can say something instead of timing out.
		if call, _ := c.pending.resolve("Sorry, I ran into a problem with that.", nil); call == nil {
			c.logger.Debug().Msg("Agent error with no outstanding request")
		}

	case msgCleared:
		c.handlerMu.RLock()
		fn := c.onCleared
		c.handlerMu.RUnlock()
		if fn != nil {
			fn()
		}

	case msgHeartbeatAck:
		c.mu.Lock()
		c.ackedBeats = c.sentBeats
		if c.degraded {
			c.degraded = false
			c.logger.Info().Msg("Heartbeats acknowledged again, channel healthy")
		}
		c.mu.Unlock()
		c.logger.Trace().Msg("Heartbeat acknowledged")

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unhandled agent message")
	}
}

// routeLate delivers a reply nobody is waiting on. The conversation layer
// decides whether it is still worth speaking.
func (c *Channel) routeLate(reply Reply) {
	c.handlerMu.RLock()
	fn := c.onLateReply
	c.handlerMu.RUnlock()

	if c.events != nil {
		c.events.Publish(bus.Event{Type: bus.EventTypeLateResponse, Data: map[string]any{"text": reply.Text}})
	}
	if fn != nil {
		fn(reply)
	}
}

func (c *Channel) send(msg outboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(msg)
}

// Ask sends a spoken command to the agent and waits for its reply. The base
// deadline is ResponseTimeout; if the agent reports a tool run the deadline
// stretches to ToolTimeout. On expiry the request is marked late and the
// eventual answer goes to the late-reply handler.
func (c *Channel) Ask(ctx context.Context, text, threadID string) (Reply, error) {
	return c.ask(ctx, msgVoiceCommand, text, threadID)
}

// AskText is Ask for typed input.
func (c *Channel) AskText(ctx context.Context, text, threadID string) (Reply, error) {
	return c.ask(ctx, msgInputText, text, threadID)
}

func (c *Channel) ask(ctx context.Context, msgType, text, threadID string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("empty command")
	}

	id := uuid.NewString()
	call := c.pending.add(id, text)

	if err := c.send(outboundMessage{
		Type:      msgType,
		Text:      text,
		ThreadID:  threadID,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		c.pending.remove(id)
		return Reply{}, err
	}

	deadline := time.NewTimer(c.config.ResponseTimeout)
	defer deadline.Stop()

	extendedOnce := false
	for {
		select {
		case <-ctx.Done():
			c.pending.remove(id)
			return Reply{}, ctx.Err()

		case reply := <-call.ch:
			if reply.Text == "" && reply.Latency == 0 {
				return Reply{}, ErrNotConnected
			}
			return reply, nil

		case <-deadline.C:
			if call.extended && !extendedOnce {
				// A tool run bought the agent more time.
				extendedOnce = true
				remaining := c.config.ToolTimeout - c.config.ResponseTimeout
				if remaining <= 0 {
					remaining = c.config.ToolTimeout
				}
				deadline.Reset(remaining)
				c.logger.Debug().Dur("extension", remaining).Msg("Deadline extended for tool run")
				continue
			}
			c.pending.markLate(id)
			c.logger.Warn().Str("text", text).Msg("No reply before deadline")
			return Reply{}, ErrResponseDeadline
		}
	}
}

// ClearHistory asks the agent to forget the conversation.
func (c *Channel) ClearHistory() error {
	return c.send(outboundMessage{Type: msgClearHistory, Timestamp: time.Now().UnixMilli()})
}

// Close shuts the channel down for good.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}
