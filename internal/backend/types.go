// Package backend talks to the Luna agent service: a WebSocket channel for
// live conversation with a REST fallback, plus a canned local responder for
// fully offline operation.
package backend

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("backend not connected")
	ErrResponseDeadline = errors.New("backend response deadline exceeded")
)

// Inbound message types on the WebSocket channel.
const (
	msgHello        = "hello"
	msgStateChange  = "state.change"
	msgToolStart    = "tool.start"
	msgToolEnd      = "tool.end"
	msgTextResponse = "text.response"
	msgError        = "error"
	msgCleared      = "cleared"
	msgHeartbeatAck = "heartbeat_ack"
)

// Outbound message types.
const (
	msgVoiceCommand = "voice_command"
	msgInputText    = "input.text"
	msgHeartbeat    = "heartbeat"
	msgClearHistory = "clear"
)

// outboundMessage is what we send over the socket.
type outboundMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// inboundMessage is the envelope for everything the agent sends us.
type inboundMessage struct {
	Type      string   `json:"type"`
	Text      string   `json:"text,omitempty"`
	State     string   `json:"state,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	Message   string   `json:"message,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Version   string   `json:"version,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Reply is a resolved agent response.
type Reply struct {
	Text      string
	ToolsUsed []string
	Latency   time.Duration
}

// chatRequest is the REST /chat request body.
type chatRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"thread_id"`
	UserName string `json:"user_name,omitempty"`
}

// chatResponse is the REST /chat response body.
type chatResponse struct {
	Response  string   `json:"response"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// StatusResponse is the REST /status response body.
type StatusResponse struct {
	Status     string `json:"status"`
	AgentReady bool   `json:"agent_ready"`
	ToolsCount int    `json:"tools_count"`
}
