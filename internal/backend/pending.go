package backend

import (
	"sync"
	"time"
)

// lateRetention is how long an expired request keeps waiting for its answer
// before being dropped entirely. A response inside this window is routed to
// the late handler instead of being thrown away.
const lateRetention = 2 * time.Minute

// pendingCall is one in-flight question to the agent.
type pendingCall struct {
	id       string
	text     string
	ch       chan Reply
	sentAt   time.Time
	late     bool
	extended bool
	tools    []string
}

// tracker correlates agent responses with outstanding requests. The wire
// protocol carries no request IDs, so correlation is arrival order: the
// oldest outstanding request owns the next response. Requests whose deadline
// has passed stay registered as late until their answer shows up or the
// retention window closes.
type tracker struct {
	mu    sync.Mutex
	queue []*pendingCall
}

func newTracker() *tracker {
	return &tracker{}
}

// add registers a new in-flight request and returns its reply channel.
func (t *tracker) add(id, text string) *pendingCall {
	call := &pendingCall{
		id:     id,
		text:   text,
		ch:     make(chan Reply, 1),
		sentAt: time.Now(),
	}
	t.mu.Lock()
	t.queue = append(t.queue, call)
	t.mu.Unlock()
	return call
}

// markLate flags a request whose deadline elapsed. It keeps its place in the
// queue so its eventual response still routes to it, and schedules removal
// after the retention window.
func (t *tracker) markLate(id string) {
	t.mu.Lock()
	for _, c := range t.queue {
		if c.id == id {
			c.late = true
			break
		}
	}
	t.mu.Unlock()

	time.AfterFunc(lateRetention, func() { t.remove(id) })
}

// markExtended records that a tool run extended the oldest live deadline.
func (t *tracker) markExtended() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.queue {
		if !c.late && !c.extended {
			c.extended = true
			return
		}
	}
}

// addTool records a tool invocation against the oldest outstanding request.
func (t *tracker) addTool(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.queue {
		if !c.late {
			c.tools = append(c.tools, name)
			return
		}
	}
	if len(t.queue) > 0 {
		t.queue[0].tools = append(t.queue[0].tools, name)
	}
}

// resolve hands a response to the oldest outstanding request. The agent's own
// tools_used list wins over the locally accumulated one when it is present.
// It returns the resolved call and whether it had already gone late, or nil
// when nothing was waiting.
func (t *tracker) resolve(text string, tools []string) (*pendingCall, bool) {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil, false
	}
	call := t.queue[0]
	t.queue = t.queue[1:]
	t.mu.Unlock()

	if len(tools) == 0 {
		tools = call.tools
	}
	call.ch <- Reply{
		Text:      text,
		ToolsUsed: tools,
		Latency:   time.Since(call.sentAt),
	}
	return call, call.late
}

// remove drops a request without resolving it.
func (t *tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.queue {
		if c.id == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

// failAll resolves every outstanding request with an empty reply, used when
// the connection drops. Late requests are dropped outright.
func (t *tracker) failAll() []*pendingCall {
	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	var failed []*pendingCall
	for _, c := range queue {
		if c.late {
			continue
		}
		failed = append(failed, c)
	}
	return failed
}

// outstanding reports how many requests are waiting, late ones included.
func (t *tracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
