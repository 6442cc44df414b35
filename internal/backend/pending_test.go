package backend

import (
	"testing"
	"time"
)

func TestTracker_ResolvesOldestFirst(t *testing.T) {
	tr := newTracker()

	a := tr.add("a", "first question")
	b := tr.add("b", "second question")

	call, late := tr.resolve("first answer", nil)
	if call == nil || call.id != "a" || late {
		t.Fatalf("expected oldest call resolved, got %+v late=%v", call, late)
	}
	reply := <-a.ch
	if reply.Text != "first answer" {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if reply.Latency <= 0 {
		t.Error("expected latency to be measured")
	}

	call, _ = tr.resolve("second answer", nil)
	if call == nil || call.id != "b" {
		t.Fatalf("expected second call resolved next, got %+v", call)
	}
	<-b.ch
}

func TestTracker_ResolveWithNothingWaiting(t *testing.T) {
	tr := newTracker()
	call, _ := tr.resolve("orphan", nil)
	if call != nil {
		t.Errorf("expected nil for unmatched response, got %+v", call)
	}
}

func TestTracker_LateRequestStillGetsItsAnswer(t *testing.T) {
	tr := newTracker()
	a := tr.add("a", "slow question")

	tr.markLate("a")
	if tr.outstanding() != 1 {
		t.Fatal("late request must keep its place in the queue")
	}

	call, late := tr.resolve("slow answer", nil)
	if call == nil || !late {
		t.Fatalf("expected late resolution, got %+v late=%v", call, late)
	}
	reply := <-a.ch
	if reply.Text != "slow answer" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestTracker_ToolsAccrueToOldestLiveRequest(t *testing.T) {
	tr := newTracker()
	a := tr.add("a", "question")
	tr.addTool("web_search")
	tr.addTool("calculator")

	tr.resolve("answer", nil)
	reply := <-a.ch
	if len(reply.ToolsUsed) != 2 || reply.ToolsUsed[0] != "web_search" {
		t.Errorf("unexpected tools: %v", reply.ToolsUsed)
	}
}

func TestTracker_ServerToolListWins(t *testing.T) {
	tr := newTracker()
	a := tr.add("a", "question")
	tr.addTool("web_search")

	tr.resolve("answer", []string{"calculator", "weather"})
	reply := <-a.ch
	if len(reply.ToolsUsed) != 2 || reply.ToolsUsed[0] != "calculator" {
		t.Errorf("expected the agent's own tool list, got %v", reply.ToolsUsed)
	}
}

func TestTracker_MarkExtended(t *testing.T) {
	tr := newTracker()
	a := tr.add("a", "question")
	tr.markExtended()
	if !a.extended {
		t.Error("expected oldest live call marked extended")
	}
}

func TestTracker_Remove(t *testing.T) {
	tr := newTracker()
	tr.add("a", "question")
	tr.remove("a")
	if tr.outstanding() != 0 {
		t.Errorf("expected empty queue, got %d", tr.outstanding())
	}
	tr.remove("missing") // no-op
}

func TestTracker_FailAllSkipsLate(t *testing.T) {
	tr := newTracker()
	tr.add("live", "question")
	tr.add("slow", "older question")
	tr.markLate("slow")

	failed := tr.failAll()
	if len(failed) != 1 || failed[0].id != "live" {
		t.Errorf("expected only the live call failed, got %+v", failed)
	}
	if tr.outstanding() != 0 {
		t.Error("failAll must empty the queue")
	}
}

func TestTracker_ResolveDoesNotBlock(t *testing.T) {
	tr := newTracker()
	tr.add("a", "question")

	done := make(chan struct{})
	go func() {
		tr.resolve("answer", nil) // buffered channel, nobody reading yet
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resolve must not block on an unread reply")
	}
}
