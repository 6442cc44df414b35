package bus

import (
	"sync"
	"testing"
	"time"
)

func TestEventBus_PublishSync(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var got []Event
	b.Subscribe(EventTypeTranscript, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	b.PublishSync(Event{Type: EventTypeTranscript, Data: map[string]any{"text": "hello"}})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Data["text"] != "hello" {
		t.Errorf("expected payload preserved, got %v", got[0].Data)
	}
}

func TestEventBus_OnlyMatchingTypeDelivered(t *testing.T) {
	b := NewEventBus()

	delivered := 0
	b.Subscribe(EventTypeSpeechStart, func(Event) { delivered++ })

	b.PublishSync(Event{Type: EventTypeSpeechEnd})
	b.PublishSync(Event{Type: EventTypeAudioLevel})

	if delivered != 0 {
		t.Errorf("expected no deliveries for other types, got %d", delivered)
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		b.Subscribe(EventTypeMoodChanged, func(Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	b.PublishSync(Event{Type: EventTypeMoodChanged})

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 deliveries, got %d", count)
	}
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var types []EventType
	b.SubscribeMultiple([]EventType{EventTypeSpeechStart, EventTypeSpeechEnd}, func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	b.PublishSync(Event{Type: EventTypeSpeechStart})
	b.PublishSync(Event{Type: EventTypeSpeechEnd})

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != EventTypeSpeechStart || types[1] != EventTypeSpeechEnd {
		t.Errorf("expected both subscribed types delivered in order, got %v", types)
	}
}

func TestEventBus_PublishIsNonBlocking(t *testing.T) {
	b := NewEventBus()

	release := make(chan struct{})
	done := make(chan struct{})
	b.Subscribe(EventTypeToolStarted, func(Event) {
		<-release
		close(done)
	})

	start := time.Now()
	b.Publish(Event{Type: EventTypeToolStarted})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Publish must not wait on handlers, took %v", elapsed)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEventBus_Clear(t *testing.T) {
	b := NewEventBus()

	called := false
	b.Subscribe(EventTypeConnected, func(Event) { called = true })
	b.Clear()
	b.PublishSync(Event{Type: EventTypeConnected})

	if called {
		t.Error("expected no deliveries after Clear")
	}
}

func TestEventBus_PublishWithNoSubscribers(t *testing.T) {
	b := NewEventBus()
	// Must not panic.
	b.Publish(Event{Type: EventTypeError})
	b.PublishSync(Event{Type: EventTypeError})
}
