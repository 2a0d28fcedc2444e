// ABOUTME: Tests for the bounded, non-blocking event publisher
// ABOUTME: Covers per-execution filtering, ordering, and drop-oldest overflow

package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/weftwork/weft/pkg/types"
)

func event(kind types.EventKind, executionID string) types.Event {
	return types.Event{Kind: kind, ExecutionID: executionID, Timestamp: time.Now()}
}

func TestPublisher_FiltersByExecution(t *testing.T) {
	p := NewPublisher(8, nil)
	defer p.Close()

	ch, cancel := p.Subscribe("e-1")
	defer cancel()

	p.Emit(event(types.EventWorkflowStarted, "e-1"))
	p.Emit(event(types.EventWorkflowStarted, "e-2"))

	select {
	case got := <-ch:
		if got.ExecutionID != "e-1" {
			t.Errorf("Expected e-1 event, got %s", got.ExecutionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected an event")
	}
	select {
	case got := <-ch:
		t.Errorf("Expected no cross-execution delivery, got %+v", got)
	default:
	}
}

func TestPublisher_VisualizationReceivesAll(t *testing.T) {
	p := NewPublisher(8, nil)
	defer p.Close()

	ch, cancel := p.SubscribeAll()
	defer cancel()

	p.Emit(event(types.EventWorkflowStarted, "e-1"))
	p.Emit(event(types.EventWorkflowStarted, "e-2"))

	for _, want := range []string{"e-1", "e-2"} {
		select {
		case got := <-ch:
			if got.ExecutionID != want {
				t.Errorf("Expected %s, got %s", want, got.ExecutionID)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected an event")
		}
	}
}

func TestPublisher_InOrderPerSubscription(t *testing.T) {
	p := NewPublisher(16, nil)
	defer p.Close()

	ch, cancel := p.Subscribe("e-1")
	defer cancel()

	for i := 0; i < 10; i++ {
		e := event(types.EventTaskStarted, "e-1")
		e.TaskID = fmt.Sprintf("t%d", i)
		p.Emit(e)
	}
	for i := 0; i < 10; i++ {
		got := <-ch
		if got.TaskID != fmt.Sprintf("t%d", i) {
			t.Fatalf("Expected t%d in order, got %s", i, got.TaskID)
		}
	}
}

func TestPublisher_DropsOldestWhenFull(t *testing.T) {
	p := NewPublisher(2, nil)
	defer p.Close()

	ch, cancel := p.Subscribe("e-1")
	defer cancel()

	for i := 0; i < 5; i++ {
		e := event(types.EventTaskStarted, "e-1")
		e.TaskID = fmt.Sprintf("t%d", i)
		p.Emit(e)
	}

	// Queue holds the newest two; t0..t2 were shed.
	first := <-ch
	second := <-ch
	if first.TaskID != "t3" || second.TaskID != "t4" {
		t.Errorf("Expected [t3 t4] after overflow, got [%s %s]", first.TaskID, second.TaskID)
	}
}

func TestPublisher_EmitNeverBlocks(t *testing.T) {
	p := NewPublisher(1, nil)
	defer p.Close()

	_, cancel := p.Subscribe("e-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			p.Emit(event(types.EventTaskCompleted, "e-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected emits to return without a consumer draining")
	}
}

func TestPublisher_UnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher(4, nil)
	defer p.Close()

	ch, cancel := p.Subscribe("e-1")
	cancel()

	if _, open := <-ch; open {
		t.Error("Expected closed channel after unsubscribe")
	}
	if p.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", p.SubscriberCount())
	}

	// Emitting after unsubscribe is a no-op.
	p.Emit(event(types.EventWorkflowCompleted, "e-1"))
}

func TestPublisher_CloseTerminatesSubscriptions(t *testing.T) {
	p := NewPublisher(4, nil)
	ch, _ := p.SubscribeAll()

	p.Close()
	if _, open := <-ch; open {
		t.Error("Expected closed channel after publisher close")
	}
	p.Emit(event(types.EventWorkflowStarted, "e-1"))
}
