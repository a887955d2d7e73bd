package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeTickFired, Data: TickFired{Hour: 14}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeTickFired || e.Time.IsZero() {
				t.Fatalf("unexpected event: %+v", e)
			}
			if d, ok := e.Data.(TickFired); !ok || d.Hour != 14 {
				t.Fatalf("unexpected payload: %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("expected 2 drops, got %d", got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, unsub := b.Subscribe(1)
				b.Publish(Event{Type: "x"})
				unsub()
				unsub()
			}
		}()
	}
	wg.Wait()
}
