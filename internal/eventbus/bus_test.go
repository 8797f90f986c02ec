package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	b := New()
	repost, unsub := b.Subscribe("repost.", 4)
	defer unsub()
	all, unsubAll := b.Subscribe("", 4)
	defer unsubAll()

	b.Publish(Event{Type: "repost.forwarded"})
	b.Publish(Event{Type: TypePluginStarted})

	if got := len(repost); got != 1 {
		t.Fatalf("expected 1 repost event, got %d", got)
	}
	if got := len(all); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	e := <-repost
	if e.Time.IsZero() {
		t.Fatalf("expected Publish to stamp the event time")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	b.Publish(Event{Type: "after"})
}
