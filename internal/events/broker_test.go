package events

import (
	"testing"

	"github.com/nhle/onebox/internal/model"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(model.Message{ExternalID: "<e@x>"})

	for i, ch := range []<-chan MessageUpserted{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Message.ExternalID != "<e@x>" {
				t.Errorf("subscriber %d got %q, want <e@x>", i, ev.Message.ExternalID)
			}
			if ev.ID == "" {
				t.Errorf("subscriber %d event has no id", i)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestUnsubscribedChannelIsClosed(t *testing.T) {
	b := NewBroker()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(model.Message{ExternalID: "<later@x>"})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()

	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block.
	for i := 0; i < 50; i++ {
		b.Publish(model.Message{ExternalID: "<burst@x>"})
	}

	if len(ch) != cap(ch) {
		t.Errorf("buffered %d events, want full buffer of %d", len(ch), cap(ch))
	}
}
