package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(1)
	b := h.Subscribe(1)

	h.Publish(Event{Database: "lib", Table: "books", Identifier: "b1", Kind: "insert"})

	evA := <-a
	evB := <-b
	assert.Equal(t, "b1", evA.Identifier)
	assert.Equal(t, "b1", evB.Identifier)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)

	h.Publish(Event{Identifier: "first"})
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Identifier: "second"})
		close(done)
	}()
	<-done

	ev := <-ch
	assert.Equal(t, "first", ev.Identifier)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)
	h.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)

	h.Publish(Event{Identifier: "ignored"})
}
