package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
)

func eventMsg(id string) Message {
	return Message{
		Type:      TypeEventIngested,
		Timestamp: time.Now(),
		Event:     &models.Event{ID: id, TenantID: "acme"},
	}
}

func receiveOne(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus message")
		return Message{}
	}
}

func TestBus_TypedSubscription(t *testing.T) {
	b := NewBus()
	defer b.Reset()

	sessions := b.Subscribe(TypeSessionUpdated)
	b.Publish(eventMsg("e1"))
	b.Publish(Message{Type: TypeSessionUpdated, Session: &models.Session{ID: "s1", TenantID: "acme"}})

	msg := receiveOne(t, sessions)
	assert.Equal(t, TypeSessionUpdated, msg.Type)
	assert.Equal(t, "s1", msg.Session.ID)

	select {
	case extra := <-sessions.C:
		t.Fatalf("unexpected delivery of %s to typed subscriber", extra.Type)
	default:
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	b := NewBus()
	defer b.Reset()

	all := b.Subscribe(TypeWildcard)
	b.Publish(eventMsg("e1"))
	b.Publish(Message{Type: TypeSessionUpdated, Session: &models.Session{ID: "s1"}})
	b.Publish(Message{Type: TypeAlertTriggered, Rule: &models.AlertRule{ID: "r1"}})

	assert.Equal(t, TypeEventIngested, receiveOne(t, all).Type)
	assert.Equal(t, TypeSessionUpdated, receiveOne(t, all).Type)
	assert.Equal(t, TypeAlertTriggered, receiveOne(t, all).Type)
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	defer b.Reset()

	subs := []*Subscription{
		b.Subscribe(TypeWildcard),
		b.Subscribe(TypeEventIngested),
		b.Subscribe(TypeEventIngested, TypeSessionUpdated),
	}
	require.Equal(t, 3, b.SubscriberCount())

	b.Publish(eventMsg("e1"))
	for i, sub := range subs {
		msg := receiveOne(t, sub)
		assert.Equal(t, "e1", msg.Event.ID, "subscriber %d", i)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(TypeWildcard)

	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// Second unsubscribe is a no-op, not a double close.
	b.Unsubscribe(sub)
}

func TestBus_DropOldestWhenSubscriberStalls(t *testing.T) {
	b := NewBus()
	defer b.Reset()

	stalled := b.Subscribe(TypeEventIngested)

	// Overfill the buffer without draining. Publish must not block, and the
	// oldest messages give way to the newest.
	total := subscriberBuffer + 10
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			b.Publish(eventMsg(fmt.Sprintf("e%03d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}

	var got []string
	for {
		select {
		case msg := <-stalled.C:
			got = append(got, msg.Event.ID)
			continue
		default:
		}
		break
	}

	require.Len(t, got, subscriberBuffer)
	assert.Equal(t, fmt.Sprintf("e%03d", total-1), got[len(got)-1], "newest message survives")
	assert.NotContains(t, got, "e000", "oldest message was dropped")
}

func TestMessage_TenantID(t *testing.T) {
	assert.Equal(t, "acme", (&Message{Event: &models.Event{TenantID: "acme"}}).TenantID())
	assert.Equal(t, "acme", (&Message{Session: &models.Session{TenantID: "acme"}}).TenantID())
	assert.Equal(t, "acme", (&Message{Rule: &models.AlertRule{TenantID: "acme"}}).TenantID())
	assert.Empty(t, (&Message{Type: TypeEventIngested}).TenantID())
}
