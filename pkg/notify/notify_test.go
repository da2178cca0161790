package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmAccept(t *testing.T) {
	adapter := NewChannelAdapter(4)
	m := NewManager(adapter)
	defer m.Close()

	go func() {
		event := <-adapter.Events()
		require.Equal(t, EventConfirm, event.Type)
		require.Len(t, event.Options, 2)
		adapter.Respond(&Response{EventID: event.ID, OptionID: OptionAccept, Timestamp: time.Now()})
	}()

	accepted, err := m.Confirm(context.Background(), "atlas-pro", "atlas-mini", "hello")
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestConfirmDecline(t *testing.T) {
	adapter := NewChannelAdapter(4)
	m := NewManager(adapter)
	defer m.Close()

	go func() {
		event := <-adapter.Events()
		adapter.Respond(&Response{EventID: event.ID, OptionID: OptionDecline})
	}()

	accepted, err := m.Confirm(context.Background(), "atlas-pro", "atlas-mini", "hello")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestConfirmContextCancelIsDecline(t *testing.T) {
	adapter := NewChannelAdapter(4)
	m := NewManager(adapter)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-adapter.Events() // dialog shown, user navigates away
		cancel()
	}()

	accepted, err := m.Confirm(ctx, "atlas-pro", "atlas-mini", "hello")
	require.NoError(t, err, "cancellation is a decline, not a failure")
	assert.False(t, accepted)
}

func TestConfirmIgnoresMismatchedEventID(t *testing.T) {
	adapter := NewChannelAdapter(4)
	m := NewManager(adapter)
	defer m.Close()

	go func() {
		event := <-adapter.Events()
		adapter.Respond(&Response{EventID: "stale-event", OptionID: OptionAccept})
		adapter.Respond(&Response{EventID: event.ID, OptionID: OptionDecline})
	}()

	accepted, err := m.Confirm(context.Background(), "atlas-pro", "atlas-mini", "hello")
	require.NoError(t, err)
	assert.False(t, accepted, "only the answer for this event counts")
}

func TestNotifyIsNonBlocking(t *testing.T) {
	adapter := NewChannelAdapter(1)
	m := NewManager(adapter)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		// Nobody reads events; Notify must still return.
		m.Notify(context.Background(), "one")
		m.Notify(context.Background(), "two")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with no consumer")
	}
}

func TestNoticeEventShape(t *testing.T) {
	adapter := NewChannelAdapter(4)
	m := NewManager(adapter)
	defer m.Close()

	m.Notify(context.Background(), "switched to atlas-mini")

	select {
	case event := <-adapter.Events():
		assert.Equal(t, EventNotice, event.Type)
		assert.Equal(t, "switched to atlas-mini", event.Message)
		assert.Empty(t, event.Options)
	case <-time.After(time.Second):
		t.Fatal("no notice delivered")
	}
}
