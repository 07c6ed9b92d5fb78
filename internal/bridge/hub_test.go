package bridge

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/reminder"
)

func TestHub_DeliverWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	err := hub.Deliver(ctx, reminder.Notification{Type: reminder.TypeReminder})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestHub_StreamsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	hub.SetWelcome(func(context.Context) (reminder.Notification, error) {
		return reminder.Notification{Type: reminder.TypeStatus, Host: "ws-01"}, nil
	})
	go hub.Run(ctx)

	cfg := model.DefaultConfig()
	srv := NewServer(Options{
		Engine: &fakeEngine{},
		Hub:    hub,
		Config: func() *model.AppConfig { return cfg },
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient(ts.URL, "")
	stream, _, err := client.Subscribe(ctx, "alice")
	require.NoError(t, err)

	select {
	case n := <-stream:
		assert.Equal(t, reminder.TypeStatus, n.Type)
		assert.Equal(t, "ws-01", n.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("no welcome message")
	}

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	sent := reminder.Notification{
		Type:            reminder.TypeReminder,
		EventID:         "r1",
		Severity:        model.SeverityRequired,
		MessageKey:      model.MsgRebootRequired,
		DeferralOptions: []string{"1h", "4h"},
		RebootAllowed:   true,
	}
	require.NoError(t, hub.Deliver(ctx, sent))

	select {
	case n := <-stream:
		assert.Equal(t, "r1", n.EventID)
		assert.Equal(t, model.MsgRebootRequired, n.MessageKey)
		assert.Equal(t, []string{"1h", "4h"}, n.DeferralOptions)
		assert.True(t, n.RebootAllowed)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub([]string{"https://portal.example.com"}, nil)
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://portal.example.com", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/events", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, hub.upgrader.CheckOrigin(r))
		})
	}
}
