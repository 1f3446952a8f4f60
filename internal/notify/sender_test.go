package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpoSenderPostsMessage(t *testing.T) {
	var received []Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"ticket-1"}]}`))
	}))
	t.Cleanup(server.Close)

	sender := NewExpoSender(ExpoSenderConfig{PushURL: server.URL})
	err := sender.Send(context.Background(), Message{To: "ExponentPushToken[abc]", Title: "Birthday", Body: "Today"})
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.Equal(t, "Birthday", received[0].Title)
}

func TestExpoSenderRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}))
	t.Cleanup(server.Close)

	sender := NewExpoSender(ExpoSenderConfig{PushURL: server.URL, RetryMax: 3, RetryWait: time.Millisecond})
	require.NoError(t, sender.Send(context.Background(), Message{To: "token", Title: "Retry"}))
	require.Equal(t, int32(3), attempts.Load())
}

func TestExpoSenderReportsRejectedTicket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"status":"error","message":"DeviceNotRegistered"}]}`))
	}))
	t.Cleanup(server.Close)

	sender := NewExpoSender(ExpoSenderConfig{PushURL: server.URL})
	err := sender.Send(context.Background(), Message{To: "token", Title: "Gone"})
	require.True(t, errors.Is(err, ErrRejected))
}

func TestExpoSenderRequiresToken(t *testing.T) {
	sender := NewExpoSender(ExpoSenderConfig{})
	require.ErrorIs(t, sender.Send(context.Background(), Message{Title: "Nobody"}), ErrMissingPushToken)
}
