package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotReq sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	tg := NewTelegram("token123", 42, WithTelegramBaseURL(server.URL))
	err := tg.Notify(context.Background(), "Position opened", "BTC long 0.5 @ 95000")
	require.NoError(t, err)
	require.Equal(t, "/bottoken123/sendMessage", gotPath)
	require.Equal(t, int64(42), gotReq.ChatID)
	require.Contains(t, gotReq.Text, "Position opened")
	require.Contains(t, gotReq.Text, "BTC long")
}

func TestTelegramNotifyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer server.Close()

	tg := NewTelegram("token123", 42, WithTelegramBaseURL(server.URL))
	err := tg.Notify(context.Background(), "s", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(ctx context.Context, subject, message string) error { return f.err }

type countingNotifier struct{ calls int }

func (c *countingNotifier) Notify(ctx context.Context, subject, message string) error {
	c.calls++
	return nil
}

func TestMultiAttemptsAllChannels(t *testing.T) {
	counter := &countingNotifier{}
	boom := errors.New("boom")
	m := Multi{failingNotifier{err: boom}, counter, failingNotifier{err: errors.New("later")}}

	err := m.Notify(context.Background(), "s", "m")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, counter.calls)
}

func TestLogNotifierNeverFails(t *testing.T) {
	require.NoError(t, LogNotifier{}.Notify(context.Background(), "s", "m"))
}
