package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.sent = append(f.sent, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func newTestNotifier(events []string, senders ...Sender) *Notifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotifier(senders, events, logger)
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := newTestNotifier([]string{EventSettlement, EventEmergencyClose}, s)

	require.NoError(t, n.Notify(context.Background(), EventSettlement, "settled", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventCircuitBreaker, "tripped", "msg"))

	assert.Equal(t, []string{"settled"}, s.sent, "filtered events never reach the sender")
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := newTestNotifier(nil, s)

	require.NoError(t, n.Notify(context.Background(), EventLeaseLost, "lost", "msg"))
	require.NoError(t, n.Notify(context.Background(), "anything", "other", "msg"))
	assert.Len(t, s.sent, 2)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "tg"}
	n := newTestNotifier([]string{EventSettlement}, s)

	require.NoError(t, n.NotifyAll(context.Background(), "urgent", "msg"))
	assert.Equal(t, []string{"urgent"}, s.sent)
}

func TestDispatchAggregatesFailures(t *testing.T) {
	good := &fakeSender{name: "tg"}
	bad := &fakeSender{name: "discord", err: errors.New("webhook 500")}
	n := newTestNotifier(nil, bad, good)

	err := n.Notify(context.Background(), EventError, "boom", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "discord")
	assert.Len(t, good.sent, 1, "one channel failing never blocks the others")
}

func TestNotifyNoSenders(t *testing.T) {
	n := newTestNotifier(nil)
	require.NoError(t, n.Notify(context.Background(), EventError, "boom", "msg"))
}
