package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey struct{}

type recordingSender struct {
	mu      sync.Mutex
	calls   []string
	ctxOK   bool
	value   interface{}
	err     error
	started chan struct{}
	release chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, recipient, template string, _ map[string]interface{}) error {
	r.mu.Lock()
	r.calls = append(r.calls, recipient+":"+template)
	r.ctxOK = ctx.Err() == nil
	r.value = ctx.Value(ctxKey{})
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	return r.err
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestNotifyDetachesFromCanceledRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := &recordingSender{}
	n := NewNotifier(s, zap.NewNop())

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	cancel()
	n.Notify(ctx, "tech-1", TemplateTicketAssigned, nil)
	n.Close()

	require.Equal(t, []string{"tech-1:ticket_assigned"}, s.sent())
	assert.True(t, s.ctxOK)
	assert.Equal(t, "req-1", s.value)
}

func TestNotifyLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewNotifier(&recordingSender{err: errors.New("broker down")}, zap.New(core))

	n.Notify(context.Background(), "user-1", TemplateTicketCreated, map[string]interface{}{"ticket_number": "T1"})
	n.Close()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notify: send failed", logs.All()[0].Message)
}

func TestNotifyDoesNotWaitForSlowSender(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := &recordingSender{started: make(chan struct{}, 4), release: make(chan struct{})}
	n := NewNotifier(s, zap.New(core), WithQueueSize(1))

	start := time.Now()
	n.Notify(context.Background(), "user-1", TemplateTicketCreated, nil)
	<-s.started
	n.Notify(context.Background(), "tech-1", TemplateTicketAssigned, nil)
	n.Notify(context.Background(), "user-2", TemplateTicketCreated, nil)
	assert.Less(t, time.Since(start), time.Second)

	require.Equal(t, 1, logs.FilterMessage("notify: queue full, dropped").Len())

	close(s.release)
	n.Close()
	assert.Equal(t, []string{"user-1:ticket_created", "tech-1:ticket_assigned"}, s.sent())
}

func TestNotifySendTimeout(t *testing.T) {
	s := &blockingSender{}
	n := NewNotifier(s, zap.NewNop(), WithSendTimeout(20*time.Millisecond))

	n.Notify(context.Background(), "user-1", TemplateTicketCreated, nil)
	n.Close()
	assert.ErrorIs(t, s.err, context.DeadlineExceeded)
}

type blockingSender struct {
	err error
}

func (b *blockingSender) Send(ctx context.Context, _, _ string, _ map[string]interface{}) error {
	<-ctx.Done()
	b.err = ctx.Err()
	return b.err
}

func TestNotifySkipsEmptyRecipientAndNilSender(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier(s, zap.NewNop())
	n.Notify(context.Background(), "", TemplateTicketReopened, nil)
	n.Close()
	assert.Empty(t, s.sent())

	// after Close notifications are ignored
	n.Notify(context.Background(), "u", TemplateTicketReopened, nil)
	n.Close()
	assert.Empty(t, s.sent())

	disabled := NewNotifier(nil, zap.NewNop())
	disabled.Notify(context.Background(), "u", TemplateTicketReopened, nil)
	disabled.Close()
	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), "u", TemplateTicketReopened, nil)
	nilNotifier.Close()
}
