package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtbot/internal/notify"
	logx "gtbot/pkg/logx"
)

type captureSender struct {
	chatID int64
	text   string
	err    error
}

func (c *captureSender) SendMessage(_ context.Context, chatID int64, text string) error {
	c.chatID = chatID
	c.text = text
	return c.err
}

func TestDeliverPassesThrough(t *testing.T) {
	sender := &captureSender{}
	svc := notify.New(sender, notify.Config{}, logx.Nop())

	require.NoError(t, svc.Deliver(context.Background(), 42, "hello"))
	assert.Equal(t, int64(42), sender.chatID)
	assert.Equal(t, "hello", sender.text)
}

func TestDeliverPropagatesSendError(t *testing.T) {
	wantErr := errors.New("blocked by user")
	svc := notify.New(&captureSender{err: wantErr}, notify.Config{}, logx.Nop())

	err := svc.Deliver(context.Background(), 42, "hello")
	assert.ErrorIs(t, err, wantErr)
}

func TestDeliverHonorsContextWhileRateLimited(t *testing.T) {
	// Rate 1/s with burst 1: the second send must wait, and a canceled
	// context aborts that wait.
	svc := notify.New(&captureSender{}, notify.Config{RatePerSec: 1, Burst: 1}, logx.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Deliver(ctx, 1, "first"))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := svc.Deliver(cctx, 1, "second")
	assert.Error(t, err)
}
