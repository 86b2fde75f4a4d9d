package karere

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturetechnology/MEGAchat/remote"
)

func onlineClient(t *testing.T) (*Client, *fixtures) {
	t.Helper()
	appDir := t.TempDir()
	bootstrap(t, appDir)
	c, f := newTestClient(t, appDir)
	ctx := context.Background()
	_, err := c.Init(ctx, testSID())
	require.NoError(t, err)
	require.NoError(t, c.OnSnapshotReceived(ctx, testSID(), snapshot("s1")))
	drain(c)
	return c, f
}

func TestPushReceived_ResolvesWhenAllRoomsAck(t *testing.T) {
	c, f := onlineClient(t)
	ctx := context.Background()

	var result error
	called := false
	c.PushReceived(ctx, func(err error) {
		called = true
		result = err
	})
	assert.ElementsMatch(t, []remote.Handle{50, 60}, f.sessions.syncs)

	c.OnSyncReceived(50)
	drain(c)
	require.False(t, called)

	c.OnSyncReceived(60)
	drain(c)
	require.True(t, called)
	assert.NoError(t, result)
	assert.Zero(t, f.sessions.recon)
}

func TestPushReceived_ConcurrentCallsShareOneRound(t *testing.T) {
	c, f := onlineClient(t)
	ctx := context.Background()

	first, second := false, false
	c.PushReceived(ctx, func(error) { first = true })
	c.PushReceived(ctx, func(error) { second = true })
	// the second call must not re-request acknowledgements
	assert.Len(t, f.sessions.syncs, 2)

	c.OnSyncReceived(50)
	c.OnSyncReceived(60)
	drain(c)
	assert.True(t, first)
	assert.True(t, second)
}

func TestPushReceived_DeadlineForcesReconnect(t *testing.T) {
	c, f := onlineClient(t)
	c.cfg.ResumeTimeout = 10 * time.Millisecond
	ctx := context.Background()

	var result error
	called := false
	c.PushReceived(ctx, func(err error) {
		called = true
		result = err
	})
	c.OnSyncReceived(50) // one room never acks
	drain(c)

	deadline := time.Now().Add(2 * time.Second)
	for !called && time.Now().Before(deadline) {
		c.loop.RunPending()
		time.Sleep(time.Millisecond)
	}
	require.True(t, called)
	assert.ErrorIs(t, result, ErrResumeTimeout)
	assert.Equal(t, 1, f.sessions.recon)
}

func TestPushReceived_NoRoomsResolvesImmediately(t *testing.T) {
	c, _ := newTestClient(t, t.TempDir())
	ctx := context.Background()
	_, err := c.Init(ctx, "")
	require.NoError(t, err)

	called := false
	c.PushReceived(ctx, func(err error) {
		called = true
		assert.NoError(t, err)
	})
	drain(c)
	assert.True(t, called)
}

func TestPushReceived_StrayAckIgnored(t *testing.T) {
	c, _ := onlineClient(t)

	c.OnSyncReceived(50)
	drain(c)
	assert.Equal(t, InitHasOnlineSession, c.State())
}

func TestTerminate_FailsPendingResume(t *testing.T) {
	c, _ := onlineClient(t)
	ctx := context.Background()

	var result error
	called := false
	c.PushReceived(ctx, func(err error) {
		called = true
		result = err
	})
	require.NoError(t, c.Terminate(ctx, false))
	assert.True(t, called)
	assert.ErrorIs(t, result, ErrTerminated)
}
