package controller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/controller"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingClock struct {
	*controller.FakeClock
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingClock) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return r.FakeClock.After(d)
}

func newController(t *testing.T) (*controller.Controller[string], *recordingClock) {
	t.Helper()
	fake := controller.NewFakeClock(epoch)
	fake.AutoAdvance = true
	clock := &recordingClock{FakeClock: fake}
	c := controller.New[string]()
	c.Clock = clock
	c.SetIdentity("cust-1")
	return c, clock
}

func failing(calls *atomic.Int32, err error) controller.FetchFunc[string] {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return "", err
	}
}

func TestRetryBudgetCapsAutomaticRetries(t *testing.T) {
	c, clock := newController(t)
	var calls atomic.Int32
	fn := failing(&calls, fmt.Errorf("%w: 503", api.ErrTransient))

	for i := 0; i < 5; i++ {
		_, err := c.Fetch(context.Background(), "conversations", fn)
		require.Error(t, err)
		assert.ErrorIs(t, err, controller.ErrBudgetExhausted)
	}
	assert.Less(t, clock.Now().Sub(epoch), 10*time.Second)
	assert.Equal(t, int32(4), calls.Load(), "one initial attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clock.sleeps)

	snap := c.Snapshot("conversations")
	assert.Equal(t, controller.Failed, snap.State)
	assert.True(t, snap.Exhausted)
	assert.Equal(t, 3, snap.Retries)
	assert.ErrorIs(t, snap.Err, api.ErrTransient)
}

func TestRetryBudgetRefillsAfterWindow(t *testing.T) {
	c, clock := newController(t)
	var calls atomic.Int32
	fn := failing(&calls, api.ErrTransient)

	_, err := c.Fetch(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, controller.ErrBudgetExhausted)
	require.Equal(t, int32(4), calls.Load())

	clock.Advance(20 * time.Second)
	_, err = c.Fetch(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, controller.ErrBudgetExhausted)
	assert.Equal(t, int32(4), calls.Load(), "retries are still inside the window")

	clock.Advance(30 * time.Second)
	_, err = c.Fetch(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, controller.ErrBudgetExhausted)
	assert.Greater(t, calls.Load(), int32(4))
}

func TestManualRetryResetsBudgetAndAttemptsOnce(t *testing.T) {
	c, _ := newController(t)
	var calls atomic.Int32
	var healthy atomic.Bool
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		if healthy.Load() {
			return "page-1", nil
		}
		return "", api.ErrTransient
	}

	_, err := c.Fetch(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, controller.ErrBudgetExhausted)
	require.Equal(t, int32(4), calls.Load())

	_, err = c.Retry(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, api.ErrTransient)
	assert.NotErrorIs(t, err, controller.ErrBudgetExhausted)
	assert.Equal(t, int32(5), calls.Load())
	snap := c.Snapshot("conversations")
	assert.Equal(t, controller.Failed, snap.State)
	assert.False(t, snap.Exhausted)
	assert.Zero(t, snap.Retries)

	healthy.Store(true)
	got, err := c.Retry(context.Background(), "conversations", fn)
	require.NoError(t, err)
	assert.Equal(t, "page-1", got)
	assert.Equal(t, controller.Ready, c.Snapshot("conversations").State)
}

func TestPermanentErrorsAreNeverRetried(t *testing.T) {
	for _, sentinel := range []error{
		conversation.ErrNotParticipant,
		conversation.ErrConversationClosed,
		conversation.ErrImmutableMessage,
		conversation.ErrNotOwner,
		conversation.ErrTargetNotFound,
		conversation.ErrMalformedIdentifier,
	} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			c, clock := newController(t)
			var calls atomic.Int32
			fn := failing(&calls, fmt.Errorf("wrapped: %w", sentinel))

			_, err := c.Fetch(context.Background(), "messages:x", fn)
			require.ErrorIs(t, err, sentinel)
			_, err = c.Fetch(context.Background(), "messages:x", fn)
			require.ErrorIs(t, err, sentinel)
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, clock.sleeps)
			assert.Equal(t, controller.ClassPermanent, c.Snapshot("messages:x").Class)
		})
	}
}

func TestAuthFailureStopsAndNotifies(t *testing.T) {
	c, _ := newController(t)
	var notified []string
	c.OnAuthFailure = func(target string, err error) {
		notified = append(notified, target)
	}
	var calls atomic.Int32

	_, err := c.Fetch(context.Background(), "conversations", failing(&calls, fmt.Errorf("%w: 401", api.ErrAuthentication)))
	require.ErrorIs(t, err, api.ErrAuthentication)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"conversations"}, notified)
	assert.Equal(t, controller.ClassAuth, c.Snapshot("conversations").Class)
}

func TestConcurrentFetchesJoinOneFlight(t *testing.T) {
	c, _ := newController(t)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "list", nil
	}

	require.NoError(t, c.Start("conversations", fn))
	assert.Equal(t, controller.Fetching, c.Snapshot("conversations").State)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Fetch(context.Background(), "conversations", fn)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	require.NoError(t, c.Start("conversations", fn))
	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "list", r)
	}
	snap := c.Snapshot("conversations")
	assert.Equal(t, controller.Ready, snap.State)
	assert.Equal(t, uint64(1), snap.Seq)
}

func TestCancelDropsLateResult(t *testing.T) {
	c, _ := newController(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		close(entered)
		<-release
		return "stale", nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "messages:a", fn)
		errCh <- err
	}()
	<-entered
	c.Cancel("messages:a")
	close(release)

	assert.ErrorIs(t, <-errCh, controller.ErrCanceled)
	snap := c.Snapshot("messages:a")
	assert.Equal(t, controller.Idle, snap.State)
	assert.False(t, snap.HasData)
}

func TestSetIdentityDiscardsTargetsAndInFlightWork(t *testing.T) {
	c, _ := newController(t)
	_, err := c.Fetch(context.Background(), "conversations", func(context.Context) (string, error) {
		return "cust-1 list", nil
	})
	require.NoError(t, err)

	entered := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "messages:a", func(ctx context.Context) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})
		errCh <- err
	}()
	<-entered

	c.SetIdentity("vend-1")
	assert.ErrorIs(t, <-errCh, controller.ErrCanceled)
	assert.Equal(t, "vend-1", c.Identity())
	for _, target := range []string{"conversations", "messages:a"} {
		snap := c.Snapshot(target)
		assert.Equal(t, controller.Idle, snap.State)
		assert.False(t, snap.HasData)
	}
}

func TestCallTimeoutIsTransient(t *testing.T) {
	c, _ := newController(t)
	c.Timeout = 5 * time.Millisecond
	var calls atomic.Int32
	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", errors.New("request aborted")
	}

	_, err := c.Fetch(context.Background(), "conversations", fn)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, controller.ErrBudgetExhausted)
	assert.Equal(t, int32(4), calls.Load())
}

func TestFailedTargetKeepsLastData(t *testing.T) {
	c, _ := newController(t)
	_, err := c.Fetch(context.Background(), "conversations", func(context.Context) (string, error) {
		return "v1", nil
	})
	require.NoError(t, err)
	var calls atomic.Int32
	_, err = c.Fetch(context.Background(), "conversations", failing(&calls, api.ErrTransient))
	require.Error(t, err)

	snap := c.Snapshot("conversations")
	assert.Equal(t, controller.Failed, snap.State)
	assert.True(t, snap.HasData)
	assert.Equal(t, "v1", snap.Data)
}

func TestFetchWaitHonoursCallerContext(t *testing.T) {
	c, _ := newController(t)
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "conversations", func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, controller.Fetching, c.Snapshot("conversations").State)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want controller.Class
	}{
		{api.ErrTransient, controller.ClassTransient},
		{context.DeadlineExceeded, controller.ClassTransient},
		{errors.New("connection reset"), controller.ClassTransient},
		{fmt.Errorf("%w: 401", api.ErrAuthentication), controller.ClassAuth},
		{conversation.ErrNotParticipant, controller.ClassPermanent},
		{conversation.ErrInvalidInput, controller.ClassPermanent},
		{controller.ErrCanceled, controller.ClassPermanent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, controller.Classify(tc.err), tc.err.Error())
	}
}

func TestFakeClockFiresDueWaiters(t *testing.T) {
	clock := controller.NewFakeClock(epoch)
	ch := clock.After(2 * time.Second)
	assert.Equal(t, 1, clock.Waiters())
	clock.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}
	clock.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, epoch.Add(2*time.Second), at)
	default:
		t.Fatal("waiter not fired")
	}
	assert.Zero(t, clock.Waiters())
}
