package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/commands"
	"github.com/cedromirror/talkcart-web-sub008/internal/app/middleware"
	appoutbox "github.com/cedromirror/talkcart-web-sub008/internal/app/outbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/memory"
)

type noteResult struct {
	Text string `json:"text"`
	N    int    `json:"n"`
}

type noteCommand struct {
	User       string
	RequestKey string
	Text       string
}

func (noteCommand) Key() string              { return "test.note" }
func (c noteCommand) Actor() string          { return c.User }
func (c noteCommand) IdempotencyKey() string { return c.RequestKey }
func (noteCommand) ResultPrototype() any     { return &noteResult{} }
func (c noteCommand) Validate() error {
	if c.Text == "" {
		return conversation.ErrInvalidInput
	}
	return nil
}

type countingHandler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *countingHandler) Handle(_ context.Context, cmd noteCommand) (noteResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return noteResult{}, h.err
	}
	return noteResult{Text: cmd.Text, N: h.calls}, nil
}

func newBus(h *countingHandler, mws ...middleware.CommandMiddleware) commands.Bus {
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler[noteCommand, noteResult](bus, h)
	return middleware.ChainCommands(bus, mws...)
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	h := &countingHandler{}
	bus := newBus(h, middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil))
	ctx := context.Background()

	first, err := commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u", RequestKey: "k1", Text: "hi"})
	require.NoError(t, err)
	again, err := commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u", RequestKey: "k1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, h.calls)

	_, err = commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u", Text: "no key"})
	require.NoError(t, err)
	assert.Equal(t, 2, h.calls)
}

func TestIdempotencyRemembersOnlyPermanentFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIdempotencyStore(time.Hour)

	closed := &countingHandler{err: conversation.ErrConversationClosed}
	bus := newBus(closed, middleware.Idempotency(store, nil))
	for i := 0; i < 2; i++ {
		_, err := commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u", RequestKey: "closed", Text: "x"})
		assert.ErrorIs(t, err, conversation.ErrConversationClosed)
	}
	assert.Equal(t, 1, closed.calls)

	flaky := &countingHandler{err: errors.New("connection reset")}
	bus = newBus(flaky, middleware.Idempotency(store, nil))
	for i := 0; i < 2; i++ {
		_, err := commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u", RequestKey: "flaky", Text: "x"})
		assert.Error(t, err)
	}
	assert.Equal(t, 2, flaky.calls)
}

func TestAuthorizationAndValidationRunBeforeHandler(t *testing.T) {
	h := &countingHandler{}
	bus := newBus(h,
		middleware.Authorization(middleware.RequireActor),
		middleware.Validation(middleware.SelfValidation{}),
	)
	ctx := context.Background()

	_, err := commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{Text: "hi"})
	assert.ErrorIs(t, err, conversation.ErrForbidden)
	_, err = commands.Dispatch[noteCommand, noteResult](ctx, bus, noteCommand{User: "u"})
	assert.ErrorIs(t, err, conversation.ErrInvalidInput)
	assert.Zero(t, h.calls)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveCommand(key, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, key+"="+outcome)
}

func TestLoggingReportsOutcomeCodes(t *testing.T) {
	obsv := &recordingObserver{}
	ctx := context.Background()

	ok := newBus(&countingHandler{}, middleware.Logging(obs.Discard(), obsv))
	_, err := commands.Dispatch[noteCommand, noteResult](ctx, ok, noteCommand{User: "u", Text: "x"})
	require.NoError(t, err)

	denied := newBus(&countingHandler{err: conversation.ErrNotParticipant}, middleware.Logging(obs.Discard(), obsv))
	_, _ = commands.Dispatch[noteCommand, noteResult](ctx, denied, noteCommand{User: "u", Text: "x"})

	broken := newBus(&countingHandler{err: errors.New("disk full")}, middleware.Logging(obs.Discard(), obsv))
	_, _ = commands.Dispatch[noteCommand, noteResult](ctx, broken, noteCommand{User: "u", Text: "x"})

	assert.Equal(t, []string{
		"test.note=ok",
		"test.note=" + string(conversation.CodeNotParticipant),
		"test.note=error",
	}, obsv.outcomes)
}

type failingOutbox struct {
	flushes int
}

func (f *failingOutbox) Add(context.Context, appoutbox.EventRecord) error { return nil }
func (f *failingOutbox) Flush(context.Context) error {
	f.flushes++
	return errors.New("broker down")
}

func TestOutboxFlushKeepsCommittedResult(t *testing.T) {
	box := &failingOutbox{}
	bus := newBus(&countingHandler{}, middleware.OutboxFlush(box, obs.Discard()))
	res, err := commands.Dispatch[noteCommand, noteResult](context.Background(), bus, noteCommand{User: "u", Text: "kept"})
	require.NoError(t, err)
	assert.Equal(t, "kept", res.Text)
	assert.Equal(t, 1, box.flushes)

	bus = newBus(&countingHandler{err: conversation.ErrNotOwner}, middleware.OutboxFlush(box, obs.Discard()))
	_, err = commands.Dispatch[noteCommand, noteResult](context.Background(), bus, noteCommand{User: "u", Text: "x"})
	assert.ErrorIs(t, err, conversation.ErrNotOwner)
	assert.Equal(t, 1, box.flushes)
}
