package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/controller"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

var (
	// ErrStaleEntry means the selected conversation is gone or no longer visible to the user.
	// The entry has been removed from the cache.
	ErrStaleEntry = errors.New("cache: conversation is no longer available")
	ErrNotOpen    = errors.New("cache: no user is open")
)

const (
	listTarget     = "conversations"
	messagesPrefix = "messages:"
)

// Source is the slice of the API the reconciler reads from.
type Source interface {
	ListConversations(ctx context.Context, opts api.ListOptions) (dto.ConversationList, error)
	ListMessages(ctx context.Context, conversationID string, opts api.MessageOptions) (dto.MessageList, error)
}

// Reconciler serves the cached list immediately and revalidates it through the controllers.
type Reconciler struct {
	Store    Store
	Source   Source
	Lists    *controller.Controller[[]Entry]
	Messages *controller.Controller[dto.MessageList]
	PageSize int
	MaxPages int
	Logger   *slog.Logger
	// OnChange receives the new list after a background refresh is applied.
	OnChange func(userID string, entries []Entry)

	mu      sync.Mutex
	user    string
	epoch   uint64
	entries []Entry
	stale   map[string]struct{}
}

func NewReconciler(store Store, source Source) *Reconciler {
	return &Reconciler{
		Store:    store,
		Source:   source,
		Lists:    controller.New[[]Entry](),
		Messages: controller.New[dto.MessageList](),
		PageSize: 50,
		MaxPages: 20,
	}
}

// Open switches to userID, returns the persisted list and refreshes it in the background.
func (r *Reconciler) Open(ctx context.Context, userID string) ([]Entry, error) {
	out, epoch, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, err := r.refresh(context.Background(), userID, epoch, r.Lists.Fetch); err != nil && !errors.Is(err, controller.ErrCanceled) {
			r.log(slog.LevelWarn, "background refresh failed", "user_id", userID, "error", err)
		}
	}()
	return out, nil
}

// OpenCached switches to userID and returns the persisted list without contacting the server.
func (r *Reconciler) OpenCached(ctx context.Context, userID string) ([]Entry, error) {
	out, _, err := r.load(ctx, userID)
	return out, err
}

func (r *Reconciler) load(ctx context.Context, userID string) ([]Entry, uint64, error) {
	if userID == "" {
		return nil, 0, ErrNoUser
	}
	r.mu.Lock()
	if userID != r.user {
		r.entries = nil
		r.stale = nil
		r.user = userID
		r.epoch++
	}
	epoch := r.epoch
	r.mu.Unlock()
	r.Lists.SetIdentity(userID)
	r.Messages.SetIdentity(userID)

	loaded, err := r.Store.Load(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	Sort(loaded)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return nil, 0, controller.ErrCanceled
	}
	r.entries = loaded
	return clone(loaded), epoch, nil
}

// fetchMode is either the automatic, budgeted fetch or the one-shot manual retry.
type fetchMode[T any] func(ctx context.Context, target string, fn controller.FetchFunc[T]) (T, error)

// Refresh fetches the full list now and merges it into the cache. After an auth or permanent
// failure it keeps returning that error; use Retry once the cause is fixed.
func (r *Reconciler) Refresh(ctx context.Context) ([]Entry, error) {
	return r.refreshOpen(ctx, r.Lists.Fetch)
}

// Retry is the manual retry of the list: it clears a stored failure, resets the retry budget
// and makes exactly one attempt. Call it after the user re-authenticates.
func (r *Reconciler) Retry(ctx context.Context) ([]Entry, error) {
	return r.refreshOpen(ctx, r.Lists.Retry)
}

func (r *Reconciler) refreshOpen(ctx context.Context, mode fetchMode[[]Entry]) ([]Entry, error) {
	r.mu.Lock()
	userID, epoch := r.user, r.epoch
	r.mu.Unlock()
	if userID == "" {
		return nil, ErrNotOpen
	}
	return r.refresh(ctx, userID, epoch, mode)
}

func (r *Reconciler) refresh(ctx context.Context, userID string, epoch uint64, mode fetchMode[[]Entry]) ([]Entry, error) {
	server, err := mode(ctx, listTarget, r.fetchAll(userID))
	if err != nil {
		return r.Entries(), err
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return nil, controller.ErrCanceled
	}
	if len(r.stale) > 0 {
		kept := server[:0:0]
		for _, e := range server {
			if _, gone := r.stale[e.ConversationID]; !gone {
				kept = append(kept, e)
			}
		}
		server = kept
		r.stale = nil
	}
	r.entries = Merge(r.entries, server)
	out := clone(r.entries)
	err = r.Store.Save(ctx, userID, r.entries)
	r.mu.Unlock()
	if err != nil {
		return out, err
	}
	if r.OnChange != nil {
		r.OnChange(userID, clone(out))
	}
	return out, nil
}

func (r *Reconciler) fetchAll(userID string) controller.FetchFunc[[]Entry] {
	return func(ctx context.Context) ([]Entry, error) {
		var out []Entry
		maxPages := r.MaxPages
		if maxPages <= 0 {
			maxPages = 1
		}
		for page := 1; page <= maxPages; page++ {
			list, err := r.Source.ListConversations(ctx, api.ListOptions{Page: page, Limit: r.PageSize})
			if err != nil {
				return nil, err
			}
			for _, c := range list.Conversations {
				out = append(out, FromConversation(c, userID))
			}
			if !list.Pagination.HasMore {
				return out, nil
			}
		}
		r.log(slog.LevelWarn, "conversation list truncated", "user_id", userID, "pages", maxPages, "entries", len(out))
		return out, nil
	}
}

// Select loads the newest page of history for conversationID. A conversation the server no
// longer shows to this user is dropped from the cache and reported as ErrStaleEntry.
func (r *Reconciler) Select(ctx context.Context, conversationID string) (dto.MessageList, error) {
	return r.selectWith(ctx, conversationID, r.Messages.Fetch)
}

// SelectRetry is Select as a manual retry: a stored auth or permanent failure is cleared and
// one fresh attempt is made.
func (r *Reconciler) SelectRetry(ctx context.Context, conversationID string) (dto.MessageList, error) {
	return r.selectWith(ctx, conversationID, r.Messages.Retry)
}

func (r *Reconciler) selectWith(ctx context.Context, conversationID string, mode fetchMode[dto.MessageList]) (dto.MessageList, error) {
	if _, err := conversation.ParseID(conversationID); err != nil {
		return dto.MessageList{}, err
	}
	r.mu.Lock()
	userID := r.user
	r.mu.Unlock()
	if userID == "" {
		return dto.MessageList{}, ErrNotOpen
	}

	target := messagesPrefix + conversationID
	list, err := mode(ctx, target, func(ctx context.Context) (dto.MessageList, error) {
		return r.Source.ListMessages(ctx, conversationID, api.MessageOptions{Limit: r.PageSize})
	})
	if errors.Is(err, conversation.ErrTargetNotFound) || errors.Is(err, conversation.ErrNotParticipant) {
		r.Messages.Cancel(target)
		if rmErr := r.drop(ctx, userID, conversationID, true); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return dto.MessageList{}, fmt.Errorf("%w: %w", ErrStaleEntry, err)
	}
	return list, err
}

// Forget removes conversationID from this device only. The server keeps the conversation and
// the next full sync brings it back.
func (r *Reconciler) Forget(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	userID := r.user
	r.mu.Unlock()
	if userID == "" {
		return ErrNotOpen
	}
	r.Messages.Cancel(messagesPrefix + conversationID)
	return r.drop(ctx, userID, conversationID, false)
}

// Record upserts a conversation the user just created or wrote to.
func (r *Reconciler) Record(ctx context.Context, c dto.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == "" {
		return ErrNotOpen
	}
	delete(r.stale, c.ID)
	r.entries = Merge(r.entries, []Entry{FromConversation(c, r.user)})
	return r.Store.Save(ctx, r.user, r.entries)
}

// Entries returns the current in-memory view.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.entries)
}

func (r *Reconciler) User() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user
}

// Close drops the view and cancels outstanding fetches. The store is left to its owner.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.user = ""
	r.entries = nil
	r.stale = nil
	r.epoch++
	r.mu.Unlock()
	r.Lists.SetIdentity("")
	r.Messages.SetIdentity("")
}

func (r *Reconciler) drop(ctx context.Context, userID, conversationID string, stale bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user != userID {
		return nil
	}
	if stale {
		// a list flight already under way may still carry the entry
		if r.stale == nil {
			r.stale = make(map[string]struct{})
		}
		r.stale[conversationID] = struct{}{}
	}
	var removed bool
	r.entries, removed = Remove(r.entries, conversationID)
	if !removed {
		return nil
	}
	return r.Store.Save(ctx, userID, r.entries)
}

func (r *Reconciler) log(level slog.Level, msg string, attrs ...any) {
	if r.Logger == nil {
		return
	}
	r.Logger.Log(context.Background(), level, msg, attrs...)
}

func clone(entries []Entry) []Entry {
	return append([]Entry(nil), entries...)
}
