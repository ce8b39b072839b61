// Package cache keeps the signed-in user's conversation list on the device and reconciles it
// with the server in the background.
package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// Entry is one row of the locally cached conversation list.
type Entry struct {
	ConversationID     string    `json:"conversationId"`
	Kind               string    `json:"kind,omitempty"`
	Title              string    `json:"title,omitempty"`
	Counterpart        string    `json:"counterpart,omitempty"`
	Status             string    `json:"status,omitempty"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastActivityAt     time.Time `json:"lastActivityAt"`
	UnreadCount        int       `json:"unreadCount"`
}

// Merge upserts server entries into local and returns a new ordered list. Server values win
// for preview, activity, unread and status; a local title survives when the server has none.
// Local entries the server did not mention are kept. Merge(Merge(l, s), s) equals Merge(l, s).
func Merge(local, server []Entry) []Entry {
	byID := make(map[string]Entry, len(local)+len(server))
	order := make([]string, 0, len(local)+len(server))
	for _, e := range local {
		if _, seen := byID[e.ConversationID]; !seen {
			order = append(order, e.ConversationID)
		}
		byID[e.ConversationID] = e
	}
	for _, s := range server {
		existing, seen := byID[s.ConversationID]
		if !seen {
			order = append(order, s.ConversationID)
			byID[s.ConversationID] = s
			continue
		}
		merged := s
		if strings.TrimSpace(merged.Title) == "" {
			merged.Title = existing.Title
		}
		if merged.Kind == "" {
			merged.Kind = existing.Kind
		}
		if merged.Counterpart == "" {
			merged.Counterpart = existing.Counterpart
		}
		byID[s.ConversationID] = merged
	}

	out := make([]Entry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	Sort(out)
	return out
}

// Sort orders entries by last activity, newest first, then by conversation id.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ConversationID < b.ConversationID
	})
}

// Remove returns entries without id.
func Remove(entries []Entry, id string) ([]Entry, bool) {
	out := make([]Entry, 0, len(entries))
	removed := false
	for _, e := range entries {
		if e.ConversationID == id {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// FromConversation projects a server conversation as seen by viewer.
func FromConversation(c dto.Conversation, viewer string) Entry {
	counterpart := c.ParticipantB
	if viewer == c.ParticipantB {
		counterpart = c.ParticipantA
	}
	return Entry{
		ConversationID:     c.ID,
		Kind:               c.Kind,
		Counterpart:        counterpart,
		Status:             c.Status,
		LastMessagePreview: c.LastMessagePreview,
		LastActivityAt:     c.LastActivityAt.UTC(),
		UnreadCount:        c.UnreadCount,
	}
}

// DisplayTitle is what a list shows for e when no title was stored.
func (e Entry) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	if e.Kind == string(conversation.KindSupport) {
		return "Support"
	}
	if e.Counterpart != "" {
		return e.Counterpart
	}
	return e.ConversationID
}
