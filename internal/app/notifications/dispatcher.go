package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/policies"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

// Inbox deduplicates events by id. Seen marks the id and reports whether it was already marked.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Observer interface {
	ObserveNotification(event, result string)
}

var ErrMalformedEvent = errors.New("notifications: malformed event")

// envelope is the CloudEvents JSON form written by the outbox relay.
type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// NewMessage is the payload of TemplateNewMessage.
type NewMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Type           string `json:"type"`
	Preview        string `json:"preview"`
}

type ConversationStarted struct {
	ConversationID string `json:"conversationId"`
	StartedBy      string `json:"startedBy"`
	SubjectRef     string `json:"subjectRef,omitempty"`
}

type ConversationStatus struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	To             string `json:"to"`
	ActorID        string `json:"actorId"`
}

type delivery struct {
	to       string
	template string
	data     any
}

// Dispatcher turns chat events into user notifications.
type Dispatcher struct {
	Inbox    Inbox
	Notifier policies.Notifier
	Logger   *slog.Logger
	Observer Observer
}

// HandleEvent processes one CloudEvents payload. Malformed and unknown events are dropped;
// a failed delivery un-marks the event so redelivery retries it.
func (d *Dispatcher) HandleEvent(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.ID == "" || env.Type == "" {
		d.observe("unknown", "malformed")
		d.logger().Warn("dropping malformed event", "error", err)
		return nil
	}
	name := strings.TrimSuffix(env.Type, ".v1")
	deliveries, err := route(name, env)
	if err != nil {
		d.observe(name, "malformed")
		d.logger().Warn("dropping undecodable event", "event", name, "id", env.ID, "error", err)
		return nil
	}
	if len(deliveries) == 0 {
		d.observe(name, "ignored")
		return nil
	}
	if d.Inbox != nil {
		seen, err := d.Inbox.Seen(ctx, env.ID)
		if err != nil {
			return err
		}
		if seen {
			d.observe(name, "duplicate")
			return nil
		}
	}
	for _, dl := range deliveries {
		if err := d.Notifier.Send(ctx, dl.to, dl.template, dl.data); err != nil {
			d.observe(name, "failed")
			if d.Inbox != nil {
				if fErr := d.Inbox.Forget(ctx, env.ID); fErr != nil {
					return errors.Join(err, fErr)
				}
			}
			return fmt.Errorf("notify %s: %w", dl.to, err)
		}
	}
	d.observe(name, "delivered")
	return nil
}

func route(name string, env envelope) ([]delivery, error) {
	switch name {
	case conversation.EventMessageSent:
		var ev conversation.MessageSent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.RecipientID == "" || ev.Type == conversation.TypeSystem {
			return nil, nil
		}
		return []delivery{{
			to:       ev.RecipientID,
			template: policies.TemplateNewMessage,
			data: NewMessage{
				ConversationID: string(ev.ConversationID),
				MessageID:      ev.Aggregate,
				SenderID:       ev.SenderID,
				Type:           string(ev.Type),
				Preview:        ev.Preview,
			},
		}}, nil
	case conversation.EventConversationCreated:
		var ev conversation.ConversationCreated
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.ParticipantB == "" {
			return nil, ErrMalformedEvent
		}
		return []delivery{{
			to:       ev.ParticipantB,
			template: policies.TemplateConversationStarted,
			data: ConversationStarted{
				ConversationID: ev.Aggregate,
				StartedBy:      ev.ParticipantA,
				SubjectRef:     ev.SubjectRef,
			},
		}}, nil
	case conversation.EventConversationStatusChanged:
		var ev conversation.ConversationStatusChanged
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		var out []delivery
		for _, p := range ev.Participants {
			if p == "" || p == ev.ActorID {
				continue
			}
			out = append(out, delivery{
				to:       p,
				template: policies.TemplateConversationStatus,
				data: ConversationStatus{
					ConversationID: ev.Aggregate,
					From:           string(ev.From),
					To:             string(ev.To),
					ActorID:        ev.ActorID,
				},
			})
		}
		return out, nil
	}
	return nil, nil
}

func (d *Dispatcher) observe(event, result string) {
	if d.Observer != nil {
		d.Observer.ObserveNotification(event, result)
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
