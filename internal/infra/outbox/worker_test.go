package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appoutbox "github.com/cedromirror/talkcart-web-sub008/internal/app/outbox"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/storage/memory"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type recordingProducer struct {
	fail bool
	out  []published
}

func (p *recordingProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.out = append(p.out, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ObserveOutbox(result string) { o[result]++ }

func addRecord(t *testing.T, box *memory.Outbox, id, name string) {
	t.Helper()
	require.NoError(t, box.Add(context.Background(), appoutbox.EventRecord{
		ID:         id,
		Name:       name,
		Payload:    []byte(`{"conversationId":"c-1"}`),
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Aggregate:  "c-1",
		Headers:    map[string]string{"traceparent": "00-abc-01"},
	}))
}

func TestWorkerRelaysCloudEvents(t *testing.T) {
	box := memory.NewOutbox()
	addRecord(t, box, "ev-1", "message.sent")
	addRecord(t, box, "ev-2", "conversation.status_changed")
	producer := &recordingProducer{}
	observer := countingObserver{}
	w := &Worker{Queue: box, Producer: producer, TopicPrefix: "talkcart.", Logger: obs.Discard(), Observer: observer}

	require.NoError(t, w.Drain(context.Background()))
	require.Len(t, producer.out, 2)
	assert.Equal(t, "talkcart.message.events.v1", producer.out[0].topic)
	assert.Equal(t, "talkcart.conversation.events.v1", producer.out[1].topic)
	assert.Equal(t, "c-1", producer.out[0].key)
	assert.Equal(t, "application/cloudevents+json", producer.out[0].headers["content-type"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(producer.out[0].payload, &evt))
	assert.Equal(t, "1.0", evt["specversion"])
	assert.Equal(t, "ev-1", evt["id"])
	assert.Equal(t, "message.sent.v1", evt["type"])
	assert.Equal(t, "00-abc-01", evt["traceparent"])
	assert.Equal(t, 2, observer["sent"])
	assert.Empty(t, box.Pending())
}

func TestWorkerBacksOffFailedPublishes(t *testing.T) {
	box := memory.NewOutbox()
	addRecord(t, box, "ev-1", "message.sent")
	producer := &recordingProducer{fail: true}
	observer := countingObserver{}
	w := &Worker{Queue: box, Producer: producer, Backoff: []time.Duration{time.Hour}, Logger: obs.Discard(), Observer: observer}

	processed, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, observer["failed"])

	processed, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed, "record must wait for its backoff")
	assert.Len(t, box.Pending(), 1)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "message.events.v1", TopicFor("", "message.reaction_toggled"))
	assert.Equal(t, "x.plain.events.v1", TopicFor("x.", "plain"))
}

func TestRunRequiresDependencies(t *testing.T) {
	err := (&Worker{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrWorkerNotConfigured)
}
