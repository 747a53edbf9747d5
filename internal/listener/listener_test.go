package listener

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/prayer"
)

type recordingPublisher struct {
	topic    string
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.topic = topic
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(`{"day":"2026-10-15","kind":"asr","completed":true,"ts":1792051200}`)
	require.NoError(t, err)
	assert.Equal(t, ChangeEvent{Day: "2026-10-15", Kind: "asr", Completed: true, Timestamp: 1792051200}, ev)

	for _, bad := range []string{
		`{`,
		`{"day":"15-10-2026","kind":"asr"}`,
		`{"day":"2026-10-15","kind":"sunrise"}`,
		`{"day":"2026-10-15","kind":"tahajjud"}`,
	} {
		_, err := ParseEvent(bad)
		assert.Error(t, err, bad)
	}
}

func TestProcessorPublishesSummary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := completion.NewMemoryStore(clock)
	for _, k := range []prayer.Kind{prayer.Fajr, prayer.Dhuhr} {
		_, err := store.Toggle(ctx, now, k)
		require.NoError(t, err)
	}

	pub := &recordingPublisher{}
	var seen []ChangeEvent
	p := &Processor{
		Service:   adherence.NewService(store, clock, nil),
		Publisher: pub,
		Topic:     "salah/stats",
		OnChange:  func(ev ChangeEvent) { seen = append(seen, ev) },
	}

	require.NoError(t, p.Handle(ctx, `{"day":"2026-10-15","kind":"dhuhr","completed":true,"ts":1}`))
	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "salah/stats", pub.topic)
	require.Len(t, seen, 1)

	var got StatsUpdate
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "dhuhr", got.Event.Kind)
	assert.True(t, got.Summary.Available)
	assert.Equal(t, 2, got.Summary.TodayCompleted)
	assert.Equal(t, adherence.PrayersPerDay, got.Summary.TodayTotal)

	// Bad payloads never reach the publisher.
	assert.Error(t, p.Handle(ctx, `not json`))
	assert.Len(t, pub.payloads, 1)

	pub.err = errors.New("broker down")
	assert.Error(t, p.Handle(ctx, `{"day":"2026-10-15","kind":"asr","completed":false,"ts":2}`))
}

func TestProcessorWithoutPublisher(t *testing.T) {
	store := completion.NewMemoryStore(nil)
	p := &Processor{Service: adherence.NewService(store, nil, nil)}
	assert.NoError(t, p.Handle(context.Background(), `{"day":"2026-10-15","kind":"isha","completed":true,"ts":1}`))
}
