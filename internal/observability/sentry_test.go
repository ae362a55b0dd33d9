package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *eventRecorder) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newRecordingContext(t *testing.T) (context.Context, *eventRecorder) {
	t.Helper()
	recorder := &eventRecorder{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        "https://public@sentry.example.com/1",
		BeforeSend: recorder.beforeSend,
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())
	return sentry.SetHubOnContext(context.Background(), hub), recorder
}

func TestInitSentry_EmptyDSNIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry(config.SentryConfig{}, "1.0.0", "test"))
}

func TestAlertReconciliation_TagsEvent(t *testing.T) {
	ctx, recorder := newRecordingContext(t)

	AlertReconciliation(ctx, errors.New("trade not persisted"), "user-1", "opp-1", "12345")

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.Equal(t, sentry.LevelFatal, event.Level)
	assert.Equal(t, "reconciliation_required", event.Tags["alert"])
	assert.Equal(t, "opp-1", event.Tags["opportunity_id"])
	assert.Equal(t, "12345", event.Tags["exchange_order_id"])
}

func TestCaptureException_NilErrorIgnored(t *testing.T) {
	ctx, recorder := newRecordingContext(t)

	CaptureException(ctx, nil, nil)
	CaptureException(ctx, errors.New("tool provider down"), map[string]string{"tool": "sentiment_analysis"})

	require.Len(t, recorder.events, 1)
	assert.Equal(t, "sentiment_analysis", recorder.events[0].Tags["tool"])
}
