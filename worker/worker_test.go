package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/domains/caseflow"
	"caseflow/domains/whatsapp"
	"caseflow/infrastructure/bucket/buckettest"
	"caseflow/infrastructure/queue"
	"caseflow/usecase"
)

type recordingHooks struct {
	processed int
	generated int
	again     []bool
}

func (r *recordingHooks) ProcessMessage(ctx context.Context, h *usecase.CaseHandler, msg *whatsapp.Message, media *caseflow.MediaContent) (bool, error) {
	r.processed++
	stored, err := h.DedupAndIngest(ctx, msg, media)
	if err != nil {
		return false, err
	}
	return stored != nil, nil
}

func (r *recordingHooks) GenerateResponse(context.Context, *usecase.CaseHandler, int) (bool, error) {
	r.generated++
	if len(r.again) == 0 {
		return false, nil
	}
	again := r.again[0]
	r.again = r.again[1:]
	return again, nil
}

func newTestWorker(t *testing.T, hooks usecase.Hooks) (*Worker, *queue.Store, *buckettest.Store) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	store := buckettest.New()
	factory := func(ctx context.Context, operator whatsapp.Metadata, user whatsapp.Contact) (*usecase.CaseHandler, error) {
		h, err := usecase.NewCaseHandler(ctx, store, nil, operator, user, usecase.Config{})
		if err != nil {
			return nil, err
		}
		h.SetHooks(hooks)
		return h, nil
	}

	w := New(q, nil, factory, Config{ResponseDelay: 50 * time.Millisecond})
	return w, q, store
}

func webhookPayload(wamid, from, body string) *whatsapp.Payload {
	return &whatsapp.Payload{
		Object: "whatsapp_business_account",
		Entry: []whatsapp.Entry{{
			ID: "entry-1",
			Changes: []whatsapp.Change{{
				Field: "messages",
				Value: whatsapp.Value{
					MessagingProduct: "whatsapp",
					Metadata:         whatsapp.Metadata{DisplayPhoneNumber: "+1 065-4", PhoneNumberID: "10654"},
					Contacts: []whatsapp.Contact{{
						WaID:    from,
						Profile: &whatsapp.Profile{Name: "Ada"},
					}},
					Messages: []whatsapp.Message{{
						From:      from,
						ID:        wamid,
						Timestamp: "1787659200",
						Type:      "text",
						Text:      &whatsapp.Text{Body: body},
					}},
				},
			}},
		}},
	}
}

func TestWorkerProcessesRowAndSchedulesResponse(t *testing.T) {
	hooks := &recordingHooks{}
	w, q, store := newTestWorker(t, hooks)
	ctx := context.Background()

	current := time.Now()
	w.now = func() time.Time { return current }

	ok, err := q.Enqueue(webhookPayload("wamid.1", "4915112345678", "hello"))
	require.NoError(t, err)
	require.True(t, ok)

	busy, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, busy)
	assert.Equal(t, 1, hooks.processed)
	assert.Equal(t, 1, w.PendingJobs())
	assert.Zero(t, hooks.generated)

	// The message landed in the store before any response pass.
	assert.Contains(t, store.Keys(), "10654/4915112345678/case_index.json")

	// Nothing due until the coalescing delay elapses.
	busy, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, busy)
	assert.Zero(t, hooks.generated)

	current = current.Add(100 * time.Millisecond)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hooks.generated)
	assert.Zero(t, w.PendingJobs())
}

func TestWorkerCoalescesBurst(t *testing.T) {
	hooks := &recordingHooks{}
	w, q, _ := newTestWorker(t, hooks)
	ctx := context.Background()

	current := time.Now()
	w.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		ok, err := q.Enqueue(webhookPayload(fmt.Sprintf("wamid.%d", i), "4915112345678", fmt.Sprintf("part %d", i)))
		require.NoError(t, err)
		require.True(t, ok)

		_, err = w.Tick(ctx)
		require.NoError(t, err)
		current = current.Add(10 * time.Millisecond)
	}

	// Three messages ingested, one pending pass for the user.
	assert.Equal(t, 3, hooks.processed)
	assert.Equal(t, 1, w.PendingJobs())

	current = current.Add(100 * time.Millisecond)
	_, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hooks.generated)
}

func TestWorkerDuplicateRedeliverySchedulesNothing(t *testing.T) {
	hooks := &recordingHooks{}
	w, q, _ := newTestWorker(t, hooks)
	ctx := context.Background()

	current := time.Now()
	w.now = func() time.Time { return current }

	ok, err := q.Enqueue(webhookPayload("wamid.1", "4915112345678", "hello"))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = w.Tick(ctx)
	require.NoError(t, err)

	current = current.Add(100 * time.Millisecond)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, hooks.generated)

	// Same wamid in a fresh row: ingested as duplicate, no new job.
	payload := webhookPayload("wamid.1", "4915112345678", "hello")
	payload.Entry[0].ID = "entry-2"
	ok, err = q.Enqueue(payload)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, w.PendingJobs())
}

func TestWorkerInvalidPayloadMarkedError(t *testing.T) {
	hooks := &recordingHooks{}
	w, q, _ := newTestWorker(t, hooks)

	payload := webhookPayload("wamid.1", "4915112345678", "hello")
	payload.Object = "not_whatsapp"
	ok, err := q.Enqueue(payload)
	require.NoError(t, err)
	require.True(t, ok)

	busy, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, busy)
	assert.Zero(t, hooks.processed)

	status, lastErr, err := q.Status(1)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusError, status)
	assert.Contains(t, lastErr, "invalid payload")
}

func TestWorkerBoundsToolCallRounds(t *testing.T) {
	hooks := &recordingHooks{again: []bool{true, true, true, true, true, true, true, true, true, true}}
	w, q, _ := newTestWorker(t, hooks)
	ctx := context.Background()

	current := time.Now()
	w.now = func() time.Time { return current }

	ok, err := q.Enqueue(webhookPayload("wamid.1", "4915112345678", "hello"))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = w.Tick(ctx)
	require.NoError(t, err)

	current = current.Add(100 * time.Millisecond)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, maxResponseRounds, hooks.generated)
}

func TestContactFor(t *testing.T) {
	contacts := []whatsapp.Contact{
		{WaID: "111", Profile: &whatsapp.Profile{Name: "A"}},
		{WaID: "222", Profile: &whatsapp.Profile{Name: "B"}},
	}
	assert.Equal(t, "B", contactFor(contacts, "222").Name())
	assert.Equal(t, whatsapp.Contact{WaID: "333"}, contactFor(contacts, "333"))
}
