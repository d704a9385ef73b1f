package queue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/domains/whatsapp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func payloadWithID(id string) *whatsapp.Payload {
	return &whatsapp.Payload{
		Object: "whatsapp_business_account",
		Entry:  []whatsapp.Entry{{ID: id}},
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.Enqueue(payloadWithID("e-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Enqueue(payloadWithID("e-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Enqueue(payloadWithID("e-2"))
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClaimNextOrderAndStatus(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Enqueue(payloadWithID("first"))
	require.NoError(t, err)
	_, err = s.Enqueue(payloadWithID("second"))
	require.NoError(t, err)

	claimed, err := s.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "first", claimed.Payload.Entry[0].ID)

	status, _, err := s.Status(claimed.RowID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, status)

	require.NoError(t, s.MarkDone(claimed.RowID))
	status, _, err = s.Status(claimed.RowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)

	claimed2, err := s.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, "second", claimed2.Payload.Entry[0].ID)

	claimed3, err := s.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestMarkErrorAndRequeue(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Enqueue(payloadWithID("e-1"))
	require.NoError(t, err)

	claimed, err := s.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.MarkError(claimed.RowID, "handler exploded"))
	status, lastErr, err := s.Status(claimed.RowID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
	assert.Equal(t, "handler exploded", lastErr)

	require.NoError(t, s.Requeue(claimed.RowID))
	n, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimNextPoisonRow(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.EnqueueRaw([]byte("{not json"))
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err := s.ClaimNext()
	assert.Error(t, err)
	assert.Nil(t, claimed)

	// The poison row is quarantined, not pending again.
	n, err := s.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueAfterDoneReinserts(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Enqueue(payloadWithID("e-1"))
	require.NoError(t, err)
	claimed, err := s.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(claimed.RowID))

	// Identical payload bytes are still unique across the table.
	ok, err := s.Enqueue(payloadWithID("e-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}
