package bucket_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/domains/caseflow"
	"caseflow/infrastructure/bucket"
	"caseflow/infrastructure/bucket/buckettest"
)

func newStorage(t *testing.T, caseID int) (*bucket.Storage, *buckettest.Store) {
	t.Helper()
	store := buckettest.New()
	s := bucket.NewStorage(store, "10654", "4915112345678")
	if caseID > 0 {
		require.NoError(t, s.SetCaseID(caseID))
	}
	return s, store
}

func TestStoragePaths(t *testing.T) {
	s, _ := newStorage(t, 2)

	assert.Equal(t, "10654/4915112345678/", s.DirUser())
	assert.Equal(t, "10654/4915112345678/user_data.json", s.PathUserData())
	assert.Equal(t, "10654/4915112345678/case_index.json", s.PathCaseIndex())

	dir, err := s.DirCase()
	require.NoError(t, err)
	assert.Equal(t, "10654/4915112345678/cases/2/", dir)

	manifest, err := s.PathManifest()
	require.NoError(t, err)
	assert.Equal(t, "10654/4915112345678/cases/2/case_manifest.json", manifest)

	msg, err := s.PathMessage("m-1")
	require.NoError(t, err)
	assert.Equal(t, "10654/4915112345678/cases/2/messages/m-1.json", msg)
}

func TestStorageCaseScopedPathsRequireCase(t *testing.T) {
	s, _ := newStorage(t, 0)

	_, err := s.DirCase()
	assert.ErrorIs(t, err, bucket.ErrNoCaseSelected)
	_, err = s.PathManifest()
	assert.ErrorIs(t, err, bucket.ErrNoCaseSelected)
	assert.Error(t, s.SetCaseID(0))
	assert.Error(t, s.SetCaseID(-3))
}

func TestStorageJSONReadAbsent(t *testing.T) {
	s, _ := newStorage(t, 1)

	var idx caseflow.CaseIndex
	found, err := s.JSONRead(context.Background(), s.PathCaseIndex(), &idx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorageJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, 1)

	two := 2
	require.NoError(t, s.JSONWrite(ctx, s.PathCaseIndex(), caseflow.CaseIndex{OpenCaseID: &two}))

	var idx caseflow.CaseIndex
	found, err := s.JSONRead(ctx, s.PathCaseIndex(), &idx)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, idx.OpenCaseID)
	assert.Equal(t, 2, *idx.OpenCaseID)
}

func TestStorageDedup(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, 1)

	exists, err := s.DedupExists(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.DedupWrite(ctx, "key-1"))
	exists, err = s.DedupExists(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStorageMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, 1)

	msg := &caseflow.UserContentMsg{Text: "hello"}
	require.NoError(t, msg.Init())
	require.NoError(t, s.MessageWrite(ctx, msg))

	loaded, err := s.MessageRead(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, caseflow.TagUserContent, loaded.Tag())
	assert.Equal(t, "hello", loaded.(*caseflow.UserContentMsg).Text)

	absent, err := s.MessageRead(ctx, "never-written")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestStorageMessageReadUnknownTag(t *testing.T) {
	ctx := context.Background()
	s, store := newStorage(t, 1)

	key, err := s.PathMessage("foreign-1")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, key, []byte(`{"basemodel":"ForeignMsg","id":"foreign-1"}`), "application/json"))

	loaded, err := s.MessageRead(ctx, "foreign-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStorageMediaWriteSkipsExisting(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, 1)

	media := &caseflow.MediaData{Mime: "image/png", Name: "m-1.png"}
	require.NoError(t, s.MediaWrite(ctx, media, &caseflow.MediaContent{Mime: "image/png", Content: []byte{1}}))

	// Second write with different bytes must not overwrite.
	require.NoError(t, s.MediaWrite(ctx, media, &caseflow.MediaContent{Mime: "image/png", Content: []byte{9, 9}}))

	data, err := s.MediaRead(ctx, "m-1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	absent, err := s.MediaRead(ctx, "other.png")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestStorageNextCaseID(t *testing.T) {
	ctx := context.Background()
	s, store := newStorage(t, 0)

	id, err := s.NextCaseID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.NoError(t, store.Put(ctx, "10654/4915112345678/cases/1/case_manifest.json", []byte("{}"), "application/json"))
	require.NoError(t, store.Put(ctx, "10654/4915112345678/cases/7/case_manifest.json", []byte("{}"), "application/json"))
	require.NoError(t, store.Put(ctx, "10654/4915112345678/locks/x.json", []byte("{}"), "application/json"))
	require.NoError(t, store.Put(ctx, "10654/4915112345678/cases/archive/case_manifest.json", []byte("{}"), "application/json"))

	id, err = s.NextCaseID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, id)
}

func TestStorageManifestAppend(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t, 1)

	m := caseflow.NewCaseManifest(1)
	msg := &caseflow.UserContentMsg{Text: "hi"}
	require.NoError(t, msg.Init())
	require.NoError(t, s.ManifestAppend(ctx, m, msg))
	require.NoError(t, s.ManifestAppend(ctx, m, msg))

	loaded, err := s.ManifestLoad(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []string{msg.ID}, loaded.MessageIDs)
	assert.NotEmpty(t, loaded.TimeLastMessage)

	s2 := bucket.NewStorage(buckettest.New(), "10654", "4915112345678")
	require.NoError(t, s2.SetCaseID(3))
	missing, err := s2.ManifestLoad(ctx)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
