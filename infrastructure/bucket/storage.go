package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"caseflow/domains/caseflow"
)

// ErrNoCaseSelected is returned by case-scoped paths before SetCaseID.
var ErrNoCaseSelected = errors.New("bucket: no case selected")

// Storage maps one (operator, user) pair onto the key layout:
//
//	<operator_id>/<user_id>/user_data.json
//	<operator_id>/<user_id>/case_index.json
//	<operator_id>/<user_id>/dedup/<idempotency_key>.json
//	<operator_id>/<user_id>/locks/<token>.json
//	<operator_id>/<user_id>/cases/<case_id>/case_manifest.json
//	<operator_id>/<user_id>/cases/<case_id>/messages/<message_id>.json
//	<operator_id>/<user_id>/cases/<case_id>/media/<name>
type Storage struct {
	store      ObjectStore
	operatorID string
	userID     string
	caseID     int
}

// NewStorage scopes store access to one user under one operator number.
func NewStorage(store ObjectStore, operatorID, userID string) *Storage {
	return &Storage{store: store, operatorID: operatorID, userID: userID}
}

// SetCaseID selects the case the case-scoped paths refer to.
func (s *Storage) SetCaseID(id int) error {
	if id <= 0 {
		return fmt.Errorf("bucket: invalid case id %d", id)
	}
	s.caseID = id
	return nil
}

// CaseID returns the selected case id, zero when none.
func (s *Storage) CaseID() int { return s.caseID }

// DirUser is the user root, with trailing slash.
func (s *Storage) DirUser() string {
	return s.operatorID + "/" + s.userID + "/"
}

// DirCase is the selected case root.
func (s *Storage) DirCase() (string, error) {
	if s.caseID <= 0 {
		return "", ErrNoCaseSelected
	}
	return s.DirUser() + "cases/" + strconv.Itoa(s.caseID) + "/", nil
}

func (s *Storage) PathUserData() string  { return s.DirUser() + "user_data.json" }
func (s *Storage) PathCaseIndex() string { return s.DirUser() + "case_index.json" }

func (s *Storage) PathManifest() (string, error) {
	dir, err := s.DirCase()
	if err != nil {
		return "", err
	}
	return dir + "case_manifest.json", nil
}

func (s *Storage) PathMessage(messageID string) (string, error) {
	dir, err := s.DirCase()
	if err != nil {
		return "", err
	}
	return dir + "messages/" + messageID + ".json", nil
}

func (s *Storage) PathMedia(name string) (string, error) {
	dir, err := s.DirCase()
	if err != nil {
		return "", err
	}
	return dir + "media/" + name, nil
}

func (s *Storage) pathDedup(idempotencyKey string) string {
	return s.DirUser() + "dedup/" + idempotencyKey + ".json"
}

// JSONRead loads key into v. Returns false without error when absent.
func (s *Storage) JSONRead(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

// JSONWrite stores v at key in the canonical serialization.
func (s *Storage) JSONWrite(ctx context.Context, key string, v any) error {
	return s.store.PutJSON(ctx, key, v)
}

// DedupExists reports whether the idempotency key was already ingested for
// this user. Markers are user-scoped so duplicates stay suppressed across
// case rollovers.
func (s *Storage) DedupExists(ctx context.Context, idempotencyKey string) (bool, error) {
	return s.store.Head(ctx, s.pathDedup(idempotencyKey)), nil
}

// DedupWrite drops the dedup marker for an ingested message.
func (s *Storage) DedupWrite(ctx context.Context, idempotencyKey string) error {
	return s.store.Put(ctx, s.pathDedup(idempotencyKey), []byte("{}"), "application/json")
}

// MessageWrite persists one message document under the selected case.
func (s *Storage) MessageWrite(ctx context.Context, msg caseflow.Message) error {
	key, err := s.PathMessage(msg.Base().ID)
	if err != nil {
		return err
	}
	return s.store.PutJSON(ctx, key, msg)
}

// MessageRead loads one message by id. Absent documents and unknown
// basemodel tags both yield (nil, nil) so a case with foreign documents
// stays readable.
func (s *Storage) MessageRead(ctx context.Context, messageID string) (caseflow.Message, error) {
	key, err := s.PathMessage(messageID)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	msg, err := caseflow.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, err)
	}
	if msg == nil {
		logrus.Debugf("[STORAGE] skipping unknown document %s", key)
	}
	return msg, nil
}

// MediaWrite stores media bytes under the name assigned at ingest, skipping
// the upload when the object already exists.
func (s *Storage) MediaWrite(ctx context.Context, media *caseflow.MediaData, content *caseflow.MediaContent) error {
	if media == nil || media.Name == "" {
		return fmt.Errorf("bucket: media has no assigned name")
	}
	key, err := s.PathMedia(media.Name)
	if err != nil {
		return err
	}
	if s.store.Head(ctx, key) {
		return nil
	}
	return s.store.Put(ctx, key, content.Content, content.Mime)
}

// MediaRead fetches media bytes by name. Absent media yields (nil, nil).
func (s *Storage) MediaRead(ctx context.Context, name string) ([]byte, error) {
	key, err := s.PathMedia(name)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// NextCaseID scans the user's cases/ directories and returns max+1, 1 for a
// fresh user. Non-numeric directory names are ignored.
func (s *Storage) NextCaseID(ctx context.Context) (int, error) {
	dirs, err := s.store.ListDirectories(ctx, s.DirUser()+"cases/")
	if err != nil {
		return 0, err
	}
	maxID := 0
	for _, dir := range dirs {
		if n, err := strconv.Atoi(dir); err == nil && n > maxID {
			maxID = n
		}
	}
	return maxID + 1, nil
}

// ManifestLoad reads the selected case's manifest. Absent yields (nil, nil).
func (s *Storage) ManifestLoad(ctx context.Context) (*caseflow.CaseManifest, error) {
	key, err := s.PathManifest()
	if err != nil {
		return nil, err
	}
	var m caseflow.CaseManifest
	found, err := s.JSONRead(ctx, key, &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// ManifestWrite persists the manifest of the selected case.
func (s *Storage) ManifestWrite(ctx context.Context, m *caseflow.CaseManifest) error {
	key, err := s.PathManifest()
	if err != nil {
		return err
	}
	return s.store.PutJSON(ctx, key, m)
}

// ManifestAppend registers msg in the manifest and persists it.
func (s *Storage) ManifestAppend(ctx context.Context, m *caseflow.CaseManifest, msg caseflow.Message) error {
	m.Append(msg)
	return s.ManifestWrite(ctx, m)
}
