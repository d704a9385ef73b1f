// Package buckettest provides an in-memory ObjectStore for tests.
package buckettest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"caseflow/infrastructure/bucket"
)

type object struct {
	data         []byte
	contentType  string
	lastModified float64
}

// Store is a map-backed ObjectStore. LastModified advances monotonically per
// Put so lease ordering is deterministic even within one wall-clock tick.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
	seq     float64

	// FailPut, when set, makes Put/PutJSON fail for keys containing it.
	FailPut string
}

var _ bucket.ObjectStore = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Head(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bucket.ErrNotFound, key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (s *Store) Put(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != "" && strings.Contains(key, s.FailPut) {
		return fmt.Errorf("buckettest: put %s refused", key)
	}
	s.seq += 0.001
	data := make([]byte, len(body))
	copy(data, body)
	s.objects[key] = object{
		data:         data,
		contentType:  contentType,
		lastModified: float64(time.Now().UnixNano())/float64(time.Second) + s.seq,
	}
	return nil
}

func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := bucket.MarshalStable(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data, "application/json")
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) ListObjects(_ context.Context, prefix string) ([]bucket.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []bucket.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, bucket.ObjectInfo{Key: key, LastModified: obj.lastModified})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *Store) ListDirectories(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for key := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, "/"); i > 0 {
			seen[rest[:i]] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Keys lists every stored key, sorted, for assertions.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Touch rewrites an object's LastModified to the given epoch seconds.
func (s *Store) Touch(key string, epoch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		obj.lastModified = epoch
		s.objects[key] = obj
	}
}
