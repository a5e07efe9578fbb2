package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/sushazhi/fnos-logmanager/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "state.db"), &bbolt.Options{Timeout: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBBoltStorage(t *testing.T) {
	s := newTestStore(t)
	bucket := "settings"
	recordType := "CREDENTIAL"
	recordID := "admin"
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Data: []byte(`{"hash":"x"}`), Version: 1}

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, s.Put(bucket, recordType, recordID, env))

		got, err := s.Get(bucket, recordType, recordID)
		require.NoError(t, err)
		assert.Equal(t, env.Data, got.Data)
		assert.Equal(t, env.Version, got.Version)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(bucket, recordType, "other", env))
		ids, err := s.List(bucket, recordType)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{recordID, "other"}, ids)

		ids, err = s.List("nothing", recordType)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get("nothing", recordType, recordID)
		assert.ErrorIs(t, err, storage.ErrBucketNotFound)
		_, err = s.Get(bucket, recordType, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("PutCAS create-only", func(t *testing.T) {
		require.NoError(t, s.PutCAS(bucket, recordType, "cas1", 0, env))
		assert.ErrorIs(t, s.PutCAS(bucket, recordType, "cas1", 0, env), storage.ErrCASFailed)
	})

	t.Run("PutCAS version match", func(t *testing.T) {
		v2 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Data: []byte(`{}`), Version: 2}
		assert.ErrorIs(t, s.PutCAS(bucket, recordType, "cas1", 7, v2), storage.ErrCASFailed)
		require.NoError(t, s.PutCAS(bucket, recordType, "cas1", 1, v2))

		got, err := s.Get(bucket, recordType, "cas1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(bucket, recordType, "other"))
		assert.ErrorIs(t, s.Delete(bucket, recordType, "other"), storage.ErrNotFound)
	})
}

func TestBBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	env, err := storage.SealJSON(map[string]string{"k": "v"}, 1)
	require.NoError(t, err)
	require.NoError(t, s.Put("b", "T", "id", env))
	require.NoError(t, s.Close())

	s, err = NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("b", "T", "id")
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, storage.OpenJSON(got, &out))
	assert.Equal(t, "v", out["k"])
}
