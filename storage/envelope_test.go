package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeJSON(t *testing.T) {
	type record struct {
		Hash string `json:"hash"`
	}
	env, err := SealJSON(record{Hash: "abc"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Equal(t, SchemePlainJSON, env.Scheme)
	assert.Equal(t, uint64(3), env.Version)

	var out record
	require.NoError(t, OpenJSON(env, &out))
	assert.Equal(t, "abc", out.Hash)

	env.Scheme = "aes256gcm"
	assert.Error(t, OpenJSON(env, &out))
	assert.Error(t, OpenJSON(nil, &out))
}
