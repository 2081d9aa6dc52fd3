package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-exchange/internal/ledger"
)

func TestOpen_Memory(t *testing.T) {
	b, err := ledger.Open(context.Background(), "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryStore{}, b.Store)
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := ledger.Open(context.Background(), "mongo", "")
	assert.ErrorContains(t, err, "unknown ledger backend")
}
