package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_UniqueUUIDs(t *testing.T) {
	g := NewIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.GenerateID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
