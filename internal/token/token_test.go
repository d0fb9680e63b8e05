package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_MonotonicWithoutCollisions(t *testing.T) {
	require := require.New(t)

	g := New(Seed(5))

	a, err := g.Next(nil)
	require.NoError(err)
	b, err := g.Next(nil)
	require.NoError(err)

	require.Equal(uint32(5), a)
	require.Equal(uint32(6), b)
}

func TestNext_SkipsCollisions(t *testing.T) {
	require := require.New(t)

	g := New(Seed(0))
	used := map[uint32]bool{0: true, 1: true}

	v, err := g.Next(func(c uint32) bool { return used[c] })
	require.NoError(err)
	require.Equal(uint32(2), v)
}

func TestNext_ExhaustedWhenEveryCandidateCollides(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	g := New(Seed(0), MaxAttempts(10))

	_, err := g.Next(func(uint32) bool { return true })
	require.Error(err)
	assert.ErrorIs(err, ErrExhausted)
}
