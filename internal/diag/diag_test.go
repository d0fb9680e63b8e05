package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WarningLevelConfigBuildsASink(t *testing.T) {
	require := require.New(t)

	s, err := New(Config{MinimumLevel: LevelWarning})
	require.NoError(err)
	require.NotNil(s)

	// Exercise every level; none of these should panic regardless of
	// the minimum-level gate.
	s.Debug("debug")
	s.Info("info")
	s.Warning("warning")
	s.Error("error")
}

func TestNewNop_DiscardsEverything(t *testing.T) {
	assert := assert.New(t)

	s := NewNop()
	assert.NotPanics(func() {
		s.Info("anything")
	})
}
