package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasLines(t *testing.T) {
	var s ReconciledState
	assert.False(t, s.HasLines())

	sl := 95000.0
	s.Current.StopLoss = &sl
	assert.True(t, s.HasLines())
}

// HasLines is read off copies returned by accessors, so it must be callable
// on a bare function result.
func TestHasLinesOnReturnedCopy(t *testing.T) {
	entry := 96000.0
	byValue := func() ReconciledState {
		return ReconciledState{Current: StrategyLineSet{Entry: &entry}}
	}
	assert.True(t, byValue().HasLines())
}
