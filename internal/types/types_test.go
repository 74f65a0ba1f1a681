package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
	assert.True(t, TaskError.IsTerminal())
	assert.False(t, TaskStatus("bogus").IsTerminal())
}

func TestKlineTypeValid(t *testing.T) {
	for _, k := range []KlineType{KlineDay, KlineWeek, KlineMonth, Kline1m, Kline5m, Kline15m, Kline30m, Kline60m} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, KlineType("45m").Valid())
	assert.False(t, KlineType("").Valid())
}

func TestBSPTypeValid(t *testing.T) {
	for _, b := range []BSPType{BSPType1, BSPType1p, BSPType2, BSPType2s, BSPType3a, BSPType3b} {
		assert.True(t, b.Valid(), string(b))
	}
	assert.False(t, BSPType("4").Valid())
	assert.False(t, BSPType("").Valid())
}

func TestServiceErrorString(t *testing.T) {
	err := &ServiceError{Code: "TASK_NOT_FOUND", Message: "scan task not found: t1"}
	assert.Equal(t, "TASK_NOT_FOUND: scan task not found: t1", err.Error())
}
