package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/runlog-project/runlog/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryFromFields_Full(t *testing.T) {
	fields := map[string]string{
		model.FieldID:        "7",
		model.FieldUserName:  "alice",
		model.FieldUserID:    "alice@example.com",
		model.FieldScript:    "build.sh",
		model.FieldStartTime: "1700000000000",
		model.FieldCommand:   "./build.sh --release",
		model.FieldExitCode:  "0",
	}

	entry, err := model.EntryFromFields(fields)
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "7", entry.ID)
	assert.Equal(t, "alice", entry.UserName)
	assert.Equal(t, "alice@example.com", entry.UserID)
	assert.Equal(t, "build.sh", entry.ScriptName)
	assert.Equal(t, "./build.sh --release", entry.Command)
	assert.True(t, entry.StartTime.Equal(time.UnixMilli(1700000000000)))
	require.NotNil(t, entry.ExitCode)
	assert.Equal(t, 0, *entry.ExitCode)
	assert.True(t, entry.Finished())
}

func TestEntryFromFields_NoExitCode(t *testing.T) {
	entry, err := model.EntryFromFields(map[string]string{"id": "8"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.ExitCode)
	assert.False(t, entry.Finished())
	assert.True(t, entry.StartTime.IsZero())
}

func TestEntryFromFields_MissingID(t *testing.T) {
	for _, fields := range []map[string]string{
		{},
		{"id": ""},
		{"script": "build.sh"},
	} {
		entry, err := model.EntryFromFields(fields)
		assert.NoError(t, err)
		assert.Nil(t, entry)
	}
}

func TestEntryFromFields_BadNumbers(t *testing.T) {
	_, err := model.EntryFromFields(map[string]string{"id": "1", "exit_code": "zero"})
	assert.Error(t, err)

	_, err = model.EntryFromFields(map[string]string{"id": "1", "start_time": "yesterday"})
	assert.Error(t, err)
}

func TestEntryFromFields_NegativeExitCode(t *testing.T) {
	entry, err := model.EntryFromFields(map[string]string{"id": "1", "exit_code": "-15"})
	require.NoError(t, err)
	assert.Equal(t, -15, *entry.ExitCode)
}

func TestNewExecutionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := model.NewExecutionID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate: %s", id)
		seen[id] = true
	}
}

func TestMillis(t *testing.T) {
	assert.Equal(t, int64(1700000000000), model.Millis(time.UnixMilli(1700000000000)))
}
