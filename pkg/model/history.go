package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header field names, in the order they are written at creation.
const (
	FieldID        = "id"
	FieldUserName  = "user_name"
	FieldUserID    = "user_id"
	FieldScript    = "script"
	FieldStartTime = "start_time"
	FieldCommand   = "command"
	// FieldExitCode is appended once the process has exited.
	FieldExitCode = "exit_code"
)

// HistoryEntry is a read-only view of one transcript header.
type HistoryEntry struct {
	ID         string    `json:"id"`
	UserName   string    `json:"user_name"`
	UserID     string    `json:"user_id"`
	ScriptName string    `json:"script"`
	Command    string    `json:"command"`
	StartTime  time.Time `json:"start_time"`
	ExitCode   *int      `json:"exit_code,omitempty"`
}

// Finished reports whether the exit code has been patched in.
func (e *HistoryEntry) Finished() bool {
	return e.ExitCode != nil
}

// EntryFromFields maps decoded header fields to an entry.
//
// A missing or empty id yields (nil, nil): the file is not a transcript.
// Unparseable start_time or exit_code values are errors.
func EntryFromFields(fields map[string]string) (*HistoryEntry, error) {
	id := fields[FieldID]
	if id == "" {
		return nil, nil
	}

	entry := &HistoryEntry{
		ID:         id,
		UserName:   fields[FieldUserName],
		UserID:     fields[FieldUserID],
		ScriptName: fields[FieldScript],
		Command:    fields[FieldCommand],
	}

	if v, ok := fields[FieldExitCode]; ok {
		code, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("exit_code %q: %w", v, err)
		}
		entry.ExitCode = &code
	}

	if v := fields[FieldStartTime]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("start_time %q: %w", v, err)
		}
		entry.StartTime = time.UnixMilli(ms)
	}

	return entry, nil
}

// NewExecutionID returns a random execution identifier.
func NewExecutionID() string {
	return uuid.NewString()
}

// Millis converts t to epoch milliseconds as written in start_time.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
