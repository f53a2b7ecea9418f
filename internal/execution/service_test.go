package execution_test

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/internal/execution"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// recordingSink collects everything it is given.
type recordingSink struct {
	mu       sync.Mutex
	data     bytes.Buffer
	complete chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{complete: make(chan struct{})}
}

func (r *recordingSink) OnChunk(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Write(p)
}

func (r *recordingSink) OnComplete() { close(r.complete) }

func (r *recordingSink) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.String()
}

func TestService_RunReportsExitCode(t *testing.T) {
	requireShell(t)
	svc := execution.NewService(logging.Discard())

	var started []string
	svc.AddStartListener(func(id string) { started = append(started, id) })

	id, err := svc.Start(context.Background(), execution.Config{
		Command: []string{"sh", "-c", "echo hello; exit 3"},
	}, "alice", audit.Names{audit.AuthUsername: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, started)

	code, err := svc.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	got, ok := svc.ExitCode(id)
	require.True(t, ok)
	assert.Equal(t, 3, got)

	assert.Equal(t, "sh", svc.ScriptName(id))
	assert.Equal(t, "alice", svc.Owner(id))
	assert.Equal(t, "alice", svc.AuditName(id))
	assert.Equal(t, `sh -c "echo hello; exit 3"`, svc.AuditCommand(id))
}

func TestService_LateSubscriberGetsReplay(t *testing.T) {
	requireShell(t)
	svc := execution.NewService(logging.Discard())

	id, err := svc.Start(context.Background(), execution.Config{
		Name:    "greet",
		Command: []string{"sh", "-c", "printf 'a\\n'; printf 'b\\n' 1>&2"},
	}, "", nil)
	require.NoError(t, err)
	_, err = svc.Wait(context.Background(), id)
	require.NoError(t, err)

	sink := newRecordingSink()
	svc.OutputStream(id).Subscribe(sink)

	select {
	case <-sink.complete:
	case <-time.After(5 * time.Second):
		t.Fatal("output never completed")
	}
	assert.Equal(t, "a\nb\n", sink.String())
	assert.Equal(t, "greet", svc.ScriptName(id))
}

func TestService_Echo(t *testing.T) {
	requireShell(t)
	svc := execution.NewService(logging.Discard())

	var echo bytes.Buffer
	id, err := svc.Start(context.Background(), execution.Config{
		Command: []string{"sh", "-c", "echo mirrored"},
		Echo:    &echo,
	}, "", nil)
	require.NoError(t, err)
	_, err = svc.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "mirrored\n", echo.String())
}

func TestService_StartErrors(t *testing.T) {
	svc := execution.NewService(logging.Discard())

	_, err := svc.Start(context.Background(), execution.Config{}, "", nil)
	assert.Error(t, err)

	_, err = svc.Start(context.Background(), execution.Config{
		Command: []string{"/definitely/not/a/binary"},
	}, "", nil)
	assert.Error(t, err)

	_, err = svc.Start(context.Background(), execution.Config{
		Name:    "../escape",
		Command: []string{"true"},
	}, "", nil)
	assert.ErrorIs(t, err, errclass.ErrNameInvalid)
}

func TestService_UnknownExecution(t *testing.T) {
	svc := execution.NewService(logging.Discard())

	_, err := svc.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, errclass.ErrEntryNotFound)

	_, ok := svc.ExitCode("missing")
	assert.False(t, ok)
	assert.Nil(t, svc.OutputStream("missing"))
	assert.Empty(t, svc.ScriptName("missing"))
	assert.Empty(t, svc.AuditCommand("missing"))
	assert.Nil(t, svc.AllAuditNames("missing"))
}

func TestService_ContextCancelStopsCommand(t *testing.T) {
	requireShell(t)
	svc := execution.NewService(logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	id, err := svc.Start(ctx, execution.Config{
		Command: []string{"sleep", "30"},
	}, "", nil)
	require.NoError(t, err)
	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	code, err := svc.Wait(waitCtx, id)
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
}

func TestService_RecordsTranscript(t *testing.T) {
	requireShell(t)
	store, err := history.NewService(t.TempDir(), nil,
		history.WithLogger(logging.Discard()),
		history.WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)

	svc := execution.NewService(logging.Discard())
	initiator := history.NewInitiator(svc, store)
	initiator.Start()

	id, err := svc.Start(context.Background(), execution.Config{
		Name:    "build.sh",
		Command: []string{"sh", "-c", "echo line1; echo line2; exit 4"},
	}, "alice-id", audit.Names{audit.AuthUsername: "alice"})
	require.NoError(t, err)

	tr, ok := initiator.Transcript(id)
	require.True(t, ok)
	select {
	case <-tr.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("transcript never finished")
	}

	body, ok := store.FindLog(id)
	require.True(t, ok)
	assert.Equal(t, "line1\nline2\n", string(body))

	entry, ok := store.FindHistoryEntry(id)
	require.True(t, ok)
	assert.Equal(t, "build.sh", entry.ScriptName)
	assert.Equal(t, "alice", entry.UserName)
	assert.Equal(t, "alice-id", entry.UserID)
	require.NotNil(t, entry.ExitCode)
	assert.Equal(t, 4, *entry.ExitCode)
}

func TestService_TTY(t *testing.T) {
	requireShell(t)
	svc := execution.NewService(logging.Discard())

	var echo bytes.Buffer
	id, err := svc.Start(context.Background(), execution.Config{
		Command: []string{"sh", "-c", "test -t 1 && echo on-a-tty"},
		TTY:     true,
		Echo:    &echo,
	}, "", nil)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}

	code, err := svc.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, echo.String(), "on-a-tty")
}
