package history_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/metrics"
	"github.com/runlog-project/runlog/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startMillis = 1700000000000

var nl = transcript.LineSeparator

// fakeSource lets a test drive output delivery by hand.
type fakeSource struct {
	mu   sync.Mutex
	sink transcript.Sink
}

func (s *fakeSource) Subscribe(sink transcript.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *fakeSource) emit(chunks ...string) {
	for _, c := range chunks {
		s.sink.OnChunk([]byte(c))
	}
}

func (s *fakeSource) complete() {
	s.sink.OnComplete()
}

// exitCodes is a fixed ExitCodeProvider.
type exitCodes map[string]int

func (e exitCodes) ExitCode(id string) (int, bool) {
	c, ok := e[id]
	return c, ok
}

type fixture struct {
	dir     string
	svc     *history.Service
	metrics *metrics.Registry
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureIn(t, t.TempDir())
}

func newFixtureIn(t *testing.T, dir string) *fixture {
	t.Helper()
	var logs bytes.Buffer
	logger := logging.NewLogger(logging.LevelDebug)
	logger.SetOutput(&logs)
	reg := metrics.NewRegistry()

	svc, err := history.NewService(dir, filename.New("", "").In(time.UTC),
		history.WithLogger(logger), history.WithMetrics(reg))
	require.NoError(t, err)
	return &fixture{dir: dir, svc: svc, metrics: reg, logs: &logs}
}

func (f *fixture) start(t *testing.T, id string, src *fakeSource, codes history.ExitCodeProvider) *history.Transcript {
	t.Helper()
	tr, err := f.svc.StartLogging(history.Start{
		ExecutionID: id,
		UserName:    "alice",
		UserID:      "alice-id",
		ScriptName:  "build.sh",
		Command:     "./build.sh --release",
		Output:      src,
		ExitCodes:   codes,
		AuditNames:  audit.Names{audit.AuthUsername: "alice"},
		StartTime:   time.UnixMilli(startMillis),
	})
	require.NoError(t, err)
	return tr
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestService_Scenario(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}

	tr := f.start(t, "7", src, exitCodes{"7": 0})
	src.emit("line1\n", "line2\n")
	src.complete()
	tr.Wait()

	body, ok := f.svc.FindLog("7")
	require.True(t, ok)
	assert.Equal(t, "line1\nline2\n", string(body))

	entry, ok := f.svc.FindHistoryEntry("7")
	require.True(t, ok)
	assert.Equal(t, "7", entry.ID)
	assert.Equal(t, "build.sh", entry.ScriptName)
	assert.Equal(t, "alice", entry.UserName)
	assert.Equal(t, "alice-id", entry.UserID)
	assert.Equal(t, "./build.sh --release", entry.Command)
	assert.True(t, entry.StartTime.Equal(time.UnixMilli(startMillis)))
	require.NotNil(t, entry.ExitCode)
	assert.Equal(t, 0, *entry.ExitCode)
}

func TestService_FileFormat(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}

	tr := f.start(t, "7", src, exitCodes{"7": 3})
	assert.Equal(t, filepath.Join(f.dir, "build.sh_alice_231114_221320.log"), tr.Path)

	src.emit("out\n")
	src.complete()
	tr.Wait()

	data, err := os.ReadFile(tr.Path)
	require.NoError(t, err)
	want := "id:7" + nl +
		"user_name:alice" + nl +
		"user_id:alice-id" + nl +
		"script:build.sh" + nl +
		"start_time:1700000000000" + nl +
		"command:./build.sh --release" + nl +
		"exit_code:3" + nl +
		transcript.Marker + nl +
		"out\n"
	assert.Equal(t, want, string(data))
}

func TestService_VisibleImmediatelyWithoutExitCode(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	f.start(t, "x1", src, exitCodes{"x1": 1})

	entry, ok := f.svc.FindHistoryEntry("x1")
	require.True(t, ok)
	assert.Equal(t, "x1", entry.ID)
	assert.Nil(t, entry.ExitCode)

	body, ok := f.svc.FindLog("x1")
	require.True(t, ok)
	assert.Empty(t, body)
}

func TestService_PatchKeepsBodyBytes(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr := f.start(t, "bin", src, exitCodes{"bin": 137})

	chunks := []string{"\r\n", "plain\n", "\x00\x01\xff\xfe", "key:value\n", transcript.Marker + "\n", "no newline at end"}
	src.emit(chunks...)

	before, ok := f.svc.FindLog("bin")
	require.True(t, ok)

	src.complete()
	tr.Wait()

	after, ok := f.svc.FindLog("bin")
	require.True(t, ok)
	assert.Equal(t, before, after)

	var raw []byte
	for _, c := range chunks {
		raw = append(raw, c...)
	}
	assert.Equal(t, raw, after)

	entry, ok := f.svc.FindHistoryEntry("bin")
	require.True(t, ok)
	require.NotNil(t, entry.ExitCode)
	assert.Equal(t, 137, *entry.ExitCode)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Patches)
	assert.Equal(t, int64(0), f.metrics.Snapshot().PatchFailures)
}

func TestService_NoExitCodeAvailable(t *testing.T) {
	f := newFixture(t)

	src := &fakeSource{}
	tr := f.start(t, "a", src, exitCodes{})
	src.complete()
	tr.Wait()

	src2 := &fakeSource{}
	tr2 := f.start(t, "b", src2, nil)
	src2.complete()
	tr2.Wait()

	for _, id := range []string{"a", "b"} {
		entry, ok := f.svc.FindHistoryEntry(id)
		require.True(t, ok)
		assert.Nil(t, entry.ExitCode)
	}
	assert.Equal(t, int64(0), f.metrics.Snapshot().Patches)
}

func TestService_PatchFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr := f.start(t, "gone", src, exitCodes{"gone": 1})

	require.NoError(t, os.Remove(tr.Path))
	src.complete()
	tr.Wait()

	assert.Equal(t, int64(1), f.metrics.Snapshot().PatchFailures)
	assert.Contains(t, f.logs.String(), "write exit code")
}

func TestService_DeletedFileDisappears(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr := f.start(t, "del", src, nil)
	src.complete()
	tr.Wait()

	require.Len(t, f.svc.HistoryEntries(), 1)
	require.NoError(t, os.Remove(tr.Path))

	assert.Empty(t, f.svc.HistoryEntries())
	_, ok := f.svc.FindLog("del")
	assert.False(t, ok)
	_, ok = f.svc.FindHistoryEntry("del")
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.metrics.Snapshot().Pruned)
	assert.Contains(t, f.logs.String(), "transcript was deleted")
}

func TestService_FileWithoutMarkerNeverListed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.log", "id:99\nscript:x\nsome output\n")
	f := newFixtureIn(t, dir)

	assert.Empty(t, f.svc.HistoryEntries())
	_, ok := f.svc.FindLog("99")
	assert.False(t, ok)
}

func TestService_LoadsExistingTranscripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old_run.log", "id:old\nuser_name:bob\nscript:deploy\nstart_time:1600000000000\ncommand:deploy\nexit_code:1\n"+transcript.Marker+"\nprevious output\n")
	writeFile(t, dir, "UPPER.LOG", "id:upper\n"+transcript.Marker+"\n")
	writeFile(t, dir, "notes.txt", "id:txt\n"+transcript.Marker+"\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.log"), 0755))

	f := newFixtureIn(t, dir)

	entries := f.svc.HistoryEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "old", entries[0].ID)
	assert.Equal(t, "upper", entries[1].ID)
	require.NotNil(t, entries[0].ExitCode)
	assert.Equal(t, 1, *entries[0].ExitCode)

	body, ok := f.svc.FindLog("old")
	require.True(t, ok)
	assert.Equal(t, "previous output\n", string(body))
}

func TestService_SyncDoesNotReparse(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeFile(t, dir, fmt.Sprintf("r%d.log", i), fmt.Sprintf("id:%d\n%s\n", i, transcript.Marker))
	}
	writeFile(t, dir, "bad.log", "no marker here\n")

	f := newFixtureIn(t, dir)
	scansAfterLoad := f.metrics.Snapshot().Scans
	assert.Equal(t, int64(4), scansAfterLoad)

	added, removed := f.svc.Sync()
	assert.Empty(t, added)
	assert.Empty(t, removed)
	added, removed = f.svc.Sync()
	assert.Empty(t, added)
	assert.Empty(t, removed)

	assert.Equal(t, scansAfterLoad, f.metrics.Snapshot().Scans)
	assert.Len(t, f.svc.HistoryEntries(), 3)
}

func TestService_SyncReportsChanges(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.dir, "a.log", "id:a\n"+transcript.Marker+"\n")
	path := writeFile(t, f.dir, "b.log", "id:b\n"+transcript.Marker+"\n")

	added, removed := f.svc.Sync()
	assert.Equal(t, []string{"a", "b"}, added)
	assert.Empty(t, removed)

	require.NoError(t, os.Remove(path))
	added, removed = f.svc.Sync()
	assert.Empty(t, added)
	assert.Equal(t, []string{"b"}, removed)
}

func TestService_MalformedFileNeverRetried(t *testing.T) {
	f := newFixture(t)
	path := writeFile(t, f.dir, "late.log", "id:late\n")

	f.svc.Sync()
	require.NoError(t, os.WriteFile(path, []byte("id:late\n"+transcript.Marker+"\n"), 0644))
	f.svc.Sync()

	_, ok := f.svc.FindHistoryEntry("late")
	assert.False(t, ok, "a file that failed to parse once stays hidden")
	assert.Equal(t, int64(1), f.metrics.Snapshot().ScanFailures)
}

func TestService_OwnTranscriptsNotRescanned(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr := f.start(t, "own", src, nil)
	src.complete()
	tr.Wait()

	f.svc.Sync()
	assert.Equal(t, int64(0), f.metrics.Snapshot().Scans)
}

func TestService_DuplicateIDLaterFileWins(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.dir, "first.log", "id:dup\nscript:one\n"+transcript.Marker+"\n")
	f.svc.Sync()
	writeFile(t, f.dir, "second.log", "id:dup\nscript:two\n"+transcript.Marker+"\n")

	entry, ok := f.svc.FindHistoryEntry("dup")
	require.True(t, ok)
	assert.Equal(t, "two", entry.ScriptName)
}

func TestService_FilenameCollision(t *testing.T) {
	f := newFixture(t)
	var paths []string
	for _, id := range []string{"1", "2", "3"} {
		src := &fakeSource{}
		tr := f.start(t, id, src, nil)
		src.complete()
		tr.Wait()
		paths = append(paths, filepath.Base(tr.Path))
	}

	assert.Equal(t, []string{
		"build.sh_alice_231114_221320.log",
		"build.sh_alice_231114_221320_0.log",
		"build.sh_alice_231114_221320_1.log",
	}, paths)
	assert.Len(t, f.svc.HistoryEntries(), 3)
}

func TestService_PatternWithSeparatorStaysInDir(t *testing.T) {
	dir := t.TempDir()
	svc, err := history.NewService(dir, filename.New("runs/${SCRIPT}_${ID}", ""),
		history.WithLogger(logging.Discard()), history.WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)

	src := &fakeSource{}
	tr, err := svc.StartLogging(history.Start{
		ExecutionID: "7",
		ScriptName:  "build.sh",
		Output:      src,
		ExitCodes:   exitCodes{"7": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "runs_build.sh_7.log"), tr.Path)

	entry, ok := svc.FindHistoryEntry("7")
	require.True(t, ok)
	assert.Equal(t, "7", entry.ID)

	src.emit("out\n")
	src.complete()
	tr.Wait()

	body, ok := svc.FindLog("7")
	require.True(t, ok)
	assert.Equal(t, "out\n", string(body))
	assert.NoDirExists(t, filepath.Join(dir, "runs"))
}

func TestService_DefaultStartTime(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewLogger(logging.LevelError)
	logger.SetOutput(&logs)
	fixed := time.UnixMilli(1234567890123)

	svc, err := history.NewService(t.TempDir(), nil,
		history.WithLogger(logger),
		history.WithMetrics(metrics.NewRegistry()),
		history.WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	_, err = svc.StartLogging(history.Start{ExecutionID: "now", ScriptName: "s"})
	require.NoError(t, err)

	entry, ok := svc.FindHistoryEntry("now")
	require.True(t, ok)
	assert.Equal(t, fixed.UnixMilli(), entry.StartTime.UnixMilli())
}

func TestService_MultilineCommand(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr, err := f.svc.StartLogging(history.Start{
		ExecutionID: "ml",
		ScriptName:  "multi",
		Command:     "echo a:b\n  && echo c",
		Output:      src,
		StartTime:   time.UnixMilli(startMillis),
	})
	require.NoError(t, err)
	src.complete()
	tr.Wait()

	entry, ok := f.svc.FindHistoryEntry("ml")
	require.True(t, ok)
	assert.Equal(t, "echo a:b\n  && echo c", entry.Command)
}

func TestService_ConcurrentExecutions(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", n)
			src := &fakeSource{}
			tr, err := f.svc.StartLogging(history.Start{
				ExecutionID: id,
				ScriptName:  "parallel",
				Output:      src,
				ExitCodes:   exitCodes{id: n},
				StartTime:   time.UnixMilli(startMillis),
			})
			if !assert.NoError(t, err) {
				return
			}
			src.emit(fmt.Sprintf("output %d\n", n))
			src.complete()
			tr.Wait()
			f.svc.HistoryEntries()
		}(i)
	}
	wg.Wait()

	entries := f.svc.HistoryEntries()
	require.Len(t, entries, 10)
	for _, e := range entries {
		require.NotNil(t, e.ExitCode)
		body, ok := f.svc.FindLog(e.ID)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("output %d\n", *e.ExitCode), string(body))
	}
}

func TestService_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, ok := f.svc.FindLog("nope")
	assert.False(t, ok)
	_, ok = f.svc.FindHistoryEntry("nope")
	assert.False(t, ok)
	_, ok = f.svc.Path("nope")
	assert.False(t, ok)
}

func TestService_Path(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{}
	tr := f.start(t, "p", src, nil)

	path, ok := f.svc.Path("p")
	require.True(t, ok)
	assert.Equal(t, tr.Path, path)
	assert.Equal(t, f.dir, f.svc.Dir())
}

func TestNewService_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := history.NewService(dir, nil, history.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestNewService_DirIsFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "file", "x")
	_, err := history.NewService(path, nil, history.WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestService_EntryFields(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.dir, "e.log", "id:e\nstart_time:"+fmt.Sprint(startMillis)+"\n"+transcript.Marker+"\n")

	entries := f.svc.HistoryEntries()
	require.Len(t, entries, 1)
	assert.IsType(t, &model.HistoryEntry{}, entries[0])
	assert.Equal(t, int64(startMillis), entries[0].StartTime.UnixMilli())
}
