// Package execution runs commands and reports their lifecycle to listeners.
package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/creack/pty"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/model"
	"github.com/runlog-project/runlog/pkg/pathutil"
)

const readBufferSize = 32 * 1024

// Config describes a command to run.
type Config struct {
	// Name is the script name recorded for the run. Defaults to the base
	// name of the executable.
	Name    string
	Command []string
	// TTY runs the command attached to a pseudo-terminal.
	TTY bool
	Dir string
	Env []string
	// Echo, if set, receives a copy of the output as it is produced.
	Echo io.Writer
}

type execution struct {
	id     string
	cfg    Config
	owner  string
	names  audit.Names
	output *outputStream

	done     chan struct{}
	finished bool
	exitCode int
	runErr   error
}

// Service starts commands and tracks them until they finish.
type Service struct {
	log *logging.Logger

	mu         sync.RWMutex
	executions map[string]*execution
	listeners  []func(executionID string)
}

// NewService returns an empty Service.
func NewService(log *logging.Logger) *Service {
	if log == nil {
		log = logging.Global()
	}
	return &Service{
		log:        log.Named("execution"),
		executions: make(map[string]*execution),
	}
}

// AddStartListener registers l to be called synchronously after each
// command has started.
func (s *Service) AddStartListener(l func(executionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start launches cfg.Command on behalf of owner and returns the new
// execution id. The command is stopped if ctx is cancelled.
func (s *Service) Start(ctx context.Context, cfg Config, owner string, names audit.Names) (string, error) {
	if len(cfg.Command) == 0 {
		return "", errors.New("start: empty command")
	}
	if cfg.Name != "" {
		if err := pathutil.ValidateName(cfg.Name); err != nil {
			return "", fmt.Errorf("start: script name: %w", err)
		}
	}

	ex := &execution{
		id:     model.NewExecutionID(),
		cfg:    cfg,
		owner:  owner,
		names:  names,
		output: newOutputStream(s.log),
		done:   make(chan struct{}),
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	var (
		out  io.ReadCloser
		wait func() error
	)
	if cfg.TTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return "", fmt.Errorf("start %s in pty: %w", cfg.Command[0], err)
		}
		out = ptmx
		wait = cmd.Wait
	} else {
		pr, pw := io.Pipe()
		cmd.Stdout = pw
		cmd.Stderr = pw
		if err := cmd.Start(); err != nil {
			pw.Close()
			return "", fmt.Errorf("start %s: %w", cfg.Command[0], err)
		}
		out = pr
		wait = func() error {
			err := cmd.Wait()
			pw.Close()
			return err
		}
	}

	s.mu.Lock()
	s.executions[ex.id] = ex
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	s.log.Info("execution started", map[string]any{"execution_id": ex.id, "command": ex.command(), "tty": cfg.TTY})
	for _, l := range listeners {
		l(ex.id)
	}

	go s.run(ex, out, wait)
	return ex.id, nil
}

// run pumps output until the process is gone, then records the exit code
// before completing the output stream.
func (s *Service) run(ex *execution, out io.ReadCloser, wait func() error) {
	waitErr := make(chan error, 1)
	if !ex.cfg.TTY {
		// The pipe only reaches EOF once Wait has closed the writer.
		go func() { waitErr <- wait() }()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			if ex.cfg.Echo != nil {
				_, _ = ex.cfg.Echo.Write(buf[:n])
			}
			ex.output.publish(buf[:n])
		}
		if err != nil {
			break
		}
	}

	var err error
	if ex.cfg.TTY {
		err = wait()
	} else {
		err = <-waitErr
	}
	_ = out.Close()

	s.mu.Lock()
	ex.exitCode, ex.runErr = exitStatus(err)
	ex.finished = true
	s.mu.Unlock()

	fields := map[string]any{"execution_id": ex.id, "exit_code": ex.exitCode}
	if ex.runErr != nil {
		s.log.ErrorErr("execution failed", ex.runErr, fields)
	} else {
		s.log.Info("execution finished", fields)
	}

	ex.output.finish()
	close(ex.done)
}

// exitStatus maps a Wait error to an exit code. Only errors other than a
// non-zero exit are returned.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (s *Service) get(id string) (*execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	return ex, ok
}

// Wait blocks until the execution finishes and returns its exit code.
func (s *Service) Wait(ctx context.Context, id string) (int, error) {
	ex, ok := s.get(id)
	if !ok {
		return 0, errclass.ErrEntryNotFound.WithMessagef("execution %s", id)
	}
	select {
	case <-ex.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return ex.exitCode, ex.runErr
}

// ExitCode reports the exit code of a finished execution. It is available
// before the output stream completes.
func (s *Service) ExitCode(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok || !ex.finished {
		return 0, false
	}
	return ex.exitCode, true
}

func (s *Service) ScriptName(id string) string {
	ex, ok := s.get(id)
	if !ok {
		return ""
	}
	if ex.cfg.Name != "" {
		return ex.cfg.Name
	}
	return filepath.Base(ex.cfg.Command[0])
}

func (s *Service) AuditName(id string) string {
	ex, ok := s.get(id)
	if !ok {
		return ""
	}
	return ex.names.AuditName()
}

func (s *Service) Owner(id string) string {
	ex, ok := s.get(id)
	if !ok {
		return ""
	}
	return ex.owner
}

func (s *Service) AllAuditNames(id string) audit.Names {
	ex, ok := s.get(id)
	if !ok {
		return nil
	}
	return ex.names
}

// OutputStream returns the execution's output source, or nil for an
// unknown id.
func (s *Service) OutputStream(id string) transcript.Source {
	ex, ok := s.get(id)
	if !ok {
		return nil
	}
	return ex.output
}

// AuditCommand returns the command line as it should be recorded.
func (s *Service) AuditCommand(id string) string {
	ex, ok := s.get(id)
	if !ok {
		return ""
	}
	return ex.command()
}

func (ex *execution) command() string {
	parts := make([]string, len(ex.cfg.Command))
	for i, arg := range ex.cfg.Command {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$") {
			arg = strconv.Quote(arg)
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
