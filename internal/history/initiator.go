package history

import (
	"sync"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/pkg/logging"
)

// ExecutionService is the part of the execution engine the initiator needs.
type ExecutionService interface {
	ExitCodeProvider
	AddStartListener(func(executionID string))
	ScriptName(executionID string) string
	AuditName(executionID string) string
	Owner(executionID string) string
	AllAuditNames(executionID string) audit.Names
	OutputStream(executionID string) OutputSource
	AuditCommand(executionID string) string
}

// Initiator starts a transcript for every execution the engine starts.
type Initiator struct {
	executions ExecutionService
	store      *Service
	log        *logging.Logger

	mu          sync.Mutex
	transcripts map[string]*Transcript
}

// NewInitiator connects executions to store. Call Start to begin listening.
func NewInitiator(executions ExecutionService, store *Service) *Initiator {
	return &Initiator{
		executions:  executions,
		store:       store,
		log:         store.log.Named("initiator"),
		transcripts: make(map[string]*Transcript),
	}
}

// Start registers the start listener.
func (i *Initiator) Start() {
	i.executions.AddStartListener(i.started)
}

func (i *Initiator) started(executionID string) {
	ex := i.executions
	t, err := i.store.StartLogging(Start{
		ExecutionID: executionID,
		UserName:    ex.AuditName(executionID),
		UserID:      ex.Owner(executionID),
		ScriptName:  ex.ScriptName(executionID),
		Command:     ex.AuditCommand(executionID),
		Output:      ex.OutputStream(executionID),
		ExitCodes:   ex,
		AuditNames:  ex.AllAuditNames(executionID),
	})
	if err != nil {
		i.log.ErrorErr("start transcript", err, map[string]any{"execution_id": executionID})
		return
	}

	i.mu.Lock()
	i.transcripts[executionID] = t
	i.mu.Unlock()
}

// Transcript returns the handle for an execution started while listening.
// Handles are kept until Forget is called.
func (i *Initiator) Transcript(executionID string) (*Transcript, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.transcripts[executionID]
	return t, ok
}

// Forget drops the handle for executionID. Long-lived callers should call
// it once they are done with a finished transcript.
func (i *Initiator) Forget(executionID string) {
	i.mu.Lock()
	delete(i.transcripts, executionID)
	i.mu.Unlock()
}
