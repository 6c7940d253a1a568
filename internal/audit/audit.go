// Package audit records who did what to which lead. Writes happen after the
// business transaction commits and never fail the caller.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ambassador/referrals/internal/logger"
)

// Actions written by the lifecycle controller
const (
	ActionLeadStatusChanged = "lead.status_changed"
	ActionLeadConverted     = "lead.converted"
	ActionAmbassadorCreated = "ambassador.registered"
)

// Modules group actions by the component that produced them
const (
	ModuleLeads       = "leads"
	ModuleAmbassadors = "ambassadors"
)

// Entry is one audit record
type Entry struct {
	Action      string
	Module      string
	Description string
	TargetID    string
	ActorID     string
	Metadata    map[string]any
}

// Sink persists audit entries
type Sink interface {
	LogAction(ctx context.Context, e Entry) error
}

// PostgresSink writes entries to audit_logs
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a PostgresSink
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// LogAction implements Sink
func (s *PostgresSink) LogAction(ctx context.Context, e Entry) error {
	var metadata []byte
	if e.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (action, module, description, target_id, actor_id, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
	`, e.Action, e.Module, e.Description, e.TargetID, e.ActorID, metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Recorder dispatches entries to a Sink in the background. Failures are
// logged and dropped.
type Recorder struct {
	sink    Sink
	log     logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder with a 5 second write timeout
func NewRecorder(sink Sink, log logger.Logger) *Recorder {
	return &Recorder{sink: sink, log: log, timeout: 5 * time.Second}
}

// Record schedules e for writing and returns immediately.
func (r *Recorder) Record(e Entry) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.LogAction(ctx, e); err != nil {
			r.log.Error("audit write failed", "action", e.Action, "target_id", e.TargetID, "error", err)
		}
	}()
}

// Wait blocks until every scheduled write has finished
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// MemorySink keeps entries in memory
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	Err     error
}

// LogAction implements Sink
func (s *MemorySink) LogAction(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
