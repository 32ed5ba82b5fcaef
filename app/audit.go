package app

import (
	"context"
	"log"
	"time"

	"ai-trade-finder/database"
	models "ai-trade-finder/database/models_pkg"
	"ai-trade-finder/helpers"
)

// Auditor writes START/SUCCESS/FAILURE rows to the operation audit log.
// Audit write failures are logged and never fail the audited operation.
type Auditor struct {
	store database.AuditStore
}

// NewAuditor creates an auditor; a nil store disables auditing
func NewAuditor(store database.AuditStore) *Auditor {
	return &Auditor{store: store}
}

// AuditSpan is one audited operation
type AuditSpan struct {
	auditor       *Auditor
	ctx           context.Context
	operation     string
	symbol        string
	correlationID string
	start         time.Time
}

// Start records the START row. The returned context carries the correlation id,
// reusing the caller's when one is already present.
func (a *Auditor) Start(ctx context.Context, operation, symbol string) (context.Context, *AuditSpan) {
	ctx, correlationID := helpers.EnsureCorrelationID(ctx)
	span := &AuditSpan{
		auditor:       a,
		ctx:           ctx,
		operation:     operation,
		symbol:        symbol,
		correlationID: correlationID,
		start:         time.Now(),
	}
	span.record(models.AuditPhaseStart, "", nil)
	return ctx, span
}

// CorrelationID returns the span's correlation id
func (s *AuditSpan) CorrelationID() string {
	return s.correlationID
}

// Success records the SUCCESS row
func (s *AuditSpan) Success(message string, metadata map[string]interface{}) {
	s.record(models.AuditPhaseSuccess, message, metadata)
}

// Failure records the FAILURE row
func (s *AuditSpan) Failure(err error, metadata map[string]interface{}) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.record(models.AuditPhaseFailure, msg, metadata)
}

func (s *AuditSpan) record(phase, message string, metadata map[string]interface{}) {
	if s.auditor == nil || s.auditor.store == nil {
		return
	}

	entry := &database.OperationAudit{
		CorrelationID: s.correlationID,
		Operation:     s.operation,
		Phase:         phase,
		Symbol:        s.symbol,
		Message:       helpers.Truncate(message, 1000),
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}
	if phase != models.AuditPhaseStart {
		entry.DurationMs = time.Since(s.start).Milliseconds()
	}

	// detached so a cancelled request still gets its FAILURE row
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.auditor.store.Record(ctx, entry); err != nil {
		log.Printf("⚠️  Failed to write audit %s %s: %v", s.operation, phase, err)
	}
}
