// Package audit records security-sensitive events. Writes are best-effort:
// a failed audit write is logged and swallowed so it never blocks the
// operation being audited.
package audit

import (
	"context"
	"log"

	"policyhub/api/internal/store"
)

// Events recorded by the portal and admin surfaces.
const (
	EventLoginSuccess       = "login.success"
	EventLoginFailure       = "login.failure"
	EventLoginLockout       = "login.lockout"
	EventImpersonationStart = "impersonation.start"
	EventImpersonationStop  = "impersonation.stop"
	EventCodeRequested      = "ack_code.requested"
	EventCodeConfirmed      = "ack_code.confirmed"
	EventCodeRejected       = "ack_code.rejected"
	EventLegacyMigration    = "portal.legacy_migration"
)

// Writer is the slice of the store the logger needs.
type Writer interface {
	InsertSecurityEvent(ctx context.Context, event store.SecurityEvent) error
}

type Logger struct {
	writer Writer
}

func NewLogger(writer Writer) *Logger {
	return &Logger{writer: writer}
}

// Record writes the event. Errors are logged, never returned.
func (l *Logger) Record(ctx context.Context, event store.SecurityEvent) {
	if l == nil || l.writer == nil {
		return
	}
	if err := l.writer.InsertSecurityEvent(ctx, event); err != nil {
		log.Printf("audit write failed: event=%s err=%v", event.Event, err)
	}
}
