package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions recorded by the ledger.
const (
	AuditActionCreate  = "create"
	AuditActionUpdate  = "update"
	AuditActionApprove = "approve"
	AuditActionDelete  = "delete"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	TenantID  int64
	UserID    int64
	UserName  string
	UserEmail string
	Action    string
	Entity    string
	EntityID  string
	Before    any
	After     any
	Meta      map[string]any
	At        time.Time
}

// WithActor copies the actor identity into the log.
func (l AuditLog) WithActor(actor Actor) AuditLog {
	l.UserID = actor.UserID
	l.UserName = actor.Name
	l.UserEmail = actor.Email
	return l
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	before, err := marshalNullable(log.Before)
	if err != nil {
		return err
	}
	after, err := marshalNullable(log.After)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, user_id, user_name, user_email, action, entity, entity_id, before_data, after_data, meta, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, COALESCE($11, NOW()))`,
		log.TenantID, log.UserID, log.UserName, log.UserEmail, log.Action, log.Entity, log.EntityID, before, after, metaJSON, nullTime(log.At))
	return err
}

func (l AuditLog) validate() error {
	if l.TenantID == 0 {
		return errors.New("audit log requires tenant_id")
	}
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
