package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditSignUp            = "auth.signup"
	AuditSignInSuccess     = "auth.signin.success"
	AuditSignInFailed      = "auth.signin.failed"
	AuditSignInRateLimited = "auth.signin.rate_limited"
	AuditRefreshSuccess    = "auth.refresh.success"
	AuditRefreshFailed     = "auth.refresh.failed"
	AuditSignOut           = "auth.signout"
)

// AuditEvent is one security-relevant auth outcome.
type AuditEvent struct {
	Action    string
	UserID    *int64
	Login     string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Auditor records auth events. Failures are the Auditor's to log; they never
// fail the request.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to the structured log.
type LogAuditor struct{ Log *slog.Logger }

func (a LogAuditor) Record(ctx context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"login", ev.Login, "ip", ev.IP}
	if ev.UserID != nil {
		attrs = append(attrs, "user_id", *ev.UserID)
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, ev.Action, attrs...)
}

// PostgresAuditor appends events to schema.auth_audit.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("api: nil pool")
	}
	if schema == "" {
		schema = "codetalk"
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, table: pgx.Identifier{schema, "auth_audit"}.Sanitize(), log: log}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+a.table+` (action, user_id, login, ip, user_agent, meta) VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		ev.Action, ev.UserID, trimOrNil(ev.Login), trimOrNil(ev.IP), trimOrNil(ev.UserAgent), meta)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

func trimOrNil(s string) any {
	if v := strings.TrimSpace(s); v != "" {
		return v
	}
	return nil
}

func (h *Handler) audit(r *http.Request, action string, userID *int64, login string, meta map[string]any) {
	if h.auditor == nil {
		return
	}
	ua := r.UserAgent()
	if len(ua) > 256 {
		ua = ua[:256]
	}
	h.auditor.Record(r.Context(), AuditEvent{
		Action:    action,
		UserID:    userID,
		Login:     login,
		IP:        clientIP(r, h.trustProxy),
		UserAgent: ua,
		Meta:      meta,
	})
}
