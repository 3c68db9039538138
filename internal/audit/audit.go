// Package audit implements an async, buffered audit trail for pipeline DENY
// decisions and admin revocation actions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a single audit log record: either a pipeline denial or an admin
// revocation action.
type Entry struct {
	ID        string
	Action    string // e.g. "pipeline.deny", "admin.revoke_jti", "admin.revoke_user"
	Subject   string // token subject / userId this entry concerns, if any
	Reason    string // validator/pipeline reason tag, if any
	Detail    json.RawMessage
	IPAddress *netip.Addr
	UserAgent *string
	CreatedAt time.Time
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database. It returns when the context is cancelled and all pending entries
// are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged.
func (w *Writer) Log(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "action", entry.Action, "subject", entry.Subject)
	}
}

// RecordDeny enqueues an audit entry for a pipeline DENY decision.
func (w *Writer) RecordDeny(subject, reason string, detail json.RawMessage) {
	w.Log(Entry{Action: "pipeline.deny", Subject: subject, Reason: reason, Detail: detail})
}

// RecordRevokeJti enqueues an audit entry for an admin JTI revocation.
func (w *Writer) RecordRevokeJti(r *http.Request, jti string) {
	w.logFromRequest(r, "admin.revoke_jti", jti, nil)
}

// RecordRevokeUser enqueues an audit entry for an admin user-level revocation.
func (w *Writer) RecordRevokeUser(r *http.Request, userID string) {
	w.logFromRequest(r, "admin.revoke_user", userID, nil)
}

func (w *Writer) logFromRequest(r *http.Request, action, subject string, detail json.RawMessage) {
	entry := Entry{Action: action, Subject: subject, Detail: detail}

	ip := clientIP(r)
	if ip.IsValid() {
		entry.IPAddress = &ip
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry.UserAgent = &ua
	}

	w.Log(entry)
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	for _, e := range entries {
		var ipStr *string
		if e.IPAddress != nil {
			s := e.IPAddress.String()
			ipStr = &s
		}
		_, err := conn.Exec(ctx, `
			INSERT INTO audit_log (id, action, subject, reason, detail, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.Action, e.Subject, e.Reason, e.Detail, ipStr, e.UserAgent, e.CreatedAt,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err, "action", e.Action, "subject", e.Subject)
		}
	}
}

// ListRecent returns up to limit audit entries ordered newest first, for
// the admin surface.
func (w *Writer) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT id, action, subject, reason, detail, ip_address, user_agent, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: listing recent entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRevocationsAfter lists admin revocation actions (revoke_jti,
// revoke_user), newest first, for the cursor-paginated admin surface. A zero
// afterCreatedAt starts from the most recent entry.
func (w *Writer) ListRevocationsAfter(ctx context.Context, afterCreatedAt time.Time, afterID string, limit int) ([]Entry, error) {
	var rows pgx.Rows
	var err error
	if afterCreatedAt.IsZero() {
		rows, err = w.pool.Query(ctx, `
			SELECT id, action, subject, reason, detail, ip_address, user_agent, created_at
			FROM audit_log
			WHERE action LIKE 'admin.revoke%'
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, limit)
	} else {
		rows, err = w.pool.Query(ctx, `
			SELECT id, action, subject, reason, detail, ip_address, user_agent, created_at
			FROM audit_log
			WHERE action LIKE 'admin.revoke%'
			  AND (created_at < $1 OR (created_at = $1 AND id < $2))
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, afterCreatedAt, afterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: listing revocations: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var ipStr *string
		if err := rows.Scan(&e.ID, &e.Action, &e.Subject, &e.Reason, &e.Detail, &ipStr, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scanning entry: %w", err)
		}
		if ipStr != nil {
			if addr, err := netip.ParseAddr(*ipStr); err == nil {
				e.IPAddress = &addr
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
