package attribution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrReportNotFound is returned when an attribution report is not found.
var ErrReportNotFound = errors.New("attribution report not found")

// ReportRepository defines methods for attribution report persistence.
// Create is idempotent per sale: a report for an already-recorded sale id
// is silently ignored, so replayed commerce data never duplicates rows.
type ReportRepository interface {
	Create(ctx context.Context, report *Report) error
	GetByID(ctx context.Context, id string) (*Report, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]*Report, error)
	ListSince(ctx context.Context, since time.Time) ([]*Report, error)
}

// InMemoryReportRepository implements ReportRepository with in-memory
// storage for tests and single-process deployments.
type InMemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[string]*Report
	bySale  map[string]string
}

// NewInMemoryReportRepository creates a new in-memory report repository.
func NewInMemoryReportRepository() *InMemoryReportRepository {
	return &InMemoryReportRepository{
		reports: make(map[string]*Report),
		bySale:  make(map[string]string),
	}
}

// Create adds a new report. A report for an already-recorded sale id is a
// no-op; the first decision stands.
func (r *InMemoryReportRepository) Create(_ context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySale[report.SaleID]; ok {
		return nil
	}

	// Deep copy to prevent external mutation
	copied := *report
	r.reports[report.ID] = &copied
	r.bySale[report.SaleID] = report.ID
	return nil
}

// GetByID retrieves a report by ID.
func (r *InMemoryReportRepository) GetByID(_ context.Context, id string) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}

	copied := *report
	return &copied, nil
}

// ListBySessionID retrieves all reports for a session.
func (r *InMemoryReportRepository) ListBySessionID(_ context.Context, sessionID string) ([]*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Report
	for _, report := range r.reports {
		if report.SessionID == sessionID {
			copied := *report
			out = append(out, &copied)
		}
	}
	return out, nil
}

// ListSince retrieves all reports created at or after the given time.
func (r *InMemoryReportRepository) ListSince(_ context.Context, since time.Time) ([]*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Report
	for _, report := range r.reports {
		if !report.CreatedAt.Before(since) {
			copied := *report
			out = append(out, &copied)
		}
	}
	return out, nil
}

// PostgresReportRepository implements ReportRepository using PostgreSQL.
type PostgresReportRepository struct {
	db *sql.DB
}

// NewPostgresReportRepository creates a new PostgresReportRepository.
func NewPostgresReportRepository(db *sql.DB) *PostgresReportRepository {
	return &PostgresReportRepository{db: db}
}

// Create stores an attribution report. The unique index on sale_id makes
// writes idempotent: a replayed sale leaves the original row in place.
func (r *PostgresReportRepository) Create(ctx context.Context, report *Report) error {
	query := `
		INSERT INTO attribution_reports (
			id, sale_id, session_id, attributed, revenue, model, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sale_id) DO NOTHING
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.SaleID,
		report.SessionID,
		report.Attributed,
		report.Revenue,
		report.Model,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create attribution report: %w", err)
	}
	return nil
}

// GetByID retrieves a report by ID.
func (r *PostgresReportRepository) GetByID(ctx context.Context, id string) (*Report, error) {
	query := `
		SELECT id, sale_id, session_id, attributed, revenue, model, created_at
		FROM attribution_reports
		WHERE id = $1
	`

	report := &Report{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&report.ID,
		&report.SaleID,
		&report.SessionID,
		&report.Attributed,
		&report.Revenue,
		&report.Model,
		&report.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribution report: %w", err)
	}
	return report, nil
}

// ListBySessionID retrieves all reports for a session, newest first.
func (r *PostgresReportRepository) ListBySessionID(ctx context.Context, sessionID string) ([]*Report, error) {
	query := `
		SELECT id, sale_id, session_id, attributed, revenue, model, created_at
		FROM attribution_reports
		WHERE session_id = $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, sessionID)
}

// ListSince retrieves all reports created at or after the given time.
func (r *PostgresReportRepository) ListSince(ctx context.Context, since time.Time) ([]*Report, error) {
	query := `
		SELECT id, sale_id, session_id, attributed, revenue, model, created_at
		FROM attribution_reports
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, since)
}

func (r *PostgresReportRepository) list(ctx context.Context, query string, arg any) ([]*Report, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribution reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		report := &Report{}
		err := rows.Scan(
			&report.ID,
			&report.SaleID,
			&report.SessionID,
			&report.Attributed,
			&report.Revenue,
			&report.Model,
			&report.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attribution report: %w", err)
		}
		reports = append(reports, report)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attribution reports: %w", err)
	}
	return reports, nil
}
