package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database limited to a single connection.
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database. Foreign keys, WAL and the busy timeout are set
// on every pooled connection through the DSN.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if s.cfg.Path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	dsn := s.cfg.Path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// inTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	return s.CommitTx(tx)
}

// nullable maps values SQLite cannot store as REAL to NULL.
func nullable(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// finite copies a map without non-finite values, which JSON cannot encode.
func finite(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

func expectRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Metadata == "" {
		run.Metadata = "{}"
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	query := `
		INSERT INTO runs (id, process, source, status, started_at, completed_at,
			units, recycles, passes, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Process,
		run.Source,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Units,
		run.Recycles,
		run.Passes,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, process, source, status, started_at, completed_at,
	units, recycles, passes, error, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Process,
		&run.Source,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Units,
		&run.Recycles,
		&run.Passes,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, passes int, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, passes = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, passes, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectRow(result, "run", id)
}

// ListRuns lists runs newest first, optionally for one process.
func (s *SQLiteStore) ListRuns(ctx context.Context, processName *string, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE (? IS NULL OR process = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, processName, processName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and, through cascading keys, its history.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectRow(result, "run", id)
}

// AppendUnitResult records one unit evaluation.
func (s *SQLiteStore) AppendUnitResult(ctx context.Context, r *UnitResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO unit_results (run_id, pass, unit, unit_type, elapsed_us, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		r.RunID, r.Pass, r.Unit, r.UnitType, r.Elapsed.Microseconds(), r.Error, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append unit result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get unit result ID: %w", err)
	}
	r.ID = id
	return nil
}

// ListUnitResults returns the unit evaluations of a run in order.
func (s *SQLiteStore) ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error) {
	query := `
		SELECT id, run_id, pass, unit, unit_type, elapsed_us, error, created_at
		FROM unit_results
		WHERE run_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit results: %w", err)
	}
	defer rows.Close()

	results := []*UnitResult{}
	for rows.Next() {
		r := &UnitResult{}
		var us int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Pass, &r.Unit, &r.UnitType, &us, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit result: %w", err)
		}
		r.Elapsed = time.Duration(us) * time.Microsecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit results: %w", err)
	}
	return results, nil
}

// RecyclePasses converts the statuses reported at the end of a pass.
func RecyclePasses(runID string, pass int, statuses []process.RecycleStatus) []RecyclePass {
	out := make([]RecyclePass, 0, len(statuses))
	for _, st := range statuses {
		rp := RecyclePass{
			RunID:         runID,
			Pass:          pass,
			Recycle:       st.Name,
			Iterations:    st.Iterations,
			Tolerance:     st.Tolerance,
			MaxIterations: st.MaxIterations,
			Converged:     st.Converged,
		}
		if r := st.Residual; !math.IsNaN(r) && !math.IsInf(r, 0) && r >= 0 {
			rp.Residual = &r
		}
		out = append(out, rp)
	}
	return out
}

// AppendRecyclePasses records recycle states in one transaction.
func (s *SQLiteStore) AppendRecyclePasses(ctx context.Context, passes []RecyclePass) error {
	if len(passes) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO recycle_passes (run_id, pass, recycle, iterations, residual, tolerance, max_iterations, converged)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare recycle insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range passes {
			if _, err := stmt.ExecContext(ctx, p.RunID, p.Pass, p.Recycle, p.Iterations,
				p.Residual, p.Tolerance, p.MaxIterations, p.Converged); err != nil {
				return fmt.Errorf("failed to append recycle pass: %w", err)
			}
		}
		return nil
	})
}

// ListRecyclePasses returns the recycle history of a run by pass.
func (s *SQLiteStore) ListRecyclePasses(ctx context.Context, runID string) ([]*RecyclePass, error) {
	query := `
		SELECT run_id, pass, recycle, iterations, residual, tolerance, max_iterations, converged
		FROM recycle_passes
		WHERE run_id = ?
		ORDER BY pass ASC, recycle ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recycle passes: %w", err)
	}
	defer rows.Close()

	passes := []*RecyclePass{}
	for rows.Next() {
		p := &RecyclePass{}
		if err := rows.Scan(&p.RunID, &p.Pass, &p.Recycle, &p.Iterations,
			&p.Residual, &p.Tolerance, &p.MaxIterations, &p.Converged); err != nil {
			return nil, fmt.Errorf("failed to scan recycle pass: %w", err)
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recycle passes: %w", err)
	}
	return passes, nil
}

// SaveStreamStates replaces the stored final stream state of a run.
func (s *SQLiteStore) SaveStreamStates(ctx context.Context, runID string, streams []process.StreamReport) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stream_states WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("failed to clear stream states: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stream_states (run_id, stream, producer, empty, temperature_k, pressure_bara,
				molar_flow, mass_flow, phases, composition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare stream insert: %w", err)
		}
		defer stmt.Close()

		for _, sr := range streams {
			phases := sr.Phases
			if phases == nil {
				phases = []string{}
			}
			phaseJSON, err := json.Marshal(phases)
			if err != nil {
				return fmt.Errorf("failed to encode phases of %s: %w", sr.Name, err)
			}
			compJSON, err := json.Marshal(finite(sr.Composition))
			if err != nil {
				return fmt.Errorf("failed to encode composition of %s: %w", sr.Name, err)
			}
			if _, err := stmt.ExecContext(ctx, runID, sr.Name, sr.Producer, sr.Empty,
				nullable(sr.TemperatureK), nullable(sr.PressureBara),
				nullable(sr.MolarFlow), nullable(sr.MassFlow),
				string(phaseJSON), string(compJSON)); err != nil {
				return fmt.Errorf("failed to save stream %s: %w", sr.Name, err)
			}
		}
		return nil
	})
}

// ListStreamStates returns the stored stream state of a run by name.
// Values stored as NULL come back as NaN.
func (s *SQLiteStore) ListStreamStates(ctx context.Context, runID string) ([]process.StreamReport, error) {
	query := `
		SELECT stream, producer, empty, temperature_k, pressure_bara, molar_flow, mass_flow, phases, composition
		FROM stream_states
		WHERE run_id = ?
		ORDER BY stream ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream states: %w", err)
	}
	defer rows.Close()

	out := []process.StreamReport{}
	for rows.Next() {
		var sr process.StreamReport
		var t, p, n, m sql.NullFloat64
		var phases, comp string
		if err := rows.Scan(&sr.Name, &sr.Producer, &sr.Empty, &t, &p, &n, &m, &phases, &comp); err != nil {
			return nil, fmt.Errorf("failed to scan stream state: %w", err)
		}
		sr.TemperatureK, sr.PressureBara, sr.MolarFlow, sr.MassFlow = orNaN(t), orNaN(p), orNaN(n), orNaN(m)
		if err := json.Unmarshal([]byte(phases), &sr.Phases); err != nil {
			return nil, fmt.Errorf("failed to decode phases of %s: %w", sr.Name, err)
		}
		if len(sr.Phases) == 0 {
			sr.Phases = nil
		}
		if err := json.Unmarshal([]byte(comp), &sr.Composition); err != nil {
			return nil, fmt.Errorf("failed to decode composition of %s: %w", sr.Name, err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stream states: %w", err)
	}
	return out, nil
}

// SavePVTResult stores a PVT result with one row per point and column.
// NaN values, the marker of failed points, are stored as NULL.
func (s *SQLiteStore) SavePVTResult(ctx context.Context, res *pvt.Result) error {
	if res == nil || res.ID == "" {
		return fmt.Errorf("PVT result has no ID")
	}
	summary, err := json.Marshal(finite(res.Summary))
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	points, err := json.Marshal(res.Points)
	if err != nil {
		return fmt.Errorf("failed to encode points: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pvt_experiments (id, name, kind, temperature_k, point_index, points, summary,
				failed_points, started_at, elapsed_us, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.ID, res.Name, res.Kind.String(), nullable(res.Temperature), res.Index,
			string(points), string(summary), res.Failed(), res.Started, res.Elapsed.Microseconds(), time.Now())
		if err != nil {
			return fmt.Errorf("failed to save PVT experiment: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pvt_points (experiment_id, idx, point, col, column_name, unit, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare point insert: %w", err)
		}
		defer stmt.Close()

		for c, col := range res.Columns {
			for i, v := range col.Values {
				var point interface{}
				if i < len(res.Points) {
					point = nullable(res.Points[i])
				}
				if _, err := stmt.ExecContext(ctx, res.ID, i, point, c, col.Name, col.Unit, nullable(v)); err != nil {
					return fmt.Errorf("failed to save PVT point: %w", err)
				}
			}
		}

		for _, pe := range res.Errors {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pvt_errors (experiment_id, idx, point, message) VALUES (?, ?, ?, ?)
			`, res.ID, pe.Index, nullable(pe.Point), pe.Message); err != nil {
				return fmt.Errorf("failed to save PVT error: %w", err)
			}
		}
		return nil
	})
}

const experimentColumns = `id, name, kind, temperature_k, point_index, summary, failed_points,
	started_at, elapsed_us, created_at`

func scanExperiment(row scanner) (*PVTExperiment, error) {
	e := &PVTExperiment{}
	var temp sql.NullFloat64
	var summary string
	var us int64
	if err := row.Scan(&e.ID, &e.Name, &e.Kind, &temp, &e.Index, &summary, &e.FailedPoints,
		&e.StartedAt, &us, &e.CreatedAt); err != nil {
		return nil, err
	}
	if temp.Valid {
		e.Temperature = &temp.Float64
	}
	e.Elapsed = time.Duration(us) * time.Microsecond
	if err := json.Unmarshal([]byte(summary), &e.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return e, nil
}

// GetPVTResult rebuilds a stored PVT result. Failed points read back as NaN.
func (s *SQLiteStore) GetPVTResult(ctx context.Context, id string) (*pvt.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+`, points FROM pvt_experiments WHERE id = ?`, id)

	var temp sql.NullFloat64
	var kind, summary, points string
	var us int64
	var failed int
	var created time.Time
	res := &pvt.Result{}
	err := row.Scan(&res.ID, &res.Name, &kind, &temp, &res.Index, &summary, &failed,
		&res.Started, &us, &created, &points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("PVT result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get PVT result: %w", err)
	}
	if res.Kind, err = pvt.ParseKind(kind); err != nil {
		return nil, err
	}
	res.Temperature = orNaN(temp)
	res.Elapsed = time.Duration(us) * time.Microsecond
	if err := json.Unmarshal([]byte(summary), &res.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	if err := json.Unmarshal([]byte(points), &res.Points); err != nil {
		return nil, fmt.Errorf("failed to decode points: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, col, column_name, unit, value
		FROM pvt_points
		WHERE experiment_id = ?
		ORDER BY col ASC, idx ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read PVT points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx, col int
		var name, unit string
		var v sql.NullFloat64
		if err := rows.Scan(&idx, &col, &name, &unit, &v); err != nil {
			return nil, fmt.Errorf("failed to scan PVT point: %w", err)
		}
		for len(res.Columns) <= col {
			res.Columns = append(res.Columns, pvt.Column{})
		}
		c := &res.Columns[col]
		c.Name, c.Unit = name, unit
		for len(c.Values) <= idx {
			c.Values = append(c.Values, math.NaN())
		}
		c.Values[idx] = orNaN(v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating PVT points: %w", err)
	}

	erows, err := s.db.QueryContext(ctx, `
		SELECT idx, point, message FROM pvt_errors WHERE experiment_id = ? ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read PVT errors: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var pe pvt.PointError
		var point sql.NullFloat64
		if err := erows.Scan(&pe.Index, &point, &pe.Message); err != nil {
			return nil, fmt.Errorf("failed to scan PVT error: %w", err)
		}
		pe.Point = orNaN(point)
		res.Errors = append(res.Errors, pe)
	}
	if err := erows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating PVT errors: %w", err)
	}
	return res, nil
}

// ListPVTExperiments lists stored experiments newest first, optionally of
// one kind.
func (s *SQLiteStore) ListPVTExperiments(ctx context.Context, kind *string, limit, offset int) ([]*PVTExperiment, error) {
	query := `SELECT ` + experimentColumns + `
		FROM pvt_experiments
		WHERE (? IS NULL OR kind = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list PVT experiments: %w", err)
	}
	defer rows.Close()

	out := []*PVTExperiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan PVT experiment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating PVT experiments: %w", err)
	}
	return out, nil
}

// SaveCheckpoint stores an encoded checkpoint.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, process, run_id, encoding, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.Process, cp.RunID, cp.Encoding, cp.Data, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint of a process.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, processName string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, process, run_id, encoding, data, created_at
		FROM checkpoints
		WHERE process = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, processName).Scan(&cp.ID, &cp.Process, &cp.RunID, &cp.Encoding, &cp.Data, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %s: %w", processName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, event.RunID, event.Level, event.Message, event.Details, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(&event.ID, &event.RunID, &event.Level, &event.Message, &event.Details, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
