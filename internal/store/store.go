// Package store persists features, artifact versions, validation reports,
// and phase statuses in SQLite. Every mutation runs inside a transaction,
// so concurrent readers see either the previous state or the new one in
// full. Feature numbers are allocated under the same transaction as the
// feature insert, which is what makes them gap-free and never reused.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sddkit/specdriver/internal/workflow"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default store location.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".specdriver")}
}

// Store is the SQLite-backed artifact store. It implements
// workflow.Store.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New opens (or creates) the database under cfg.DataDir, applies the
// runtime pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "specdriver.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite runtime pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS features (
			number     INTEGER PRIMARY KEY,
			slug       TEXT    NOT NULL,
			tier       TEXT    NOT NULL,
			request    TEXT    NOT NULL,
			status     TEXT    NOT NULL DEFAULT 'active',
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_features_slug   ON features(slug, status);
		CREATE INDEX IF NOT EXISTS idx_features_status ON features(status);

		CREATE TABLE IF NOT EXISTS phase_status (
			feature    INTEGER NOT NULL,
			phase      TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			iteration  INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT    NOT NULL,
			PRIMARY KEY (feature, phase),
			FOREIGN KEY (feature) REFERENCES features(number)
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			feature    INTEGER NOT NULL,
			phase      TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			content    TEXT    NOT NULL,
			iteration  INTEGER NOT NULL DEFAULT 0,
			created_at TEXT    NOT NULL,
			UNIQUE (feature, phase, version),
			FOREIGN KEY (feature) REFERENCES features(number)
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_lookup ON artifacts(feature, phase, version DESC);

		CREATE TABLE IF NOT EXISTS validation_reports (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			feature    INTEGER NOT NULL,
			phase      TEXT    NOT NULL,
			iteration  INTEGER NOT NULL,
			passed     INTEGER NOT NULL,
			violations TEXT    NOT NULL DEFAULT '[]',
			created_at TEXT    NOT NULL,
			FOREIGN KEY (feature) REFERENCES features(number)
		);

		CREATE INDEX IF NOT EXISTS idx_reports_lookup ON validation_reports(feature, phase, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) now() string {
	return timeNow().UTC().Format(time.RFC3339)
}

// --- Features ---

// NextFeatureNumber returns the number the next feature would receive.
// Informational only: the authoritative allocation happens inside
// CreateFeature's transaction.
func (s *Store) NextFeatureNumber() (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(number) FROM features`).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: next feature number: %w", err)
	}
	return max.Int64 + 1, nil
}

// CreateFeature allocates the next number and inserts the feature with
// every phase pending, all in one transaction. Returns
// workflow.ErrDuplicateSlug when an active feature holds the slug.
func (s *Store) CreateFeature(slug string, tier workflow.Tier, request string) (*workflow.Feature, error) {
	if err := workflow.ValidateTier(tier); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM features WHERE slug = ? AND status = ?`,
		slug, string(workflow.FeatureActive),
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("store: duplicate slug check: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("store: slug %q: %w", slug, workflow.ErrDuplicateSlug)
	}

	var max sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(number) FROM features`).Scan(&max); err != nil {
		return nil, fmt.Errorf("store: allocating number: %w", err)
	}
	number := max.Int64 + 1
	now := s.now()

	if _, err := tx.Exec(
		`INSERT INTO features (number, slug, tier, request, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		number, slug, string(tier), request, string(workflow.FeatureActive), now, now,
	); err != nil {
		return nil, fmt.Errorf("store: inserting feature: %w", err)
	}

	for _, phase := range workflow.PhaseOrder {
		if _, err := tx.Exec(
			`INSERT INTO phase_status (feature, phase, status, iteration, updated_at)
			 VALUES (?, ?, ?, 0, ?)`,
			number, string(phase), string(workflow.StatusPending), now,
		); err != nil {
			return nil, fmt.Errorf("store: inserting phase status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	return s.GetFeature(number)
}

// GetFeature loads a feature with its phase statuses.
func (s *Store) GetFeature(number int64) (*workflow.Feature, error) {
	row := s.db.QueryRow(
		`SELECT number, slug, tier, request, status, created_at, updated_at
		 FROM features WHERE number = ?`, number,
	)

	var f workflow.Feature
	var tier, status string
	if err := row.Scan(&f.Number, &f.Slug, &tier, &f.Request, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: feature %d: %w", number, workflow.ErrNotFound)
		}
		return nil, fmt.Errorf("store: loading feature %d: %w", number, err)
	}
	f.Tier = workflow.Tier(tier)
	f.Status = workflow.FeatureStatus(status)

	phases, err := s.phaseStatuses(number)
	if err != nil {
		return nil, err
	}
	f.Phases = phases
	return &f, nil
}

func (s *Store) phaseStatuses(number int64) (map[workflow.Phase]workflow.PhaseStatus, error) {
	rows, err := s.db.Query(
		`SELECT phase, status FROM phase_status WHERE feature = ?`, number,
	)
	if err != nil {
		return nil, fmt.Errorf("store: loading phase statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[workflow.Phase]workflow.PhaseStatus, len(workflow.PhaseOrder))
	for rows.Next() {
		var phase, status string
		if err := rows.Scan(&phase, &status); err != nil {
			return nil, fmt.Errorf("store: scanning phase status: %w", err)
		}
		statuses[workflow.Phase(phase)] = workflow.PhaseStatus(status)
	}
	return statuses, rows.Err()
}

// ListFeatures returns every feature ordered by number ascending.
func (s *Store) ListFeatures() ([]*workflow.Feature, error) {
	rows, err := s.db.Query(
		`SELECT number FROM features ORDER BY number ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing features: %w", err)
	}
	defer rows.Close()

	var numbers []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("store: scanning feature number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	features := make([]*workflow.Feature, 0, len(numbers))
	for _, n := range numbers {
		f, err := s.GetFeature(n)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

// SetFeatureStatus updates the overall lifecycle status.
func (s *Store) SetFeatureStatus(number int64, status workflow.FeatureStatus) error {
	res, err := s.db.Exec(
		`UPDATE features SET status = ?, updated_at = ? WHERE number = ?`,
		string(status), s.now(), number,
	)
	if err != nil {
		return fmt.Errorf("store: setting feature status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: feature %d: %w", number, workflow.ErrNotFound)
	}
	return nil
}

// ArchiveFeature marks a feature archived, freeing its slug for reuse by
// a new feature. The number is never reused.
func (s *Store) ArchiveFeature(number int64) error {
	return s.SetFeatureStatus(number, workflow.FeatureArchived)
}

// --- Phase statuses ---

// SetPhaseStatus updates one phase's status and last iteration.
func (s *Store) SetPhaseStatus(number int64, phase workflow.Phase, status workflow.PhaseStatus, iteration int) error {
	res, err := s.db.Exec(
		`UPDATE phase_status SET status = ?, iteration = ?, updated_at = ?
		 WHERE feature = ? AND phase = ?`,
		string(status), iteration, s.now(), number, string(phase),
	)
	if err != nil {
		return fmt.Errorf("store: setting %s status: %w", phase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: feature %d phase %s: %w", number, phase, workflow.ErrNotFound)
	}
	return nil
}

// ResetPhases returns every phase to pending. Artifacts and reports are
// untouched; a restarted run appends new versions on top.
func (s *Store) ResetPhases(number int64) error {
	res, err := s.db.Exec(
		`UPDATE phase_status SET status = ?, iteration = 0, updated_at = ?
		 WHERE feature = ?`,
		string(workflow.StatusPending), s.now(), number,
	)
	if err != nil {
		return fmt.Errorf("store: resetting phases: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: feature %d: %w", number, workflow.ErrNotFound)
	}
	return nil
}

// --- Artifacts ---

// PutArtifact stores content as a new version for the phase. The version
// is MAX(version)+1 computed inside the same transaction as the insert,
// so concurrent writers can't collide.
func (s *Store) PutArtifact(number int64, phase workflow.Phase, content string, iteration int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var max sql.NullInt64
	err = tx.QueryRow(
		`SELECT MAX(version) FROM artifacts WHERE feature = ? AND phase = ?`,
		number, string(phase),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: next artifact version: %w", err)
	}
	version := int(max.Int64) + 1

	if _, err := tx.Exec(
		`INSERT INTO artifacts (feature, phase, version, content, iteration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		number, string(phase), version, content, iteration, s.now(),
	); err != nil {
		return 0, fmt.Errorf("store: inserting artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return version, nil
}

// GetLatest returns the highest version for the phase, or
// workflow.ErrNotFound when no version exists.
func (s *Store) GetLatest(number int64, phase workflow.Phase) (*workflow.Artifact, error) {
	row := s.db.QueryRow(
		`SELECT phase, version, content, iteration, created_at
		 FROM artifacts WHERE feature = ? AND phase = ?
		 ORDER BY version DESC LIMIT 1`,
		number, string(phase),
	)

	var a workflow.Artifact
	var phaseStr string
	if err := row.Scan(&phaseStr, &a.Version, &a.Content, &a.Iteration, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: feature %d has no %s artifact: %w", number, phase, workflow.ErrNotFound)
		}
		return nil, fmt.Errorf("store: loading %s artifact: %w", phase, err)
	}
	a.Phase = workflow.Phase(phaseStr)
	return &a, nil
}

// GetHistory returns every version for the phase, oldest first.
func (s *Store) GetHistory(number int64, phase workflow.Phase) ([]workflow.Artifact, error) {
	rows, err := s.db.Query(
		`SELECT phase, version, content, iteration, created_at
		 FROM artifacts WHERE feature = ? AND phase = ?
		 ORDER BY version ASC`,
		number, string(phase),
	)
	if err != nil {
		return nil, fmt.Errorf("store: loading %s history: %w", phase, err)
	}
	defer rows.Close()

	var history []workflow.Artifact
	for rows.Next() {
		var a workflow.Artifact
		var phaseStr string
		if err := rows.Scan(&phaseStr, &a.Version, &a.Content, &a.Iteration, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning artifact: %w", err)
		}
		a.Phase = workflow.Phase(phaseStr)
		history = append(history, a)
	}
	return history, rows.Err()
}

// --- Validation reports ---

// AppendReport stores a gate verdict. Reports are append-only: passing a
// phase later never rewrites the record of earlier failures.
func (s *Store) AppendReport(number int64, report workflow.ValidationReport) error {
	violations, err := json.Marshal(report.Violations)
	if err != nil {
		return fmt.Errorf("store: encoding violations: %w", err)
	}
	if report.Violations == nil {
		violations = []byte("[]")
	}

	passed := 0
	if report.Passed {
		passed = 1
	}

	if _, err := s.db.Exec(
		`INSERT INTO validation_reports (feature, phase, iteration, passed, violations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		number, string(report.Phase), report.Iteration, passed, string(violations), s.now(),
	); err != nil {
		return fmt.Errorf("store: inserting report: %w", err)
	}
	return nil
}

// ReportHistory returns every report for the phase in insertion order.
func (s *Store) ReportHistory(number int64, phase workflow.Phase) ([]workflow.ValidationReport, error) {
	rows, err := s.db.Query(
		`SELECT phase, iteration, passed, violations
		 FROM validation_reports WHERE feature = ? AND phase = ?
		 ORDER BY id ASC`,
		number, string(phase),
	)
	if err != nil {
		return nil, fmt.Errorf("store: loading %s reports: %w", phase, err)
	}
	defer rows.Close()

	var reports []workflow.ValidationReport
	for rows.Next() {
		var r workflow.ValidationReport
		var phaseStr, violations string
		var passed int
		if err := rows.Scan(&phaseStr, &r.Iteration, &passed, &violations); err != nil {
			return nil, fmt.Errorf("store: scanning report: %w", err)
		}
		r.Phase = workflow.Phase(phaseStr)
		r.Passed = passed == 1
		if err := json.Unmarshal([]byte(violations), &r.Violations); err != nil {
			return nil, fmt.Errorf("store: decoding violations: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
