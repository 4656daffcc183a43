package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"bioscout/internal/domain"
	"bioscout/internal/store/sqlite/migrations"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ensure Store implements the interface.
var _ domain.DataStore = (*Store)(nil)

// Store is the SQLite-backed external data layer.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) bioscout.db in dataDir and applies migrations.
// If dataDir is empty, defaults to ~/.bioscout/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get home directory")
		}
		dataDir = filepath.Join(home, ".bioscout", "data")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dataDir))
	}

	dbPath := filepath.Join(dataDir, "bioscout.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", dbPath))
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// migrate runs every NNN_*.up.sql file newer than the recorded schema version.
func (s *Store) migrate(fsys embed.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return goerr.Wrap(err, "failed to create schema_migrations table")
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return goerr.Wrap(err, "failed to read schema version")
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return goerr.Wrap(err, "failed to read migrations")
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return goerr.Wrap(err, "failed to read migration", goerr.V("file", name))
		}
		tx, err := s.db.Begin()
		if err != nil {
			return goerr.Wrap(err, "failed to begin migration", goerr.V("file", name))
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "failed to execute migration", goerr.V("file", name))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, formatTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return goerr.Wrap(err, "failed to record migration", goerr.V("file", name))
		}
		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "failed to commit migration", goerr.V("file", name))
		}
	}
	return nil
}

// ==================== Species ====================

const speciesColumns = `id, scientific_name, common_names, type, description, habitat, is_endemic,
	seasonal_presence, conservation_status, dietary_habits, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpecies(row scanner) (*domain.SpeciesRecord, error) {
	var (
		sp                    domain.SpeciesRecord
		commonNames, seasonal string
		createdAt, updatedAt  string
	)
	if err := row.Scan(&sp.ID, &sp.ScientificName, &commonNames, &sp.Type, &sp.Description, &sp.Habitat,
		&sp.IsEndemic, &seasonal, &sp.ConservationStatus, &sp.DietaryHabits, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeList(commonNames, &sp.CommonNames); err != nil {
		return nil, err
	}
	if err := decodeList(seasonal, &sp.SeasonalPresence); err != nil {
		return nil, err
	}
	sp.CreatedAt = parseTime(createdAt)
	sp.UpdatedAt = parseTime(updatedAt)
	return &sp, nil
}

func (s *Store) PutSpecies(ctx context.Context, sp domain.SpeciesRecord) error {
	if sp.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "species id is required")
	}
	now := time.Now()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = now
	}
	if sp.UpdatedAt.IsZero() {
		sp.UpdatedAt = sp.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO species (`+speciesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scientific_name = excluded.scientific_name,
			common_names = excluded.common_names,
			type = excluded.type,
			description = excluded.description,
			habitat = excluded.habitat,
			is_endemic = excluded.is_endemic,
			seasonal_presence = excluded.seasonal_presence,
			conservation_status = excluded.conservation_status,
			dietary_habits = excluded.dietary_habits,
			updated_at = excluded.updated_at
	`, sp.ID, sp.ScientificName, encodeList(sp.CommonNames), sp.Type, sp.Description, sp.Habitat, sp.IsEndemic,
		encodeList(sp.SeasonalPresence), sp.ConservationStatus, sp.DietaryHabits,
		formatTime(sp.CreatedAt), formatTime(sp.UpdatedAt))
	if err != nil {
		return goerr.Wrap(err, "failed to save species", goerr.V("id", sp.ID))
	}
	return nil
}

// GetAllSpecies returns every species ordered by scientific name.
func (s *Store) GetAllSpecies(ctx context.Context) ([]domain.SpeciesRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+speciesColumns+` FROM species ORDER BY scientific_name, id`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query species")
	}
	defer rows.Close()

	var out []domain.SpeciesRecord
	for rows.Next() {
		sp, err := scanSpecies(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan species")
		}
		out = append(out, *sp)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate species")
	}
	return out, nil
}

func (s *Store) GetSpecies(ctx context.Context, id string) (*domain.SpeciesRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+speciesColumns+` FROM species WHERE id = ?`, id)
	sp, err := scanSpecies(row)
	if err != nil {
		return nil, lookupError(err, "species", id)
	}
	return sp, nil
}

// GetSpeciesByName matches the scientific name first, then common names, ignoring case.
func (s *Store) GetSpeciesByName(ctx context.Context, name string) (*domain.SpeciesRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+speciesColumns+` FROM species
		WHERE scientific_name = ? COLLATE NOCASE
		ORDER BY scientific_name, id LIMIT 1`, name)
	sp, err := scanSpecies(row)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(err, "failed to query species by name", goerr.V("name", name))
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("s.", speciesColumns)+` FROM species s, json_each(s.common_names) c
		WHERE c.value = ? COLLATE NOCASE
		ORDER BY s.scientific_name, s.id LIMIT 1`, name)
	sp, err = scanSpecies(row)
	if err != nil {
		return nil, lookupError(err, "species", name)
	}
	return sp, nil
}

// ==================== Observations ====================

const observationColumns = `id, user_id, species_name, common_names, location, latitude, longitude,
	observed_at, observer, notes, created_at, updated_at`

func scanObservation(row scanner) (*domain.ObservationRecord, error) {
	var (
		o                                domain.ObservationRecord
		commonNames                      string
		observedAt, createdAt, updatedAt string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.SpeciesName, &commonNames, &o.Location, &o.Latitude, &o.Longitude,
		&observedAt, &o.Observer, &o.Notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeList(commonNames, &o.CommonNames); err != nil {
		return nil, err
	}
	o.ObservedAt = parseTime(observedAt)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func (s *Store) PutObservation(ctx context.Context, o domain.ObservationRecord) error {
	if o.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "observation id is required")
	}
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (`+observationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			species_name = excluded.species_name,
			common_names = excluded.common_names,
			location = excluded.location,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			observed_at = excluded.observed_at,
			observer = excluded.observer,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, o.ID, o.UserID, o.SpeciesName, encodeList(o.CommonNames), o.Location, o.Latitude, o.Longitude,
		formatTime(o.ObservedAt), o.Observer, o.Notes, formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	if err != nil {
		return goerr.Wrap(err, "failed to save observation", goerr.V("id", o.ID))
	}
	return nil
}

func (s *Store) GetAllObservations(ctx context.Context, filter domain.ObservationFilter) ([]domain.ObservationRecord, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE 1 = 1`
	var args []any
	if filter.SpeciesName != "" {
		query += ` AND species_name = ?`
		args = append(args, filter.SpeciesName)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		query += ` AND observed_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query observations")
	}
	defer rows.Close()

	var out []domain.ObservationRecord
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan observation")
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate observations")
	}
	return out, nil
}

func (s *Store) GetObservation(ctx context.Context, id string) (*domain.ObservationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if err != nil {
		return nil, lookupError(err, "observation", id)
	}
	return o, nil
}

// ==================== Knowledge sources ====================

const knowledgeColumns = `id, title, content, source, species_references, created_at, updated_at`

func scanKnowledge(row scanner) (*domain.KnowledgeRecord, error) {
	var (
		k                    domain.KnowledgeRecord
		refs                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&k.ID, &k.Title, &k.Content, &k.Source, &refs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeList(refs, &k.SpeciesReferences); err != nil {
		return nil, err
	}
	k.CreatedAt = parseTime(createdAt)
	k.UpdatedAt = parseTime(updatedAt)
	return &k, nil
}

func (s *Store) PutKnowledgeSource(ctx context.Context, k domain.KnowledgeRecord) error {
	if k.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "knowledge source id is required")
	}
	now := time.Now()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = k.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_sources (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			source = excluded.source,
			species_references = excluded.species_references,
			updated_at = excluded.updated_at
	`, k.ID, k.Title, k.Content, k.Source, encodeList(k.SpeciesReferences), formatTime(k.CreatedAt), formatTime(k.UpdatedAt))
	if err != nil {
		return goerr.Wrap(err, "failed to save knowledge source", goerr.V("id", k.ID))
	}
	return nil
}

func (s *Store) GetKnowledgeSources(ctx context.Context) ([]domain.KnowledgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_sources ORDER BY id`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query knowledge sources")
	}
	defer rows.Close()

	var out []domain.KnowledgeRecord
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan knowledge source")
		}
		out = append(out, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate knowledge sources")
	}
	return out, nil
}

func (s *Store) GetKnowledgeSource(ctx context.Context, id string) (*domain.KnowledgeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_sources WHERE id = ?`, id)
	k, err := scanKnowledge(row)
	if err != nil {
		return nil, lookupError(err, "knowledge source", id)
	}
	return k, nil
}

// ==================== QA interactions ====================

// PersistQAInteraction inserts an interaction. Interactions are immutable, so a repeated id fails.
func (s *Store) PersistQAInteraction(ctx context.Context, qa domain.QAInteraction) error {
	if qa.ID == "" {
		return goerr.Wrap(domain.ErrInvalidInput, "interaction id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_interactions (id, question, answer, sources, related_species_ids, related_observation_ids, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, qa.ID, qa.Question, qa.Answer, encodeList(qa.Sources), encodeList(qa.RelatedSpeciesIDs),
		encodeList(qa.RelatedObservationIDs), qa.UserID, formatTime(qa.Timestamp))
	if err != nil {
		return goerr.Wrap(err, "failed to save interaction", goerr.V("id", qa.ID))
	}
	return nil
}

// ListQAInteractions returns the user's interactions, newest first.
func (s *Store) ListQAInteractions(ctx context.Context, userID string, limit int) ([]domain.QAInteraction, error) {
	query := `
		SELECT id, question, answer, sources, related_species_ids, related_observation_ids, user_id, created_at
		FROM qa_interactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query interactions")
	}
	defer rows.Close()

	var out []domain.QAInteraction
	for rows.Next() {
		var (
			qa                    domain.QAInteraction
			sources, species, obs string
			createdAt             string
		)
		if err := rows.Scan(&qa.ID, &qa.Question, &qa.Answer, &sources, &species, &obs, &qa.UserID, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan interaction")
		}
		if err := decodeList(sources, &qa.Sources); err != nil {
			return nil, err
		}
		if err := decodeList(species, &qa.RelatedSpeciesIDs); err != nil {
			return nil, err
		}
		if err := decodeList(obs, &qa.RelatedObservationIDs); err != nil {
			return nil, err
		}
		qa.Timestamp = parseTime(createdAt)
		out = append(out, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate interactions")
	}
	return out, nil
}

// ==================== helpers ====================

func lookupError(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return goerr.Wrap(domain.ErrNotFound, kind+" not found", goerr.V("id", id))
	}
	return goerr.Wrap(err, "failed to query "+kind, goerr.V("id", id))
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeList(raw string, out *[]string) error {
	if raw == "" || raw == "[]" {
		*out = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return goerr.Wrap(err, "failed to decode list column")
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
