// Package store is a registry of fitted annotation models backed by SQL.
// SQLite (modernc.org/sqlite, no cgo) is the default; PostgreSQL is
// available through lib/pq for shared registries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Entry is one registry row without the model payload.
type Entry struct {
	ID          string    `db:"id" json:"id"`
	Kind        string    `db:"kind" json:"kind"`
	LabelColumn string    `db:"label_column" json:"label_column"`
	NGenes      int       `db:"n_genes" json:"n_genes"`
	NClasses    int       `db:"n_classes" json:"n_classes"`
	NSamples    int       `db:"n_samples" json:"n_samples"`
	CreatedAt   time.Time `db:"-" json:"created_at"`

	Created string `db:"created_at" json:"-"`
}

// Store persists FittedModels.
type Store struct {
	db     *sqlx.DB
	driver string
	logger log.Logger
}

// Open connects to dsn. For sqlite the dsn is a file path or ":memory:".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres:
	default:
		return nil, errors.NewValidationError("store.driver", "must be sqlite or postgres", driver)
	}
	if dsn == "" {
		return nil, errors.NewValidationError("store.dsn", "must not be empty", dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s registry", driver)
	}
	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases alive and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver, logger: log.GetLoggerWithName("store")}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Migrate creates the registry table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}
	schema := `CREATE TABLE IF NOT EXISTS annotation_models (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		label_column TEXT NOT NULL,
		n_genes      INTEGER NOT NULL,
		n_classes    INTEGER NOT NULL,
		n_samples    INTEGER NOT NULL,
		created_at   TEXT NOT NULL,
		manifest     ` + blob + ` NOT NULL,
		payload      ` + blob + ` NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "create annotation_models")
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS annotation_models_created ON annotation_models (created_at)`); err != nil {
		return errors.Wrap(err, "create annotation_models index")
	}
	return nil
}

// Save inserts fm, replacing any model with the same ID.
func (s *Store) Save(ctx context.Context, fm *annotate.FittedModel) error {
	if fm == nil || fm.ID == "" {
		return errors.NewValidationError("model", "must be fitted and have an id", nil)
	}
	payload, err := fm.MarshalBinary()
	if err != nil {
		return err
	}
	manifest, err := json.Marshal(fm.Manifest())
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}

	query := s.db.Rebind(`INSERT INTO annotation_models
		(id, kind, label_column, n_genes, n_classes, n_samples, created_at, manifest, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind, label_column = excluded.label_column,
			n_genes = excluded.n_genes, n_classes = excluded.n_classes,
			n_samples = excluded.n_samples, created_at = excluded.created_at,
			manifest = excluded.manifest, payload = excluded.payload`)
	_, err = s.db.ExecContext(ctx, query,
		fm.ID, string(fm.Kind), fm.LabelColumn, len(fm.Genes), len(fm.Classes), fm.NSamples,
		fm.CreatedAt.UTC().Format(time.RFC3339Nano), manifest, payload)
	if err != nil {
		return errors.Wrapf(err, "save model %s", fm.ID)
	}
	s.logger.Info("model saved",
		log.OperationKey, log.OperationStore,
		log.ModelIDKey, fm.ID,
		log.ClassifierKindKey, string(fm.Kind),
	)
	return nil
}

// Load returns the model with id. A missing id wraps errors.ErrModelNotFound.
func (s *Store) Load(ctx context.Context, id string) (*annotate.FittedModel, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		s.db.Rebind(`SELECT payload FROM annotation_models WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrModelNotFound, "load %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load model %s", id)
	}
	fm := &annotate.FittedModel{}
	if err := fm.UnmarshalBinary(payload); err != nil {
		return nil, errors.Wrapf(err, "decode model %s", id)
	}
	return fm, nil
}

// Manifest returns the stored manifest of id.
func (s *Store) Manifest(ctx context.Context, id string) (*model.Manifest, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		s.db.Rebind(`SELECT manifest FROM annotation_models WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrModelNotFound, "manifest %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load manifest %s", id)
	}
	m := &model.Manifest{}
	if err := m.FromJSON(raw); err != nil {
		return nil, errors.Wrapf(err, "decode manifest %s", id)
	}
	return m, nil
}

// List returns all entries, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT id, kind, label_column, n_genes, n_classes, n_samples, created_at
		FROM annotation_models ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list models")
	}
	for i := range entries {
		t, err := time.Parse(time.RFC3339Nano, entries[i].Created)
		if err != nil {
			return nil, errors.Wrapf(err, "parse created_at of %s", entries[i].ID)
		}
		entries[i].CreatedAt = t
	}
	return entries, nil
}

// Delete removes id. Deleting a missing id wraps errors.ErrModelNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM annotation_models WHERE id = ?`), id)
	if err != nil {
		return errors.Wrapf(err, "delete model %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrModelNotFound, "delete %s", id)
	}
	s.logger.Info("model deleted", log.OperationKey, log.OperationStore, log.ModelIDKey, id)
	return nil
}
