package flags

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

const schema = `
CREATE TABLE IF NOT EXISTS flags (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	tier                   TEXT NOT NULL CHECK (tier IN ('upper', 'lower')),
	priority               INTEGER,
	state                  INTEGER NOT NULL,
	last_state_change_time TEXT,
	linked_lower_flags     TEXT NOT NULL,
	on_actions             TEXT NOT NULL,
	off_actions            TEXT NOT NULL
);
`

// SQLiteRepository persists one row per flag in a SQLite database.
// Rows are upserted and never deleted.
type SQLiteRepository struct {
	db *sql.DB
}

// actionRow is the JSON column shape of an action.
type actionRow struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// NewSQLiteRepository opens the database at path and runs migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// A single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Load reads all flag rows ordered by id.
func (r *SQLiteRepository) Load(ctx context.Context) ([]*flag.Flag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, tier, priority, state, last_state_change_time,
		       linked_lower_flags, on_actions, off_actions
		FROM flags
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []*flag.Flag

	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}

		result = append(result, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// Save upserts every flag in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, flags []*flag.Flag) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flags (id, name, tier, priority, state, last_state_change_time,
		                   linked_lower_flags, on_actions, off_actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			priority = excluded.priority,
			state = excluded.state,
			last_state_change_time = excluded.last_state_change_time,
			linked_lower_flags = excluded.linked_lower_flags,
			on_actions = excluded.on_actions,
			off_actions = excluded.off_actions`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	for _, f := range flags {
		args, err := flagArgs(f)
		if err != nil {
			return err
		}

		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert flag %q: %w", f.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// flagArgs converts a flag into upsert arguments.
func flagArgs(f *flag.Flag) ([]any, error) {
	var priority sql.NullInt64
	if f.Priority != nil {
		priority = sql.NullInt64{Int64: int64(*f.Priority), Valid: true}
	}

	var changedAt sql.NullString
	if !f.LastStateChange.IsZero() {
		changedAt = sql.NullString{String: FormatTime(f.LastStateChange), Valid: true}
	}

	linked := f.LinkedLowerFlags
	if linked == nil {
		linked = []string{}
	}

	linkedJSON, err := json.Marshal(linked)
	if err != nil {
		return nil, fmt.Errorf("marshal linked flags of %q: %w", f.ID, err)
	}

	onJSON, err := marshalActions(f.OnActions)
	if err != nil {
		return nil, fmt.Errorf("marshal on actions of %q: %w", f.ID, err)
	}

	offJSON, err := marshalActions(f.OffActions)
	if err != nil {
		return nil, fmt.Errorf("marshal off actions of %q: %w", f.ID, err)
	}

	return []any{
		f.ID, f.Name, string(f.Tier), priority, f.State, changedAt,
		string(linkedJSON), string(onJSON), string(offJSON),
	}, nil
}

// scanFlag reads one row into a flag.
func scanFlag(rows *sql.Rows) (*flag.Flag, error) {
	var (
		f          flag.Flag
		tier       string
		priority   sql.NullInt64
		changedAt  sql.NullString
		linkedJSON string
		onJSON     string
		offJSON    string
	)

	err := rows.Scan(&f.ID, &f.Name, &tier, &priority, &f.State, &changedAt, &linkedJSON, &onJSON, &offJSON)
	if err != nil {
		return nil, fmt.Errorf("scan flag: %w", err)
	}

	if f.Tier, err = flag.ParseTier(tier); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, f.ID, err)
	}

	if priority.Valid {
		f.Priority = flag.Priority(int(priority.Int64))
	}

	if changedAt.Valid {
		if f.LastStateChange, err = time.Parse(time.RFC3339Nano, changedAt.String); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrMalformedRecord, f.ID, err)
		}

		f.LastStateChange = f.LastStateChange.UTC()
	}

	if err = json.Unmarshal([]byte(linkedJSON), &f.LinkedLowerFlags); err != nil {
		return nil, fmt.Errorf("%w: %q: linked flags: %w", ErrMalformedRecord, f.ID, err)
	}

	if len(f.LinkedLowerFlags) == 0 {
		f.LinkedLowerFlags = nil
	}

	if f.OnActions, err = unmarshalActions(onJSON); err != nil {
		return nil, fmt.Errorf("%w: %q: on actions: %w", ErrMalformedRecord, f.ID, err)
	}

	if f.OffActions, err = unmarshalActions(offJSON); err != nil {
		return nil, fmt.Errorf("%w: %q: off actions: %w", ErrMalformedRecord, f.ID, err)
	}

	return &f, nil
}

func marshalActions(actions []flag.Action) ([]byte, error) {
	rows := make([]actionRow, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, actionRow{Type: a.Type, Params: a.Params})
	}

	return json.Marshal(rows)
}

func unmarshalActions(data string) ([]flag.Action, error) {
	var rows []actionRow
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	actions := make([]flag.Action, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, flag.Action{Type: row.Type, Params: row.Params})
	}

	return actions, nil
}
