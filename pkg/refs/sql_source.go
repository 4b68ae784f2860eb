package refs

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// Column identifies a table column holding blob names.
type Column struct {
	Table  string
	Column string
}

// DefaultColumns are the media tables of the content database.
var DefaultColumns = []Column{
	{Table: "images", Column: "blob_name"},
	{Table: "audios", Column: "blob_name"},
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLSource reads referenced blob names from media tables of a SQL database.
type SQLSource struct {
	db      *sql.DB
	queries []string
}

var _ Source = (*SQLSource)(nil)

// NewSQLSource reads cols from db; no columns means DefaultColumns.
func NewSQLSource(db *sql.DB, cols ...Column) (*SQLSource, error) {
	if db == nil {
		return nil, xerrors.E(xerrors.KindConfiguration, "refs.NewSQLSource", "db")
	}
	if len(cols) == 0 {
		cols = DefaultColumns
	}
	queries := make([]string, 0, len(cols))
	for _, c := range cols {
		if !identRe.MatchString(c.Table) || !identRe.MatchString(c.Column) {
			return nil, xerrors.Wrap(xerrors.KindConfiguration, "refs.NewSQLSource", c.Table+"."+c.Column,
				fmt.Errorf("invalid identifier"))
		}
		queries = append(queries, fmt.Sprintf("SELECT %s FROM %s", c.Column, c.Table))
	}
	return &SQLSource{db: db, queries: queries}, nil
}

// OpenSQLSource opens a database with driver ("sqlite" or "pgx") and dsn.
// The caller owns the returned *sql.DB and must close it.
func OpenSQLSource(ctx context.Context, driver, dsn string, cols ...Column) (*SQLSource, *sql.DB, error) {
	switch driver {
	case "sqlite", "pgx":
	default:
		return nil, nil, xerrors.Wrap(xerrors.KindConfiguration, "refs.OpenSQLSource", driver, fmt.Errorf("unsupported driver"))
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.KindConfiguration, "refs.OpenSQLSource", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, xerrors.Wrap(xerrors.KindStorageIO, "refs.OpenSQLSource", driver, err)
	}
	src, err := NewSQLSource(db, cols...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return src, db, nil
}

// ListReferencedBlobNames unions the non-empty values of every configured
// column.
func (s *SQLSource) ListReferencedBlobNames(ctx context.Context) (Set, error) {
	set := make(Set)
	for _, q := range s.queries {
		if err := s.collect(ctx, q, set); err != nil {
			return nil, xerrors.Wrap(xerrors.KindStorageIO, "refs.SQLSource", q, err)
		}
	}
	return set, nil
}

func (s *SQLSource) collect(ctx context.Context, query string, set Set) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name.Valid {
			set.Add(name.String)
		}
	}
	return rows.Err()
}
