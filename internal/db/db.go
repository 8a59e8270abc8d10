package db

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// NewDB wraps sqldb with the postgres dialect. debug logs every query.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pgdriver connection pool. sslmode=disable is appended
// when the DSN carries no sslmode.
func ConnectDB(dsn, password string) *sql.DB {
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if password != "" {
		opts = append(opts, pgdriver.WithPassword(password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

var tables = []any{
	(*Project)(nil),
	(*File)(nil),
	(*Report)(nil),
	(*ReportSection)(nil),
}

// InitDB creates every table that does not exist yet.
func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := createTableQuery(db, model).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func createTableQuery(db *bun.DB, model any) *bun.CreateTableQuery {
	q := db.NewCreateTable().Model(model).IfNotExists()
	switch model.(type) {
	case *File:
		q = q.ForeignKey(`("project_id") REFERENCES "projects" ("id") ON DELETE CASCADE`)
	case *Report:
		q = q.ForeignKey(`("project_id") REFERENCES "projects" ("id") ON DELETE CASCADE`)
	case *ReportSection:
		q = q.ForeignKey(`("report_id") REFERENCES "reports" ("id") ON DELETE CASCADE`)
	}
	return q
}

// DropTables removes all tables, children first.
func DropTables(ctx context.Context, db *bun.DB) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tables[i]).IfExists().Cascade().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
