package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema for driver. Every statement is
// idempotent so it is safe on every start.
func Migrate(ctx context.Context, conn *sql.DB, driver string) error {
	name := "schema/mysql.sql"
	if driver == DriverSQLite {
		name = "schema/sqlite.sql"
	}
	buf, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	stmts := splitStatements(string(buf))
	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	log.Printf("[INFO] schema applied (%s, %d statements)", driver, len(stmts))
	return nil
}

func splitStatements(src string) []string {
	var out []string
	for _, part := range strings.Split(src, ";") {
		var lines []string
		for _, ln := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(ln), "--") {
				continue
			}
			lines = append(lines, ln)
		}
		if s := strings.TrimSpace(strings.Join(lines, "\n")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
