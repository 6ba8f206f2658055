// generate_schema applies every embedded migration to a scratch in-memory
// database and writes the resulting schema for sqlc and the test store.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cloudsync/internal/database"
	"cloudsync/internal/database/migrations"
)

// Tables and indexes in creation-independent order so regenerating an
// unchanged schema produces an identical file.
const schemaQuery = `
	SELECT type, sql
	FROM sqlite_master
	WHERE type IN ('table', 'index', 'trigger')
	  AND sql IS NOT NULL
	  AND name NOT LIKE 'sqlite_%'
	  AND tbl_name != 'schema_migrations'
	ORDER BY
	  CASE type WHEN 'table' THEN 1 WHEN 'index' THEN 2 ELSE 3 END,
	  name`

func main() {
	out := flag.String("out", filepath.Join("internal", "database", "sqlc", "schema.sql"), "schema output path")
	flag.Parse()
	log.SetFlags(0)

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		log.Fatalf("open scratch database: %v", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	st, err := migrations.ReadStatus(db)
	if err != nil {
		log.Fatalf("read schema version: %v", err)
	}

	schema, err := dumpSchema(db, st.Current)
	if err != nil {
		log.Fatalf("dump schema: %v", err)
	}
	if err := os.WriteFile(*out, []byte(schema), 0644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Generated %s (schema version %d)\n", *out, st.Current)
}

func dumpSchema(db *sql.DB, version uint) (string, error) {
	rows, err := db.Query(schemaQuery)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString("-- This file is auto-generated from migration files.\n")
	b.WriteString("-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.\n")
	b.WriteString("-- Source: internal/database/migrations/files/*.sql\n")
	fmt.Fprintf(&b, "-- Schema version: %d\n\n", version)

	for rows.Next() {
		var kind, stmt string
		if err := rows.Scan(&kind, &stmt); err != nil {
			return "", err
		}
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), rows.Err()
}
