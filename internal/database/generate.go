package database

// Code generation for the database package. Run from the module root:
//
//	go generate ./internal/database
//
// generate_schema.go applies the embedded migrations to a scratch database and
// dumps the result to sqlc/schema.sql; sqlc then regenerates the query code
// in sqlc/ from sqlc/queries/*.sql against that schema.

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
//go:generate sh -c "cd ../.. && sqlc generate -f internal/database/sqlc/sqlc.yaml"
