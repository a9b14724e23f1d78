// Package database stores search areas, surveys, the rooms they found, and
// the resume log of interrupted crawls.
//
// Two drivers share one schema: SQLite (modernc.org/sqlite, a single file
// under the XDG data directory, the default) and PostgreSQL through the
// pgx database/sql driver. Queries are written with "?" placeholders and
// rebound for PostgreSQL.
//
// SQLite is opened with a single connection and WAL journaling. Concurrent
// box searches funnel their writes through that connection, so no write
// ever sees SQLITE_BUSY.
package database
