// Package source reads raw location rows from a location-history cache.
//
// The primary input is the SQLite cache written by the OS location daemon
// (table ZRTCLLOCATIONMO by default). Spreadsheet and CSV exports of that
// table are accepted too, since analysts often receive the data that way.
//
// # Guarantees
//
//   - SQLite files are opened read-only and immutable: no journal, WAL, or
//     shared-memory file is ever created next to the evidence.
//   - The schema is checked in Open, before any row is read. A missing table
//     or required column is a SchemaMismatch.
//   - A Source is a single-pass cursor in the table's native row order. It
//     releases its file handle when exhausted, on the first error, and on
//     Close, whichever comes first. Close is idempotent.
package source
