// Package repositories bootstraps the local SQLite database used by the
// client: it opens the file with private permissions and applies the embedded
// goose migrations.
package repositories
