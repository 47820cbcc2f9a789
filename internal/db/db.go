// Package db implements the durable aggregation store for the step engine:
// day-bounded, source-tagged step records with duplicate and overlap
// protection, range queries, reactive watches, and the persisted reconcile
// baseline. All writes are serialized through a single-writer discipline so
// lifecycle races (a restarting foreground service racing a terminated-state
// sync) cannot produce duplicate rows.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/stride-data/steps.report/internal/security"
)

type DB struct {
	*sql.DB

	path string
}

// NewDB opens (creating if necessary) the step database at path and applies
// the connection pragmas the store relies on. Schema management is a separate
// step; see MigrateUp.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked while the single writer holds a tx; the
	// busy timeout covers checkpoint stalls on slow flash storage.
	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// AttachAdminRoutes mounts the live SQL debugger and a backup endpoint on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Steps DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Backup names derive from the database filename, sanitized so an
		// unusual db path cannot produce a hostile attachment name.
		base := security.SanitizeFilename(strings.TrimSuffix(filepath.Base(db.path), ".db"))
		backupPath := fmt.Sprintf("%s-backup-%d.db", base, time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
