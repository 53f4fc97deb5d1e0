package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lushonline/moodle-mod-externalcontent/internal/sqliteutil"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsRouter serves health and metrics on the operations listener. When db is
// a *sql.DB the health body also carries the SQLite journal mode.
func OpsRouter(db Pinger, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database: %v", err)
			return
		}
		body := map[string]any{"ok": true}
		if sqlDB, ok := db.(*sql.DB); ok {
			mode, err := sqliteutil.JournalMode(ctx, sqlDB)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "database: %v", err)
				return
			}
			body["journal_mode"] = mode
		}
		writeJSON(w, http.StatusOK, body)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}
