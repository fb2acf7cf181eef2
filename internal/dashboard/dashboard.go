// Package dashboard implements the read-only HTTP dashboard of spec §6: `/`
// (non-skipped items ordered by updated_at desc) and `/{website}/{guid}`
// (single item detail).
//
// Grounded on the teacher's internal/api/server.go: a *mux.Router held on a
// typed Server struct, routes wired in a setupRoutes method, constructed
// once at boot and handed to http.Server (§9 "Application context, not
// global singletons"). This dashboard carries none of the teacher's mutating
// routes (scan trigger, restart, registration) since spec.md specifies it as
// read-only.
package dashboard

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/model"
	"github.com/ptrepost/ptrepost/internal/store"
)

// Server is the read-only dashboard's HTTP server.
type Server struct {
	router *mux.Router
	store  *store.Store
	log    zerolog.Logger
}

// NewServer builds a Server and wires its routes.
func NewServer(st *store.Store, log zerolog.Logger) *Server {
	s := &Server{router: mux.NewRouter(), store: st, log: log}
	s.setupRoutes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/{website}/{guid}", s.handleItem).Methods(http.MethodGet)
}

type summaryRow struct {
	ID         int64        `json:"id"`
	GUID       string       `json:"guid"`
	Website    string       `json:"website"`
	Title      string       `json:"title"`
	Link       string       `json:"link"`
	ReleasedAt time.Time    `json:"released_at"`
	SizeBytes  int64        `json:"size_bytes"`
	Status     model.Status `json:"status"`
	Progress   float64      `json:"progress"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.QueryContext(r.Context(), `
		SELECT id, guid, website, title, link, released_at, size_bytes, status, progress, updated_at
		FROM rss_item
		WHERE status != $1
		ORDER BY updated_at DESC`, model.StatusSkipped)
	if err != nil {
		s.log.Error().Err(err).Msg("dashboard index query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	out := make([]summaryRow, 0)
	for rows.Next() {
		var row summaryRow
		if err := rows.Scan(&row.ID, &row.GUID, &row.Website, &row.Title, &row.Link,
			&row.ReleasedAt, &row.SizeBytes, &row.Status, &row.Progress, &row.UpdatedAt); err != nil {
			s.log.Error().Err(err).Msg("dashboard index scan failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		s.log.Error().Err(err).Msg("dashboard index iteration failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	row := s.store.QueryRowContext(r.Context(), `
		SELECT id, guid, website, title, link, released_at, size_bytes, imdb_id, douban_id,
		       source_info_hash, target_info_hash, picked_node, status, progress, failure_reason,
		       hardcode_subtitle, created_at, updated_at
		FROM rss_item WHERE website = $1 AND guid = $2`, vars["website"], vars["guid"])

	var item model.Item
	err := row.Scan(
		&item.ID, &item.GUID, &item.Website, &item.Title, &item.Link, &item.ReleasedAt,
		&item.SizeBytes, &item.IMDbID, &item.DoubanID, &item.SourceInfoHash, &item.TargetInfoHash,
		&item.PickedNode, &item.Status, &item.Progress, &item.FailureReason,
		&item.HardcodeSubtitle, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("dashboard item query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}
