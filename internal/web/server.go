// Package web serves a collection over HTTP: the JSON sync protocol for
// other clients, plus study and source routes for a front end.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/ingest"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
)

// maxBodyBytes bounds request bodies; a full upload is the largest.
const maxBodyBytes = 256 << 20

// Server holds the dependencies for the HTTP server.
type Server struct {
	col      *collection.Collection
	endpoint *sync.Endpoint
	ingest   *ingest.Ingester
	router   *http.ServeMux
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithIngester enables the source management routes.
func WithIngester(in *ingest.Ingester) Option {
	return func(s *Server) { s.ingest = in }
}

// NewServer creates and configures a new server over col.
func NewServer(col *collection.Collection, opts ...Option) (*Server, error) {
	s := &Server{col: col, router: http.NewServeMux(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	endpoint, err := col.Endpoint(sync.WithEndpointLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.endpoint = endpoint
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	// Sync protocol
	s.router.HandleFunc("POST /sync/meta", s.handleSyncMeta())
	s.router.HandleFunc("POST /sync/start", s.handleSyncStart())
	s.router.HandleFunc("POST /sync/pull", s.handleSyncPull())
	s.router.HandleFunc("POST /sync/push", s.handleSyncPush())
	s.router.HandleFunc("POST /sync/finish", s.handleSyncFinish())
	s.router.HandleFunc("POST /sync/abort", s.handleSyncAbort())
	s.router.HandleFunc("POST /sync/download", s.handleSyncDownload())
	s.router.HandleFunc("POST /sync/upload", s.handleSyncUpload())

	// Study
	s.router.HandleFunc("GET /deck", s.handleGetDeck())
	s.router.HandleFunc("GET /review/next", s.handleGetNextReview())
	s.router.HandleFunc("POST /review/{id}", s.handlePostReview())

	// Source management
	if s.ingest != nil {
		s.router.HandleFunc("GET /sources", s.handleGetSources())
		s.router.HandleFunc("POST /sources", s.handlePostSource())
		s.router.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource())
		s.router.HandleFunc("POST /ingest", s.handlePostIngest())
	}
}

func (s *Server) handleSyncMeta() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := s.endpoint.Meta(r.Context())
		s.reply(w, m, err)
	}
}

func (s *Server) handleSyncStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sync.StartRequest
		if !s.decode(w, r, &req) {
			return
		}
		resp, err := s.endpoint.Start(r.Context(), req)
		s.reply(w, resp, err)
	}
}

func (s *Server) handleSyncPull() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sync.PullRequest
		if !s.decode(w, r, &req) {
			return
		}
		batch, err := s.endpoint.Pull(r.Context(), req)
		s.reply(w, batch, err)
	}
}

func (s *Server) handleSyncPush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sync.PushRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.reply(w, struct{}{}, s.endpoint.Push(r.Context(), req))
	}
}

func (s *Server) handleSyncFinish() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sync.FinishRequest
		if !s.decode(w, r, &req) {
			return
		}
		resp, err := s.endpoint.Finish(r.Context(), req)
		s.reply(w, resp, err)
	}
}

type abortRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleSyncAbort() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req abortRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.reply(w, struct{}{}, s.endpoint.Abort(r.Context(), req.Session))
	}
}

func (s *Server) handleSyncDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.endpoint.Download(r.Context())
		s.reply(w, snap, err)
	}
}

type uploadResponse struct {
	USN int64 `json:"usn"`
}

func (s *Server) handleSyncUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var snap storage.Snapshot
		if !s.decode(w, r, &snap) {
			return
		}
		usn, err := s.endpoint.Upload(r.Context(), snap)
		s.reply(w, uploadResponse{USN: usn}, err)
	}
}

type deckResponse struct {
	Counts      sched.Counts `json:"counts"`
	DueCount    int          `json:"due_count"`
	HasDueCards bool         `json:"has_due_cards"`
}

// handleGetDeck reports how many cards are left today.
func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := s.col.Scheduler()
		if err != nil {
			s.fail(w, err)
			return
		}
		counts, err := sc.Counts(r.Context())
		s.reply(w, deckResponse{Counts: counts, DueCount: counts.Total(), HasDueCards: counts.Total() > 0}, err)
	}
}

type answerOption struct {
	Grade    string `json:"grade"`
	Interval int    `json:"interval"`
	Delay    string `json:"delay"`
}

type reviewResponse struct {
	Card    domain.Card    `json:"card"`
	Fields  []string       `json:"fields"`
	Tags    []string       `json:"tags"`
	Options []answerOption `json:"options"`
}

// handleGetNextReview returns the next card of the queue with its note and
// what each grade would do. It responds 204 when nothing is left today.
func (s *Server) handleGetNextReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sc, err := s.col.Scheduler()
		if err != nil {
			s.fail(w, err)
			return
		}
		q, err := sc.Queue(ctx)
		if err != nil {
			s.fail(w, err)
			return
		}
		id, ok := q.Next()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		card, err := sc.Card(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		var note domain.Note
		err = s.col.View(ctx, func(tx *storage.Tx) error {
			var err error
			note, err = tx.GetNote(ctx, card.NoteID)
			return err
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		preview, err := sc.Preview(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}

		resp := reviewResponse{Card: card, Fields: note.Fields, Tags: note.Tags}
		if card.Ord == 1 && len(note.Fields) > 1 {
			// Reverse cards ask for the first field.
			resp.Fields = append([]string{note.Fields[1], note.Fields[0]}, note.Fields[2:]...)
		}
		for _, p := range preview {
			resp.Options = append(resp.Options, answerOption{
				Grade:    p.Grade.String(),
				Interval: p.Card.Interval,
				Delay:    p.Delay.String(),
			})
		}
		s.reply(w, resp, nil)
	}
}

type answerRequest struct {
	Grade string `json:"grade"`
}

// handlePostReview records an answer for a card.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.fail(w, errBadRequest("invalid card ID"))
			return
		}
		var req answerRequest
		if !s.decode(w, r, &req) {
			return
		}
		grade, err := domain.ParseGrade(req.Grade)
		if err != nil {
			s.fail(w, errBadRequest(err.Error()))
			return
		}
		sc, err := s.col.Scheduler()
		if err != nil {
			s.fail(w, err)
			return
		}
		card, err := sc.Answer(r.Context(), domain.CardID(id), grade)
		s.reply(w, card, err)
	}
}

type sourceView struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	LastScanned string `json:"last_scanned,omitempty"`
}

func viewSource(src storage.Source) sourceView {
	v := sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
	if !src.LastScanned.IsZero() {
		v.LastScanned = src.LastScanned.UTC().Format("2006-01-02T15:04:05Z")
	}
	return v
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ingest.Sources(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, viewSource(src))
	}
	s.reply(w, views, nil)
}

// handleGetSources lists the note sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return s.listSources
}

type sourceRequest struct {
	Path string `json:"path"`
}

// handlePostSource adds a new source and returns the source list.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sourceRequest
		if !s.decode(w, r, &req) {
			return
		}
		if req.Path == "" {
			s.fail(w, errBadRequest("path cannot be empty"))
			return
		}
		if _, err := s.ingest.AddSource(r.Context(), req.Path); err != nil {
			s.fail(w, err)
			return
		}
		s.listSources(w, r)
	}
}

// handleDeleteSource deletes a source and returns the source list.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.fail(w, errBadRequest("invalid source ID"))
			return
		}
		if err := s.ingest.RemoveSource(r.Context(), id); err != nil {
			s.fail(w, err)
			return
		}
		s.listSources(w, r)
	}
}

type ingestReport struct {
	Source  sourceView `json:"source"`
	Parsed  int        `json:"parsed"`
	Added   int        `json:"added"`
	Updated int        `json:"updated"`
	Deleted int        `json:"deleted"`
	Errors  []string   `json:"errors,omitempty"`
}

// handlePostIngest scans all sources in the foreground.
func (s *Server) handlePostIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := s.ingest.Run(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		out := make([]ingestReport, 0, len(reports))
		for _, rep := range reports {
			ir := ingestReport{Source: viewSource(rep.Source), Parsed: rep.Parsed, Added: rep.Added, Updated: rep.Updated, Deleted: rep.Deleted}
			for _, e := range rep.Errors {
				ir.Errors = append(ir.Errors, e.Error())
			}
			out = append(out, ir)
		}
		s.reply(w, out, nil)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, errBadRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Debug("request rejected", "code", code, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Code: code, Error: err.Error()})
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// errorCodes maps protocol errors to statuses and wire codes. The client
// maps the codes back to the same errors.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{sync.ErrBusy, http.StatusConflict, "busy"},
	{sync.ErrUnknownSession, http.StatusNotFound, "unknown_session"},
	{sync.ErrChecksumMismatch, http.StatusConflict, "checksum_mismatch"},
	{sync.ErrSchemaMismatch, http.StatusConflict, "schema_mismatch"},
	{storage.ErrNotFound, http.StatusNotFound, "not_found"},
	{sched.ErrInvalidGrade, http.StatusBadRequest, "invalid_grade"},
	{sched.ErrInvalidCardState, http.StatusConflict, "invalid_card_state"},
	{collection.ErrClosed, http.StatusServiceUnavailable, "closed"},
}

func classify(err error) (int, string) {
	var bad badRequest
	if errors.As(err, &bad) {
		return http.StatusBadRequest, "bad_request"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
