package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/subject"
)

// RecordStore is where the tracker keeps its issues. Both
// *subject.MemoryProvider and *subject.FileProvider satisfy it.
type RecordStore interface {
	Get(subjectID string) (*subject.Record, error)
	Put(rec *subject.Record) error
}

// Server is an emulated issue tracker.
type Server struct {
	config *ServerConfig
	store  RecordStore
	logger *zap.Logger
	now    func() time.Time

	// mu serializes read-modify-write cycles on records.
	mu sync.Mutex

	httpServer *http.Server
}

// NewServer creates a tracker serving issues from store.
func NewServer(config *ServerConfig, store RecordStore, logger *zap.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("record store cannot be nil")
	}
	if config.MaxBodySize <= 0 {
		return nil, fmt.Errorf("max body size must be positive, got %d", config.MaxBodySize)
	}
	return &Server{
		config: config,
		store:  store,
		logger: log.OrNop(logger).Named("testserver"),
		now:    time.Now,
	}, nil
}

// Handler returns the HTTP handler of the tracker API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/3/issue/{key}", s.getIssue)
	mux.HandleFunc("PUT /rest/api/3/issue/{key}", s.updateIssue)
	mux.HandleFunc("POST /rest/api/3/issue/{key}/comment", s.addComment)
	return s.authenticate(mux)
}

// ListenAndServe serves on config.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tracker listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.config.Token {
			s.logger.Warn("rejected unauthenticated request", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, ok := s.load(w, key)
	if !ok {
		return
	}

	fields := make(map[string]interface{}, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		fields[k] = v
	}
	if _, shadowed := fields["labels"]; !shadowed {
		fields["labels"] = rec.Labels
	}

	if wanted := r.URL.Query().Get("fields"); wanted != "" {
		selected := make(map[string]interface{})
		for _, name := range strings.Split(wanted, ",") {
			if v, ok := fields[strings.TrimSpace(name)]; ok {
				selected[strings.TrimSpace(name)] = v
			}
		}
		fields = selected
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"key": rec.ID, "fields": fields})
}

type updateRequest struct {
	Fields map[string]interface{} `json:"fields"`
	Update struct {
		Labels []struct {
			Add string `json:"add"`
		} `json:"labels"`
	} `json:"update"`
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}

	key := r.PathValue("key")
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.load(w, key)
	if !ok {
		return
	}
	for k, v := range req.Fields {
		rec.Fields[k] = v
	}
	for _, op := range req.Update.Labels {
		if op.Add != "" {
			rec.AddLabel(op.Add)
		}
	}
	if err := s.store.Put(rec); err != nil {
		s.logger.Error("failed to save issue", zap.String("issue", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save issue")
		return
	}
	s.logger.Debug("issue updated", zap.String("issue", key), zap.Int("fields", len(req.Fields)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body subject.RichText `json:"body"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	key := r.PathValue("key")
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.load(w, key)
	if !ok {
		return
	}
	c := rec.AddComment(req.Body, s.now())
	if err := s.store.Put(rec); err != nil {
		s.logger.Error("failed to save comment", zap.String("issue", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save comment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      c.ID,
		"self":    "/rest/api/3/issue/" + key + "/comment/" + c.ID,
		"created": c.Created.Format(time.RFC3339),
	})
}

func (s *Server) load(w http.ResponseWriter, key string) (*subject.Record, bool) {
	rec, err := s.store.Get(key)
	if errors.Is(err, subject.ErrSubjectNotFound) {
		writeError(w, http.StatusNotFound, "Issue does not exist or you do not have permission to see it.")
		return nil, false
	}
	if err != nil {
		s.logger.Warn("failed to load issue", zap.String("issue", key), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if rec.Fields == nil {
		rec.Fields = map[string]interface{}{}
	}
	return rec, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"errorMessages": []string{msg},
		"errors":        map[string]string{},
	})
}
