package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/floranet/petal-oracle/pkg/consumer"
	"github.com/floranet/petal-oracle/pkg/proof"
)

const (
	maxBodyBytes   = 1 << 20 // 1MB limit
	defaultLimit   = 50
	maxLimit       = 200
	historyMinimum = 1
)

// Meta is the static deployment information the roster endpoint reports.
type Meta struct {
	Network         string `json:"network"`
	FloraAccountID  string `json:"floraAccountId"`
	RegistryTopicID string `json:"registryTopicId,omitempty"`
}

// Server serves the consumer API.
type Server struct {
	consumer *consumer.Consumer
	meta     Meta
	log      *slog.Logger
	limiter  *RateLimiter
}

// NewServer builds the API server around a consumer.
func NewServer(c *consumer.Consumer, meta Meta, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		consumer: c,
		meta:     meta,
		log:      log,
		limiter:  NewRateLimiter(50, 100),
	}
}

// Handler assembles the route table with open CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/proof", s.limiter.Middleware(http.HandlerFunc(s.handleProof)))
	mux.HandleFunc("/price/latest", s.handleLatest)
	mux.HandleFunc("/price/history", s.handleHistory)
	mux.HandleFunc("/adapters", s.handleAdapters)
	mux.HandleFunc("/health", s.handleHealth)
	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "unreadable request body")
		return
	}
	sub, err := proof.ParseSubmission(raw)
	if err != nil {
		s.rejectProof(w, err)
		return
	}
	if err := s.consumer.Submit(sub); err != nil {
		s.rejectProof(w, err)
		return
	}
	WriteJSON(w, map[string]string{"status": "accepted"})
}

func (s *Server) rejectProof(w http.ResponseWriter, err error) {
	var verr *proof.ValidationError
	if errors.As(err, &verr) {
		WriteBadRequest(w, verr.Reason)
		return
	}
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "")
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	entry := s.consumer.LatestEntry()
	if entry == nil {
		WriteNotFound(w, "no consensus entry yet")
		return
	}
	WriteJSON(w, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit := queryInt(r, "limit", defaultLimit)
	if limit < historyMinimum {
		limit = historyMinimum
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	total, items := s.consumer.HistoryWindow(offset, limit)
	WriteJSON(w, map[string]interface{}{
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"items":  items,
	})
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	roster := s.consumer.Roster(r.Context())

	adapterSet := map[string]string{}
	for _, p := range roster {
		for id, fp := range p.Fingerprints {
			adapterSet[id] = fp
		}
	}
	adapterIDs := make([]string, 0, len(adapterSet))
	for id := range adapterSet {
		adapterIDs = append(adapterIDs, id)
	}
	sort.Strings(adapterIDs)

	WriteJSON(w, map[string]interface{}{
		"petals":       roster,
		"adapters":     adapterIDs,
		"fingerprints": adapterSet,
		"topics":       s.consumer.TopicIDs(),
		"metadata":     s.meta,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]string{"status": "ok"})
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
