package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgersync/core/balances"
	"ledgersync/core/chain"
)

// BatchSink accepts ordered batches from the upstream event source.
type BatchSink interface {
	ProcessBatch(ctx context.Context, b chain.Batch) error
}

// BalanceQueries is the slice of the persistence layer the read surface
// needs beyond the in-memory caches.
type BalanceQueries interface {
	BalanceHistory(ctx context.Context, address string, limit int) ([]balances.Row, error)
	BalancesByTransaction(ctx context.Context, txHash string) ([]balances.Row, error)
}

// Config wires the read model and the ingest sink into the HTTP surface.
type Config struct {
	Versions VersionQueries
	Registry RegistryQueries
	Balances CurrentBalances
	History  BalanceQueries
	Sink     BatchSink
	Log      *slog.Logger
}

// Server exposes the derived read model over HTTP. Consumers only ever read
// the three logs; the single write path is the ordered batch ingest.
type Server struct {
	versions VersionQueries
	registry RegistryQueries
	balances CurrentBalances
	history  BalanceQueries
	sink     BatchSink
	log      *slog.Logger
}

// NewServer constructs the HTTP server facade.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Server{
		versions: cfg.Versions,
		registry: cfg.Registry,
		balances: cfg.Balances,
		history:  cfg.History,
		sink:     cfg.Sink,
		log:      cfg.Log,
	}
}

// Router builds the chi routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/versions", s.handleVersions)
		v1.Get("/versions/latest", s.handleLatestVersion)
		v1.Get("/versions/at/{slot}", s.handleVersionAtSlot)
		v1.Get("/versions/slot/{slot}", s.handleVersionBySlot)
		v1.Get("/versions/{txHash}", s.handleVersionByTxHash)
		v1.Get("/registry/{versionTx}/tokens", s.handleRegisteredTokens)
		v1.Get("/registry/{versionTx}/nodes", s.handleAllNodes)
		v1.Get("/tokens/{policyID}/registered", s.handleIsRegistered)
		v1.Get("/balances/{address}", s.handleCurrentBalance)
		v1.Get("/balances/{address}/history", s.handleBalanceHistory)
		v1.Get("/transactions/{txHash}/balances", s.handleBalancesByTransaction)
		v1.Post("/batches", s.handleIngestBatch)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
