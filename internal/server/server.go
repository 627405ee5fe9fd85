// Package server is the API boundary: it decodes requests, drives the search
// and update orchestration and maps internal error kinds to HTTP responses.
// It carries no ranking or storage logic of its own.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"semsearch/internal/config"
	"semsearch/internal/embedpipe"
	"semsearch/internal/encoder"
	"semsearch/internal/errkind"
	mylog "semsearch/internal/log"
	"semsearch/internal/models"
	"semsearch/internal/retriever"
	"semsearch/internal/vecstore"
)

// Pinger is implemented by components that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	enc      encoder.Encoder
	encPing  Pinger // underlying model endpoint, may be nil
	store    vecstore.Store
	searcher *retriever.Searcher
	pipe     *embedpipe.Pipeline
	cache    *encoder.Cached // nil when caching disabled
	apiToken string
	lg       *mylog.Logger
	metrics  *metricsCollector

	rateRPS   float64
	rateIPRPS float64
}

type Options struct {
	EncoderPing    Pinger
	Cache          *encoder.Cached
	MaxTopK        int
	APIToken       string
	Logger         *mylog.Logger
	RateLimitRPS   float64
	RateLimitIPRPS float64
}

func NewAPI(enc encoder.Encoder, store vecstore.Store, opts Options) *API {
	lg := opts.Logger
	if lg == nil {
		lg = mylog.New()
	}
	return &API{
		enc:       enc,
		encPing:   opts.EncoderPing,
		store:     store,
		searcher:  retriever.New(enc, store, opts.MaxTopK),
		pipe:      embedpipe.New(enc, store),
		cache:     opts.Cache,
		apiToken:  opts.APIToken,
		lg:        lg,
		metrics:   newMetrics(),
		rateRPS:   opts.RateLimitRPS,
		rateIPRPS: opts.RateLimitIPRPS,
	}
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/embed", a.handleEmbed)
	mux.HandleFunc("/search", a.handleSearch)
	mux.HandleFunc("/items/", a.handleItems)
	return mux
}

// Handler returns the full middleware-wrapped handler.
func (a *API) Handler() http.Handler {
	return a.logMiddleware(rateLimitMiddleware(a.rateRPS, a.rateIPRPS, a.mux()))
}

// authorize checks the optional bearer token.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	if a.apiToken == "" {
		return true
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == a.apiToken {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	return false
}

func (a *API) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		Texts []string `json:"texts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	vecs, err := a.enc.Encode(r.Context(), req.Texts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"embeddings": vecs})
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	results, err := a.searcher.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleItems routes /items/{id}/embedding and /items/embeddings:batch.
func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/items/")
	switch {
	case rest == "embeddings:batch":
		a.handleUpdateBatch(w, r)
	case strings.HasSuffix(rest, "/embedding"):
		id := strings.TrimSuffix(rest, "/embedding")
		a.handleUpdate(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown items operation")
	}
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	if err := a.pipe.Update(r.Context(), id, req.Text); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []models.UpdateItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "items must not be empty")
		return
	}
	results := a.pipe.UpdateMany(r.Context(), req.Items)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	encoderStatus, storeStatus := "ok", "ok"
	if a.encPing != nil {
		if err := a.encPing.Ping(ctx); err != nil {
			encoderStatus = "unreachable"
		}
	}
	if err := a.store.Ping(ctx); err != nil {
		storeStatus = "unreachable"
	}
	status := "ok"
	if encoderStatus != "ok" || storeStatus != "ok" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"encoder": encoderStatus,
		"store":   storeStatus,
	})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	snap := a.metrics.snapshot()
	if a.cache != nil {
		hits, misses := a.cache.Stats()
		snap["embedCache"] = map[string]int64{"hits": hits, "misses": misses}
	}
	writeJSON(w, http.StatusOK, snap)
}

// fail logs the full error and writes the mapped external response.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := errkind.KindOf(err)
	a.lg.Error("request.failed",
		"method", r.Method,
		"path", r.URL.Path,
		"kind", string(kind),
		"stage", string(errkind.StageOf(err)),
		"err", err.Error(),
	)
	writeKindError(w, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run wires the process: config, encoder chain, store, HTTP server, and a
// graceful drain on SIGINT/SIGTERM.
func Run(addr string) error {
	lg := mylog.New()
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := vecstore.NewFromSettings(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()

	client := encoder.NewClient(encoder.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.EmbeddingModel,
		Dim:        cfg.Dim,
		MaxTextLen: cfg.MaxTextLen,
		Timeout:    cfg.EncodeTimeout,
	})
	batcher := encoder.NewBatcher(client, encoder.BatcherOptions{
		Window:     cfg.BatchWindow,
		MaxBatch:   cfg.BatchMax,
		Timeout:    cfg.EncodeTimeout,
		MaxTextLen: cfg.MaxTextLen,
	})
	defer batcher.Close()

	var enc encoder.Encoder = batcher
	var cache *encoder.Cached
	if !cfg.CacheDisabled {
		cache = encoder.NewCached(batcher, cfg.CacheMaxEntries, cfg.CacheTTL)
		enc = cache
		lg.Info("embeddings.cache", "status", "enabled")
	}

	// startup reachability probe; the service still starts when the model is
	// down and reports degraded until it recovers
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := client.Ping(probeCtx); err != nil {
		lg.Warn("encoder.unreachable", "model", cfg.EmbeddingModel, "err", err.Error())
	} else {
		lg.Info("encoder.ready", "model", cfg.EmbeddingModel, "dim", cfg.Dim)
	}
	probeCancel()

	api := NewAPI(enc, store, Options{
		EncoderPing:    client,
		Cache:          cache,
		MaxTopK:        cfg.MaxTopK,
		APIToken:       cfg.APIToken,
		Logger:         lg,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitIPRPS: cfg.RateLimitIPRPS,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	lg.Info("server.listening", "addr", addr, "provider", cfg.Provider, "metric", cfg.Metric)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		lg.Info("server.shutdown", "signal", sig.String())
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
