package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/CTAG07/Cadenza/pkg/store"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// maxGenerateLength bounds the number of states one request may generate.
const maxGenerateLength = 4096

// Server exposes the stored models over HTTP. Tables are loaded once and
// shared read-only; every request samples through its own Model.
type Server struct {
	store  *store.Store
	gen    *GenerationConfig
	logger *slog.Logger
	router *mux.Router

	mu    sync.RWMutex
	cache map[string]*cachedModel
}

// cachedModel is a loaded table. Exactly one of the tables is set, matching
// info.Kind.
type cachedModel struct {
	info      store.ModelInfo
	intervals *markov.Table[melody.Interval]
	features  *markov.Table[melody.Feature]
	durations *markov.Table[melody.Duration]
}

type modelResponse struct {
	Name     string      `json:"name"`
	Kind     melody.Kind `json:"kind"`
	Order    int         `json:"order"`
	Composer string      `json:"composer"`
	Stats    *tableStats `json:"stats,omitempty"`
}

type tableStats struct {
	Contexts          int `json:"contexts"`
	Transitions       int `json:"transitions"`
	TotalObservations int `json:"totalObservations"`
	MaxBranching      int `json:"maxBranching"`
}

type statsResponse struct {
	StateCount   int             `json:"stateCount"`
	ContextCount int             `json:"contextCount"`
	Models       []modelResponse `json:"models"`
}

// GenerateRequest is the body of POST /api/models/{name}/generate. Omitted
// fields use the configured generation defaults.
type GenerateRequest struct {
	Length      *int            `json:"length"`
	Weight      *float64        `json:"weight"`
	Seed        *uint64         `json:"seed"`
	Temperature *float64        `json:"temperature"`
	TopK        int             `json:"topK"`
	Fallback    json.RawMessage `json:"fallback"`
}

// GenerateResponse carries the generated states in their JSON encoding.
type GenerateResponse struct {
	Id     string      `json:"id"`
	Model  string      `json:"model"`
	Kind   melody.Kind `json:"kind"`
	States []any       `json:"states"`
}

type probabilityEntry struct {
	State       any     `json:"state"`
	Probability float64 `json:"probability"`
}

// ProbabilitiesResponse is the next-state distribution after a context.
type ProbabilitiesResponse struct {
	Model         string             `json:"model"`
	Kind          melody.Kind        `json:"kind"`
	Context       json.RawMessage    `json:"context"`
	Probabilities []probabilityEntry `json:"probabilities"`
}

// NewServer creates the API server and registers its routes.
func NewServer(st *store.Store, gen *GenerationConfig, logger *slog.Logger) *Server {
	s := &Server{
		store:  st,
		gen:    gen,
		logger: logger,
		router: mux.NewRouter(),
		cache:  make(map[string]*cachedModel),
	}
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/models", s.handleListModels).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/cache", s.handleResetCache).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/models/{name}", s.handleGetModel).Methods(http.MethodGet)
	s.router.HandleFunc("/api/models/{name}/generate", s.handleGenerate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/models/{name}/probabilities", s.handleProbabilities).Methods(http.MethodGet)
	return s
}

// Handler returns the router wrapped in CORS handling for origins.
func (s *Server) Handler(origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.GetModelInfos(r.Context())
	if err != nil {
		s.logger.Error("Failed to get model infos", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
		return
	}
	models := make([]modelResponse, 0, len(infos))
	for _, info := range infos {
		models = append(models, newModelResponse(info))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	respondWithJSON(w, http.StatusOK, models)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	resp := statsResponse{
		StateCount:   stats.StateCount,
		ContextCount: stats.ContextCount,
		Models:       make([]modelResponse, 0, len(stats.Models)),
	}
	for _, m := range stats.Models {
		ms := stats.Stats[m.Id]
		mr := newModelResponse(m)
		mr.Stats = &tableStats{
			Contexts:          ms.Contexts,
			Transitions:       ms.TotalTransitions,
			TotalObservations: ms.TotalFrequency,
		}
		resp.Models = append(resp.Models, mr)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetCache(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	dropped := len(s.cache)
	clear(s.cache)
	s.mu.Unlock()
	s.logger.Info("Dropped cached tables", "count", dropped)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	resp := newModelResponse(m.info)
	st := m.stats()
	resp.Stats = &tableStats{
		Contexts:          st.Contexts,
		Transitions:       st.Transitions,
		TotalObservations: st.TotalObservations,
		MaxBranching:      st.MaxBranching,
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	length := s.gen.Length
	if req.Length != nil {
		length = *req.Length
	}
	weight := s.gen.Weight
	if req.Weight != nil {
		weight = *req.Weight
	}
	temperature := s.gen.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	switch {
	case length < 0 || length > maxGenerateLength:
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("length must be within [0, %d]", maxGenerateLength))
		return
	case weight < 0 || weight > 1:
		respondWithError(w, http.StatusBadRequest, "weight must be within [0, 1]")
		return
	case req.TopK < 0:
		respondWithError(w, http.StatusBadRequest, "topK must not be negative")
		return
	}

	m, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var rng *rand.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewPCG(*req.Seed, 0))
	}
	opts := []markov.PredictOption{markov.WithTemperature(temperature), markov.WithTopK(req.TopK)}
	composer := m.info.Composer

	var (
		states []any
		err    error
	)
	switch m.info.Kind {
	case melody.KindInterval:
		model := melody.NewIntervalModelFromTable(m.intervals, composer, rng)
		model.SetPredictOptions(opts...)
		model.SetLogger(s.logger)
		states, err = generateStates[melody.Interval](model, melody.IntervalCodec{}, length, weight, req.Fallback)
	case melody.KindFeature:
		model := melody.NewFeatureModelFromTable(m.features, composer, rng)
		model.SetPredictOptions(opts...)
		model.SetLogger(s.logger)
		states, err = generateStates[melody.Feature](model, melody.FeatureCodec{}, length, weight, req.Fallback)
	default:
		model := melody.NewRhythmModelFromTable(m.durations, composer, rng)
		model.SetPredictOptions(opts...)
		model.SetLogger(s.logger)
		states, err = generateStates[melody.Duration](model, melody.DurationCodec{}, length, weight, req.Fallback)
	}
	if err != nil {
		if errors.Is(err, markov.ErrInvalidArgument) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to generate", "model_name", m.info.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate: %v", err))
		return
	}

	resp := GenerateResponse{
		Id:     uuid.New().String(),
		Model:  m.info.Name,
		Kind:   m.info.Kind,
		States: states,
	}
	s.logger.Info("Generated sequence", "id", resp.Id, "model_name", resp.Model, "length", len(states))
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProbabilities(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("context")
	if raw == "" {
		raw = "[]"
	}

	var (
		entries []probabilityEntry
		err     error
	)
	switch m.info.Kind {
	case melody.KindInterval:
		entries, err = intervalProbabilities(m, raw)
	case melody.KindFeature:
		entries, err = contextDistribution(m.features, melody.FeatureCodec{}, raw)
	default:
		entries, err = contextDistribution(m.durations, melody.DurationCodec{}, raw)
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, ProbabilitiesResponse{
		Model:         m.info.Name,
		Kind:          m.info.Kind,
		Context:       json.RawMessage(raw),
		Probabilities: entries,
	})
}

// lookup resolves the {name} route variable to a loaded model, writing the
// error response itself when that fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*cachedModel, bool) {
	name := mux.Vars(r)["name"]
	m, err := s.loadModel(r.Context(), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return nil, false
		}
		s.logger.Error("Failed to load model", "model_name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return nil, false
	}
	return m, true
}

// loadModel returns the cached table of name, reading it from the store on
// first use.
func (s *Server) loadModel(ctx context.Context, name string) (*cachedModel, error) {
	s.mu.RLock()
	m, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	info, err := s.store.GetModelInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	m = &cachedModel{info: info}
	switch info.Kind {
	case melody.KindInterval:
		m.intervals, err = store.LoadTable(ctx, s.store, info, melody.IntervalCodec{})
	case melody.KindFeature:
		m.features, err = store.LoadTable(ctx, s.store, info, melody.FeatureCodec{})
	case melody.KindDuration:
		m.durations, err = store.LoadTable(ctx, s.store, info, melody.DurationCodec{})
	default:
		err = fmt.Errorf("%w: unknown model kind %q", markov.ErrDeserialization, info.Kind)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache[name]; ok {
		return existing, nil
	}
	s.cache[name] = m
	s.logger.Debug("Cached model table", "model_name", name, "model_kind", string(info.Kind))
	return m, nil
}

func (m *cachedModel) stats() markov.Stats {
	switch {
	case m.intervals != nil:
		return m.intervals.Stats()
	case m.features != nil:
		return m.features.Stats()
	default:
		return m.durations.Stats()
	}
}

func newModelResponse(info store.ModelInfo) modelResponse {
	return modelResponse{
		Name:     info.Name,
		Kind:     info.Kind,
		Order:    info.Order,
		Composer: info.Composer,
	}
}

// generateStates runs one generation on seq. A missing or null fallback uses
// the variant's default pool; an explicit empty array is rejected by the model.
func generateStates[S comparable](seq markov.Sequencer[S], codec markov.Codec[S], length int, weight float64, rawFallback json.RawMessage) ([]any, error) {
	var fallback []S
	if len(rawFallback) > 0 && string(rawFallback) != "null" {
		var parts []json.RawMessage
		if err := json.Unmarshal(rawFallback, &parts); err != nil {
			return nil, fmt.Errorf("%w: fallback must be an array of %s states", markov.ErrInvalidArgument, codec.Shape())
		}
		fallback = make([]S, 0, len(parts))
		for i, part := range parts {
			s, err := codec.DecodeState(part)
			if err != nil {
				return nil, fmt.Errorf("%w: fallback state %d: %v", markov.ErrInvalidArgument, i, err)
			}
			fallback = append(fallback, s)
		}
	}

	states, err := markov.Generate(seq, length, weight, fallback)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(states))
	for i, s := range states {
		out[i] = codec.EncodeState(s)
	}
	return out, nil
}

// intervalProbabilities feeds any number of context intervals into a fresh
// model and reports the probability of every interval in the octave range.
func intervalProbabilities(m *cachedModel, raw string) ([]probabilityEntry, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return nil, fmt.Errorf("%w: context must be a JSON array", markov.ErrInvalidArgument)
	}
	model := melody.NewIntervalModelFromTable(m.intervals, m.info.Composer, nil)
	for i, part := range parts {
		iv, err := melody.IntervalCodec{}.DecodeState(part)
		if err != nil {
			return nil, fmt.Errorf("%w: context state %d: %v", markov.ErrInvalidArgument, i, err)
		}
		model.Update(iv)
	}

	probs := model.AllProbabilities()
	entries := make([]probabilityEntry, 0, len(probs))
	for iv := melody.MinInterval; iv <= melody.MaxInterval; iv++ {
		entries = append(entries, probabilityEntry{State: int(iv), Probability: probs[iv]})
	}
	return entries, nil
}

// contextDistribution reports the observed next states after an exact
// context of the table's order, ordered by their JSON encoding.
func contextDistribution[S comparable](table *markov.Table[S], codec markov.Codec[S], raw string) ([]probabilityEntry, error) {
	ctx, err := markov.DecodeContext(codec, table.Order(), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", markov.ErrInvalidArgument, err)
	}
	dist := table.Distribution(ctx)

	type keyed struct {
		key   string
		entry probabilityEntry
	}
	sorted := make([]keyed, 0, len(dist))
	for s, p := range dist {
		key, err := markov.EncodeState(codec, s)
		if err != nil {
			return nil, err
		}
		sorted = append(sorted, keyed{key: key, entry: probabilityEntry{State: codec.EncodeState(s), Probability: p}})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })

	entries := make([]probabilityEntry, len(sorted))
	for i, k := range sorted {
		entries[i] = k.entry
	}
	return entries, nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
