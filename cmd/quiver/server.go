package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	rowsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_rows_scored_total",
		Help: "The total number of prediction rows scored",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent processing score requests",
		Buckets: prometheus.DefBuckets,
	})
)

// Server scores evaluation batches over HTTP: CBOR requests on /score, Arrow
// IPC streams on /score/arrow.
type Server struct {
	loss        scorer
	src         *batch.FlightSource
	pushDataset string
	sem         *semaphore.Weighted
}

func NewServer(loss scorer, src *batch.FlightSource, pushDataset string, maxConcurrent int) *Server {
	return &Server{
		loss:        loss,
		src:         src,
		pushDataset: pushDataset,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, loss scorer, src *batch.FlightSource, pushDataset string, maxConcurrent int) {
	srv := NewServer(loss, src, pushDataset, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/score", srv.handleScore)
	http.HandleFunc("/score/arrow", srv.handleScoreArrow)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Str("loss", loss.Kind()).Msg("Starting Quiver Server")
	if src != nil && pushDataset != "" {
		log.Info().Str("dataset", pushDataset).Msg("Forwarding loss summaries to Longbow")
	}
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("quiver-server")

// scoreRequest is the CBOR body of /score: one flat batch of logits with its
// labels and an optional numeric mask.
type scoreRequest struct {
	Logits  []float64 `cbor:"logits"`
	Classes int       `cbor:"classes"`
	Labels  []int     `cbor:"labels"`
	Mask    []float64 `cbor:"mask,omitempty"`
}

type scoreResponse struct {
	LossKind string  `cbor:"loss_kind"`
	Loss     float64 `cbor:"loss"`
	Elements int     `cbor:"elements"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleScore")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req scoreRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	b, err := req.toBatch()
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.Int("rows", b.Labels.Len()))

	resp, err := s.score(ctx, 0, b)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Scoring failed: %v", err), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleScoreArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleScoreArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batches, err := batch.ReadIPC(r.Body)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (Arrow decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("batch_count", len(batches)))

	responses := make([]scoreResponse, 0, len(batches))
	for i, b := range batches {
		resp, err := s.score(ctx, i, b)
		if err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("Scoring batch %d failed: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
		responses = append(responses, resp)
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(responses); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// score runs one batch through the loss under admission control and forwards
// the summary to Longbow when configured.
func (s *Server) score(ctx context.Context, index int, b batch.Batch) (scoreResponse, error) {
	weight := int64(b.Labels.Len())
	if weight == 0 {
		weight = 1
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return scoreResponse{}, fmt.Errorf("admission control: %w", err)
	}
	defer s.sem.Release(weight)

	val, n, err := scoreBatch(s.loss, b)
	if err != nil {
		return scoreResponse{}, err
	}
	rowsScored.Add(float64(n))

	if s.src != nil && s.pushDataset != "" {
		rec := batch.SummaryRecord([]batch.Summary{{
			Index:    index,
			LossKind: s.loss.Kind(),
			Loss:     val,
			Elements: n,
		}}, memory.DefaultAllocator)
		defer rec.Release()
		if err := s.src.Push(ctx, s.pushDataset, rec); err != nil {
			log.Error().Err(err).Msg("Error forwarding summary to Longbow")
		}
	}

	return scoreResponse{LossKind: s.loss.Kind(), Loss: val, Elements: n}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (r scoreRequest) toBatch() (batch.Batch, error) {
	if r.Classes <= 0 {
		return batch.Batch{}, fmt.Errorf("classes must be positive, got %d", r.Classes)
	}
	if len(r.Logits)%r.Classes != 0 {
		return batch.Batch{}, fmt.Errorf("%d logits do not divide into %d classes", len(r.Logits), r.Classes)
	}
	n := len(r.Logits) / r.Classes
	logits, err := tensor.New(r.Logits, n, r.Classes)
	if err != nil {
		return batch.Batch{}, err
	}
	labels, err := tensor.NewInts(r.Labels, n)
	if err != nil {
		return batch.Batch{}, err
	}
	b := batch.Batch{Logits: logits, Labels: labels}
	if r.Mask != nil {
		if b.Mask, err = tensor.New(r.Mask, n); err != nil {
			return batch.Batch{}, err
		}
	}
	return b, nil
}
