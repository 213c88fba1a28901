package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/losses"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	inputPath     = flag.String("input", "", "Arrow IPC file of evaluation batches")
	lossKind      = flag.String("loss", "cross_entropy", "Loss to score with (cross_entropy, nll)")
	reduction     = flag.String("reduction", "mean", "Reduction mode (mean, sum)")
	ignoreIndex   = flag.Int("ignore-index", losses.DefaultIgnoreIndex, "Label value excluded from the loss")
	classWeights  = flag.String("class-weights", "", "Comma-separated per-class weights")
	listenAddr    = flag.String("listen", "", "Address to listen on for the HTTP scoring server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Longbow Flight server address to fetch batches from")
	datasetName   = flag.String("dataset", "quiver_batches", "Dataset to fetch via Flight")
	pushDataset   = flag.String("push-dataset", "", "Dataset to push loss summaries to (empty = no push)")
	maxConcurrent = flag.Int("max-concurrent", 1024, "Maximum number of concurrently scored rows")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	loss, err := buildLoss(*lossKind)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build loss")
	}

	var src *batch.FlightSource
	if *flightAddr != "" {
		src, err = batch.NewFlightSource(*flightAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Flight server")
		}
		defer func() {
			if err := src.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight source")
			}
		}()
		log.Info().Str("addr", *flightAddr).Msg("Connected to Flight Server")
	}

	if *listenAddr != "" {
		startServer(*listenAddr, loss, src, *pushDataset, *maxConcurrent)
		return
	}

	var batches []batch.Batch
	switch {
	case *inputPath != "":
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open input file")
		}
		batches, err = batch.ReadIPC(f)
		_ = f.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read batches")
		}
	case src != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		batches, err = src.Fetch(ctx, *datasetName)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("dataset", *datasetName).Msg("Flight fetch failed")
		}
	default:
		log.Fatal().Msg("Nothing to do: pass -input, -flight or -listen")
	}

	summaries := scoreBatches(loss, batches)
	if len(summaries) == 0 {
		return
	}

	var total float64
	for _, s := range summaries {
		total += s.Loss
		log.Info().Int("batch", s.Index).Str("loss", s.LossKind).Float64("value", s.Loss).Int("elements", s.Elements).Msg("Scored batch")
	}
	log.Info().Int("batches", len(summaries)).Float64("mean_loss", total/float64(len(summaries))).Msg("Scoring complete")

	if src != nil && *pushDataset != "" {
		rec := batch.SummaryRecord(summaries, memory.DefaultAllocator)
		defer rec.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := src.Push(ctx, *pushDataset, rec); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		log.Info().Str("dataset", *pushDataset).Msg("Pushed loss summaries to Longbow")
	}
}

// scorer is the shared forward signature of the masked losses.
type scorer interface {
	Kind() string
	Forward(*tensor.Dense, *tensor.Ints, *tensor.Dense) (*tensor.Dense, error)
}

func buildLoss(kind string) (scorer, error) {
	var weights []float64
	if *classWeights != "" {
		var err error
		if weights, err = parseWeights(*classWeights); err != nil {
			return nil, err
		}
	}
	opts := []losses.Option{
		losses.WithReduction(losses.Reduction(*reduction)),
		losses.WithIgnoreIndex(*ignoreIndex),
	}
	if weights != nil {
		opts = append(opts, losses.WithClassWeight(weights))
	}
	switch kind {
	case "nll":
		return losses.NewNLL(opts...)
	default:
		return losses.NewCrossEntropy(opts...)
	}
}

func scoreBatches(loss scorer, batches []batch.Batch) []batch.Summary {
	summaries := make([]batch.Summary, 0, len(batches))
	for i, b := range batches {
		val, n, err := scoreBatch(loss, b)
		if err != nil {
			log.Error().Err(err).Int("batch", i).Msg("Scoring failed")
			continue
		}
		summaries = append(summaries, batch.Summary{Index: i, LossKind: loss.Kind(), Loss: val, Elements: n})
	}
	return summaries
}

// scoreBatch runs one decoded batch through the loss. Flat (N, C) batches are
// presented to the NLL loss as (N, 1, C) sequences to satisfy its contract.
func scoreBatch(loss scorer, b batch.Batch) (float64, int, error) {
	logits, labels, mask := b.Logits, b.Labels, b.Mask
	if loss.Kind() == "nll" {
		n, c := logits.Dim(0), logits.Dim(1)
		var err error
		if logits, err = tensor.New(logits.Data(), n, 1, c); err != nil {
			return 0, 0, err
		}
		if labels, err = tensor.NewInts(labels.Data(), n, 1); err != nil {
			return 0, 0, err
		}
		if mask != nil {
			if mask, err = tensor.New(mask.Data(), n, 1); err != nil {
				return 0, 0, err
			}
		}
	}
	out, err := loss.Forward(logits, labels, mask)
	if err != nil {
		return 0, 0, err
	}
	val, err := out.Scalar()
	if err != nil {
		return 0, 0, err
	}
	return val, b.Labels.Len(), nil
}

func parseWeights(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad class weight %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
