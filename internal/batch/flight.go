package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrCircuitOpen is returned while the breaker is refusing Flight calls.
var ErrCircuitOpen = errors.New("batch: flight circuit breaker open")

// FlightSource fetches evaluation batches from, and pushes loss summaries to,
// a Longbow server over Arrow Flight.
type FlightSource struct {
	client flight.Client
	conn   *grpc.ClientConn
	cb     *CircuitBreaker
}

// NewFlightSource connects to the given Flight address.
func NewFlightSource(addr string) (*FlightSource, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &FlightSource{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
		cb:     NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// Fetch pulls every record batch of the named dataset via DoGet.
func (s *FlightSource) Fetch(ctx context.Context, dataset string) ([]Batch, error) {
	if !s.cb.Allow() {
		return nil, ErrCircuitOpen
	}

	stream, err := s.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(dataset)})
	if err != nil {
		s.cb.Failure()
		return nil, fmt.Errorf("batch: DoGet %q: %w", dataset, err)
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		s.cb.Failure()
		return nil, fmt.Errorf("batch: opening DoGet stream: %w", err)
	}
	defer reader.Release()

	var out []Batch
	for reader.Next() {
		b, err := FromRecord(reader.Record())
		if err != nil {
			s.cb.Failure()
			return nil, err
		}
		out = append(out, b)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		s.cb.Failure()
		return nil, fmt.Errorf("batch: reading DoGet stream: %w", err)
	}

	s.cb.Success()
	return out, nil
}

// Push sends a record batch to the named dataset via DoPut.
func (s *FlightSource) Push(ctx context.Context, dataset string, rec arrow.RecordBatch) error {
	if !s.cb.Allow() {
		return ErrCircuitOpen
	}

	stream, err := s.client.DoPut(ctx)
	if err != nil {
		s.cb.Failure()
		return fmt.Errorf("batch: DoPut %q: %w", dataset, err)
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	})
	if err := writer.Write(rec); err != nil {
		s.cb.Failure()
		return err
	}
	if err := writer.Close(); err != nil {
		s.cb.Failure()
		return err
	}

	s.cb.Success()
	return nil
}

// Close closes the underlying connection.
func (s *FlightSource) Close() error {
	return s.conn.Close()
}
