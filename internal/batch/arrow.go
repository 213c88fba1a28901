// Package batch moves evaluation batches in and out of the process as Arrow
// record batches: logits as a fixed-size list column, labels as int64, and an
// optional numeric loss mask.
package batch

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Batch is one decoded evaluation batch.
type Batch struct {
	Logits *tensor.Dense // (N, C)
	Labels *tensor.Ints  // (N,)
	Mask   *tensor.Dense // (N,), nil when the column is absent
}

// Schema returns the batch schema for a given class count.
func Schema(classes int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "logits", Type: arrow.FixedSizeListOf(int32(classes), arrow.PrimitiveTypes.Float32)},
		{Name: "labels", Type: arrow.PrimitiveTypes.Int64},
		{Name: "loss_mask", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)
}

// ReadIPC decodes every record batch in an Arrow IPC stream.
func ReadIPC(r io.Reader) ([]Batch, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("batch: opening IPC stream: %w", err)
	}
	defer reader.Release()

	var out []Batch
	for reader.Next() {
		b, err := FromRecord(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("batch: reading IPC stream: %w", err)
	}
	return out, nil
}

// FromRecord decodes a single record batch into tensors.
func FromRecord(rec arrow.RecordBatch) (Batch, error) {
	schema := rec.Schema()

	logitsIdx := schema.FieldIndices("logits")
	labelsIdx := schema.FieldIndices("labels")
	if len(logitsIdx) != 1 || len(labelsIdx) != 1 {
		return Batch{}, fmt.Errorf("batch: record needs exactly one logits and one labels column, schema %v", schema)
	}

	logitsCol, ok := rec.Column(logitsIdx[0]).(*array.FixedSizeList)
	if !ok {
		return Batch{}, fmt.Errorf("batch: logits column is %T, want fixed-size list of float32", rec.Column(logitsIdx[0]))
	}
	classes := int(logitsCol.DataType().(*arrow.FixedSizeListType).Len())
	values, ok := logitsCol.ListValues().(*array.Float32)
	if !ok {
		return Batch{}, fmt.Errorf("batch: logits values are %T, want float32", logitsCol.ListValues())
	}
	n := logitsCol.Len()

	logitsData := make([]float64, n*classes)
	raw := values.Float32Values()
	base := logitsCol.Data().Offset() * classes
	for i := 0; i < n*classes; i++ {
		logitsData[i] = float64(raw[base+i])
	}
	logits, err := tensor.New(logitsData, n, classes)
	if err != nil {
		return Batch{}, err
	}

	labelsCol, ok := rec.Column(labelsIdx[0]).(*array.Int64)
	if !ok {
		return Batch{}, fmt.Errorf("batch: labels column is %T, want int64", rec.Column(labelsIdx[0]))
	}
	if labelsCol.Len() != n {
		return Batch{}, fmt.Errorf("%w: %d labels vs %d logit rows", tensor.ErrShape, labelsCol.Len(), n)
	}
	labelData := make([]int, n)
	for i, v := range labelsCol.Int64Values() {
		labelData[i] = int(v)
	}
	labels, err := tensor.NewInts(labelData, n)
	if err != nil {
		return Batch{}, err
	}

	b := Batch{Logits: logits, Labels: labels}

	if maskIdx := schema.FieldIndices("loss_mask"); len(maskIdx) == 1 {
		maskCol, ok := rec.Column(maskIdx[0]).(*array.Float32)
		if !ok {
			return Batch{}, fmt.Errorf("batch: loss_mask column is %T, want float32", rec.Column(maskIdx[0]))
		}
		if maskCol.Len() != n {
			return Batch{}, fmt.Errorf("%w: %d mask entries vs %d logit rows", tensor.ErrShape, maskCol.Len(), n)
		}
		maskData := make([]float64, n)
		for i, v := range maskCol.Float32Values() {
			maskData[i] = float64(v)
		}
		if b.Mask, err = tensor.New(maskData, n); err != nil {
			return Batch{}, err
		}
	}
	return b, nil
}

// ToRecord encodes a batch as an Arrow record. The caller releases it.
func ToRecord(b Batch, alloc memory.Allocator) (arrow.RecordBatch, error) {
	if b.Logits.Rank() != 2 {
		return nil, fmt.Errorf("%w: logits must be rank 2, got %v", tensor.ErrShape, b.Logits.Shape())
	}
	n, classes := b.Logits.Dim(0), b.Logits.Dim(1)

	lb := array.NewFixedSizeListBuilder(alloc, int32(classes), arrow.PrimitiveTypes.Float32)
	defer lb.Release()
	fb := lb.ValueBuilder().(*array.Float32Builder)
	data := b.Logits.Data()
	for i := 0; i < n; i++ {
		lb.Append(true)
		for _, v := range data[i*classes : (i+1)*classes] {
			fb.Append(float32(v))
		}
	}

	ib := array.NewInt64Builder(alloc)
	defer ib.Release()
	for _, v := range b.Labels.Data() {
		ib.Append(int64(v))
	}

	mb := array.NewFloat32Builder(alloc)
	defer mb.Release()
	if b.Mask != nil {
		for _, v := range b.Mask.Data() {
			mb.Append(float32(v))
		}
	} else {
		for i := 0; i < n; i++ {
			mb.Append(1)
		}
	}

	logitsArr := lb.NewArray()
	defer logitsArr.Release()
	labelsArr := ib.NewArray()
	defer labelsArr.Release()
	maskArr := mb.NewArray()
	defer maskArr.Release()

	rec := array.NewRecordBatch(Schema(classes), []arrow.Array{logitsArr, labelsArr, maskArr}, int64(n))
	return rec, nil
}

// WriteIPC encodes batches as an Arrow IPC stream.
func WriteIPC(w io.Writer, batches []Batch) error {
	if len(batches) == 0 {
		return fmt.Errorf("batch: nothing to write")
	}
	alloc := memory.DefaultAllocator
	first, err := ToRecord(batches[0], alloc)
	if err != nil {
		return err
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(first.Schema()))
	if err := writer.Write(first); err != nil {
		first.Release()
		_ = writer.Close()
		return err
	}
	first.Release()
	for _, b := range batches[1:] {
		rec, err := ToRecord(b, alloc)
		if err != nil {
			_ = writer.Close()
			return err
		}
		if err := writer.Write(rec); err != nil {
			rec.Release()
			_ = writer.Close()
			return err
		}
		rec.Release()
	}
	return writer.Close()
}
