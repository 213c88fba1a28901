package batch

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Summary is the per-batch scoring result published back to a Longbow
// dataset.
type Summary struct {
	Index    int
	LossKind string
	Loss     float64
	Elements int
}

var summarySchema = arrow.NewSchema([]arrow.Field{
	{Name: "batch", Type: arrow.PrimitiveTypes.Int64},
	{Name: "loss_kind", Type: arrow.BinaryTypes.String},
	{Name: "loss", Type: arrow.PrimitiveTypes.Float64},
	{Name: "elements", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// SummaryRecord encodes summaries as an Arrow record. The caller releases it.
func SummaryRecord(summaries []Summary, alloc memory.Allocator) arrow.RecordBatch {
	ib := array.NewInt64Builder(alloc)
	defer ib.Release()
	kb := array.NewStringBuilder(alloc)
	defer kb.Release()
	lb := array.NewFloat64Builder(alloc)
	defer lb.Release()
	eb := array.NewInt64Builder(alloc)
	defer eb.Release()

	for _, s := range summaries {
		ib.Append(int64(s.Index))
		kb.Append(s.LossKind)
		lb.Append(s.Loss)
		eb.Append(int64(s.Elements))
	}

	idxArr := ib.NewArray()
	defer idxArr.Release()
	kindArr := kb.NewArray()
	defer kindArr.Release()
	lossArr := lb.NewArray()
	defer lossArr.Release()
	elemArr := eb.NewArray()
	defer elemArr.Release()

	return array.NewRecordBatch(summarySchema, []arrow.Array{idxArr, kindArr, lossArr, elemArr}, int64(len(summaries)))
}
