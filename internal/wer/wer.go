// Package wer computes word error rates, the regression targets scored by
// the WER regression loss.
package wer

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Rate returns the word error rate of hyp against ref: the word-level edit
// distance divided by the reference word count. An empty reference scores 0
// against an empty hypothesis and 1 otherwise.
func Rate(ref, hyp string) float64 {
	refWords := Words(ref)
	hypWords := Words(hyp)
	if len(refWords) == 0 {
		if len(hypWords) == 0 {
			return 0
		}
		return 1
	}
	return float64(editDistance(refWords, hypWords)) / float64(len(refWords))
}

// editDistance is a two-row Levenshtein over word sequences.
func editDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j-1]+cost, min(prev[j]+1, cur[j-1]+1))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// TargetMatrix builds the (batch, providers) WER tensor used as the
// regression target: hyps[i][p] is provider p's hypothesis for reference i.
// Every row must list the same number of providers.
func TargetMatrix(refs []string, hyps [][]string) (*tensor.Dense, error) {
	if len(refs) != len(hyps) {
		return nil, fmt.Errorf("%w: %d references vs %d hypothesis rows", tensor.ErrShape, len(refs), len(hyps))
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", tensor.ErrShape)
	}
	providers := len(hyps[0])
	data := make([]float64, 0, len(refs)*providers)
	for i, row := range hyps {
		if len(row) != providers {
			return nil, fmt.Errorf("%w: row %d has %d hypotheses, expected %d", tensor.ErrShape, i, len(row), providers)
		}
		for _, hyp := range row {
			data = append(data, Rate(refs[i], hyp))
		}
	}
	return tensor.New(data, len(refs), providers)
}
