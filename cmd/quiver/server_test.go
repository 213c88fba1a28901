package main

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/losses"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	loss, err := losses.NewCrossEntropy()
	require.NoError(t, err)
	return NewServer(loss, nil, "", 1024)
}

func TestHandleScore(t *testing.T) {
	srv := testServer(t)

	// Uniform logits over 4 classes: loss is ln(4) regardless of labels.
	req := scoreRequest{
		Logits:  make([]float64, 8),
		Classes: 4,
		Labels:  []int{1, 3},
	}
	body, err := cbor.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.handleScore(rec, httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scoreResponse
	require.NoError(t, cbor.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cross_entropy", resp.LossKind)
	assert.Equal(t, 2, resp.Elements)
	assert.InDelta(t, math.Log(4), resp.Loss, 1e-9)
}

func TestHandleScoreMasked(t *testing.T) {
	srv := testServer(t)

	req := scoreRequest{
		Logits:  []float64{2, 0, 0, 2},
		Classes: 2,
		Labels:  []int{0, 0},
		Mask:    []float64{1, 0},
	}
	body, err := cbor.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.handleScore(rec, httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp scoreResponse
	require.NoError(t, cbor.Unmarshal(rec.Body.Bytes(), &resp))
	// Only the first row survives: -log(softmax([2,0])[0])
	want := -(2 - math.Log(math.Exp(2)+1))
	assert.InDelta(t, want, resp.Loss, 1e-9)
}

func TestHandleScoreRejects(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.handleScore(rec, httptest.NewRequest(http.MethodGet, "/score", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleScore(rec, httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader([]byte("not cbor"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 7 logits do not divide into 4 classes
	body, err := cbor.Marshal(scoreRequest{Logits: make([]float64, 7), Classes: 4, Labels: []int{0}})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	srv.handleScore(rec, httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleScoreArrow(t *testing.T) {
	srv := testServer(t)

	b := batch.Batch{
		Logits: tensor.Zeros(3, 5),
		Labels: tensor.MustNewInts([]int{0, 2, 4}, 3),
	}
	var buf bytes.Buffer
	require.NoError(t, batch.WriteIPC(&buf, []batch.Batch{b}))

	rec := httptest.NewRecorder()
	srv.handleScoreArrow(rec, httptest.NewRequest(http.MethodPost, "/score/arrow", &buf))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var responses []scoreResponse
	require.NoError(t, cbor.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 1)
	assert.Equal(t, 3, responses[0].Elements)
	assert.InDelta(t, math.Log(5), responses[0].Loss, 1e-9)
}

func TestScoreBatchNLLReshapes(t *testing.T) {
	nll, err := losses.NewNLL()
	require.NoError(t, err)

	// Flat (N, C) batches are presented to NLL as (N, 1, C).
	raw := tensor.MustNew([]float64{1, 0, 0, 1}, 2, 2)
	lp, err := raw.LogSoftmaxRows()
	require.NoError(t, err)

	val, n, err := scoreBatch(nll, batch.Batch{
		Logits: lp,
		Labels: tensor.MustNewInts([]int{0, 1}, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	want := -(lp.At(0, 0) + lp.At(1, 1)) / 2
	assert.InDelta(t, want, val, 1e-12)
}
