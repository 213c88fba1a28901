// Package models is the public face of the toolkit's ASR model family: a
// registry of model kinds and their default loss wiring. The model internals
// (encoders, decoders, training loops) live in the parent stack.
package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/23skdu/longbow-quiver/internal/losses"
)

// Kind identifies one ASR model family.
type Kind string

const (
	KindCTC                Kind = "ctc"
	KindCTCBPE             Kind = "ctc-bpe"
	KindRNNT               Kind = "rnnt"
	KindRNNTBPE            Kind = "rnnt-bpe"
	KindClassification     Kind = "classification"
	KindSpeakerLabel       Kind = "speaker-label"
	KindSpeakerEmbedding   Kind = "speaker-embedding"
	KindSpeechRegression   Kind = "speech-regression"
	KindClusteringDiarizer Kind = "clustering-diarizer"
)

// Descriptor describes one registered model kind.
type Descriptor struct {
	Kind Kind
	Name string
	// NewLoss builds the kind's default training loss, or is nil for kinds
	// whose loss lives outside this package (CTC/RNNT losses, clustering).
	NewLoss func() (losses.Module, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[Kind]Descriptor)
)

// Register adds a model kind to the registry. Registering the same kind
// twice is a programmer error.
func Register(d Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[d.Kind]; dup {
		panic(fmt.Sprintf("models: duplicate registration of kind %q", d.Kind))
	}
	registry[d.Kind] = d
}

// Lookup returns the descriptor for a model kind.
func Lookup(k Kind) (Descriptor, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[k]
	if !ok {
		return Descriptor{}, fmt.Errorf("models: unknown model kind %q", k)
	}
	return d, nil
}

// Kinds returns the registered kinds, sorted.
func Kinds() []Kind {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
