package tensor

import "sync"

// ScratchPool provides pooled float64 buffers for intermediate loss
// computations, cutting allocations on the per-batch hot path.
type ScratchPool struct {
	pool sync.Pool
}

// Global scratch pool shared by the loss modules.
var Scratch = &ScratchPool{}

// Get returns a zeroed buffer of length n.
func (p *ScratchPool) Get(n int) []float64 {
	if v := p.pool.Get(); v != nil {
		buf := v.([]float64)
		if cap(buf) >= n {
			buf = buf[:n]
			for i := range buf {
				buf[i] = 0
			}
			return buf
		}
	}
	return make([]float64, n)
}

// Put returns a buffer to the pool.
func (p *ScratchPool) Put(buf []float64) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
