package losses

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_loss_forward_total",
		Help: "Total number of loss forward passes",
	}, []string{"loss"})

	maskFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_loss_mask_fallback_total",
		Help: "Forward passes where the mask removed every element and the argmax fallback ran",
	}, []string{"loss"})

	forwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_loss_forward_duration_seconds",
		Help:    "Time spent in loss forward passes",
		Buckets: prometheus.DefBuckets,
	}, []string{"loss"})
)
