// Package metrics records upload engine activity for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"s3pipe/internal/upload"
)

const namespace = "s3pipe"

// Recorder owns a private registry. Its Observe method is meant to be
// passed as upload.Options.OnEvent.
type Recorder struct {
	registry *prometheus.Registry

	PartsTotal        *prometheus.CounterVec
	PartSizeBytes     prometheus.Histogram
	UploadedBytes     prometheus.Counter
	UploadsTotal      *prometheus.CounterVec
	UploadsInProgress prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{registry: reg}

	r.PartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_total",
		Help:      "Part uploads by result",
	}, []string{"result"})

	r.PartSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "part_size_bytes",
		Help:      "Size of successfully uploaded parts",
		Buckets:   prometheus.ExponentialBuckets(1024*1024, 2, 10),
	})

	r.UploadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes accepted by the store in successful parts",
	})

	r.UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Finished multipart uploads by outcome",
	}, []string{"outcome"})

	r.UploadsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uploads_in_progress",
		Help:      "Multipart sessions that are open",
	})

	r.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code",
	}, []string{"method", "code"})

	reg.MustRegister(r.PartsTotal, r.PartSizeBytes, r.UploadedBytes, r.UploadsTotal, r.UploadsInProgress, r.HTTPRequestsTotal)
	return r
}

// Observe updates the metrics for one stream event.
func (r *Recorder) Observe(e upload.Event) {
	switch e.Kind {
	case upload.EventReady:
		r.UploadsInProgress.Inc()
	case upload.EventPartUploaded:
		if e.Err != nil {
			r.PartsTotal.WithLabelValues("failure").Inc()
			return
		}
		r.PartsTotal.WithLabelValues("success").Inc()
		r.PartSizeBytes.Observe(float64(len(e.Body)))
		r.UploadedBytes.Add(float64(len(e.Body)))
	case upload.EventFinished:
		r.UploadsInProgress.Dec()
		r.UploadsTotal.WithLabelValues("completed").Inc()
	case upload.EventFailed:
		// No session was opened if the failure carries no upload id.
		if e.UploadID != "" {
			r.UploadsInProgress.Dec()
		}
		r.UploadsTotal.WithLabelValues("failed").Inc()
	}
}

// Instrument counts requests served by next.
func (r *Recorder) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(r.HTTPRequestsTotal, next)
}

// Handler exposes the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
