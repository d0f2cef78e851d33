package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's Prometheus instruments. A Metrics value is
// always usable; exposing it over HTTP is optional.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsSeen         prometheus.Counter
	PacketsDropped      prometheus.Counter
	SegmentsReassembled prometheus.Counter
	FramesDecoded       prometheus.Counter
	ParseAnomalies      prometheus.Counter
	DecompressFailures  prometheus.Counter
	OpcodesDispatched   *prometheus.CounterVec
	RecordsDropped      prometheus.Counter
	EncounterActive     prometheus.Gauge
	HistoryLength       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PacketsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_packets_seen_total",
			Help: "TCP packets observed on capture interfaces.",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_packets_dropped_total",
			Help: "Packets dropped before reassembly because their flow is not a known game server.",
		}),
		SegmentsReassembled: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_segments_reassembled_total",
			Help: "TCP segments appended to the active flow's stream.",
		}),
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_frames_decoded_total",
			Help: "Application frames extracted from the reassembled stream.",
		}),
		ParseAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_parse_anomalies_total",
			Help: "Frames dropped for malformed headers or bodies.",
		}),
		DecompressFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_decompress_failures_total",
			Help: "Frames dropped because zstd decompression failed.",
		}),
		OpcodesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_opcodes_dispatched_total",
			Help: "Records enqueued for the encounter engine, by opcode.",
		}, []string{"opcode"}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "meter_records_dropped_total",
			Help: "Records dropped because the engine queue was full.",
		}),
		EncounterActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meter_encounter_active",
			Help: "1 while an encounter is active.",
		}),
		HistoryLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meter_encounter_history_length",
			Help: "Number of retained finalized encounters.",
		}),
	}
}

// Serve exposes the registry on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics endpoint stopped", zap.Error(err))
	}
}
