package cli

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joeycumines/go-scheduler"
	"github.com/joeycumines/go-scheduler/internal/workload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	statsSource interface {
		Stats() []scheduler.QueueStats
	}

	summarySource interface {
		Summary() []workload.TaskSummary
	}

	queueStatsJSON struct {
		Run            *runStatsJSON `json:"run,omitempty"`
		Priority       string        `json:"priority"`
		Processing     int           `json:"processing"`
		Pending        int           `json:"pending"`
		Delayed        int           `json:"delayed"`
		InFlight       int           `json:"inflight"`
		Pooled         int           `json:"pooled"`
		Queued         uint64        `json:"queued"`
		Completed      uint64        `json:"completed"`
		Canceled       uint64        `json:"canceled"`
		Failed         uint64        `json:"failed"`
		Rearmed        uint64        `json:"rearmed"`
		Flushes        uint64        `json:"flushes"`
		Unhandled      uint64        `json:"unhandled"`
		FlushRequested bool          `json:"flush_requested"`
	}

	runStatsJSON struct {
		P50   string  `json:"p50"`
		P90   string  `json:"p90"`
		P99   string  `json:"p99"`
		Max   string  `json:"max"`
		Mean  string  `json:"mean"`
		Count int     `json:"count"`
		TPS   float64 `json:"tps"`
	}
)

// newRouter serves prometheus metrics from gatherer, and JSON snapshots of
// the scheduler and workload.
func newRouter(gatherer prometheus.Gatherer, stats statsSource, tasks summarySource) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, queueStatsToJSON(stats.Stats()))
		})
		r.Get("/tasks", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, tasks.Summary())
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(data)
}

func queueStatsToJSON(stats []scheduler.QueueStats) []queueStatsJSON {
	out := make([]queueStatsJSON, len(stats))
	for i, s := range stats {
		out[i] = queueStatsJSON{
			Priority:       s.Priority.String(),
			Processing:     s.Processing,
			Pending:        s.Pending,
			Delayed:        s.Delayed,
			InFlight:       s.InFlight,
			Pooled:         s.Pooled,
			Queued:         s.Queued,
			Completed:      s.Completed,
			Canceled:       s.Canceled,
			Failed:         s.Failed,
			Rearmed:        s.Rearmed,
			Flushes:        s.Flushes,
			Unhandled:      s.Unhandled,
			FlushRequested: s.FlushRequested,
		}
		if s.Run != nil {
			out[i].Run = &runStatsJSON{
				P50:   s.Run.P50.String(),
				P90:   s.Run.P90.String(),
				P99:   s.Run.P99.String(),
				Max:   s.Run.Max.String(),
				Mean:  s.Run.Mean.String(),
				Count: s.Run.Count,
				TPS:   s.Run.TPS,
			}
		}
	}
	return out
}
