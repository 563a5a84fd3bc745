package httpapi

import (
	"net/http"
	"time"

	"github.com/agenttunnel/gateway/internal/store"
)

type statusResponse struct {
	Status              string   `json:"status"`
	Mode                string   `json:"mode"`
	UptimeSeconds       int64    `json:"uptime_seconds"`
	Tunnels             []string `json:"tunnels"`
	TunnelsPipelineMode int      `json:"tunnels_pipeline_mode"`
	WorkerCount         int      `json:"worker_count"`
	Runs                runStats `json:"runs"`
}

type runStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Aborted   int `json:"aborted"`
	Failed    int `json:"failed"`
}

// Status handles GET /status (§4.5, unauthenticated). The aggregate counts
// are computed fresh on every call — at gateway scale this is cheap
// enough not to warrant caching, and a cached value would just be one
// more thing that could go stale relative to the stores it's counting.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	tunnels := s.tunnels.List()
	names := make([]string, 0, len(tunnels))
	pipelineCount := 0
	for _, t := range tunnels {
		names = append(names, t.Name)
		if t.IsPipeline() {
			pipelineCount++
		}
	}

	workerCount := 0
	for _, c := range s.credentials.List("") {
		if c.Tier == store.TierWorker {
			workerCount++
		}
	}

	runs := s.pipelines.List()
	stats := runStats{Total: len(runs)}
	for _, run := range runs {
		switch run.Status {
		case store.RunCompleted:
			stats.Completed++
		case store.RunAborted:
			stats.Aborted++
		case store.RunFailed:
			stats.Failed++
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:              "ok",
		Mode:                "gateway",
		UptimeSeconds:       int64(time.Since(s.startedAt).Seconds()),
		Tunnels:             names,
		TunnelsPipelineMode: pipelineCount,
		WorkerCount:         workerCount,
		Runs:                stats,
	})
}
