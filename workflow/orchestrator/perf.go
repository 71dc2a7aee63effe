package orchestrator

import (
	"time"
)

type (
	// perfSample is one completed request on a route.
	perfSample struct {
		at       time.Time
		duration time.Duration
		success  bool
	}

	// RouteReport summarizes recent requests on one route.
	RouteReport struct {
		// Route names the reported route.
		Route Route `json:"route"`
		// Samples counts the retained requests, capped at perfWindow.
		Samples int `json:"samples"`
		// SuccessRate is the fraction of successful requests.
		SuccessRate float64 `json:"success_rate"`
		// MeanDurationMs is the average request wall-clock time.
		MeanDurationMs float64 `json:"mean_duration_ms"`
	}

	// OptimizationReport compares route performance and grades readiness to
	// migrate traffic to the graph path.
	OptimizationReport struct {
		// Routes reports each route with at least one sample.
		Routes map[Route]RouteReport `json:"routes"`
		// MigrationReady is true when the graph path has enough samples and
		// its success rate is at least the traditional path's.
		MigrationReady bool `json:"migration_ready"`
		// Recommendation is a short human-readable summary.
		Recommendation string `json:"recommendation"`
	}
)

// perfWindow caps how many samples each route retains.
const perfWindow = 100

// migrationMinSamples is the smallest graph-path sample count the
// migration-readiness check accepts.
const migrationMinSamples = 20

// record appends a sample to the route's window, dropping the oldest when
// the window is full.
func (o *Orchestrator) record(route Route, duration time.Duration, success bool) {
	o.perfMu.Lock()
	defer o.perfMu.Unlock()
	samples := append(o.perf[route], perfSample{at: o.now().UTC(), duration: duration, success: success})
	if len(samples) > perfWindow {
		samples = samples[len(samples)-perfWindow:]
	}
	o.perf[route] = samples
}

// report summarizes one route's window. Callers hold perfMu.
func report(route Route, samples []perfSample) RouteReport {
	r := RouteReport{Route: route, Samples: len(samples)}
	if len(samples) == 0 {
		return r
	}
	var ok int
	var total time.Duration
	for _, s := range samples {
		if s.success {
			ok++
		}
		total += s.duration
	}
	r.SuccessRate = float64(ok) / float64(len(samples))
	r.MeanDurationMs = float64(total.Milliseconds()) / float64(len(samples))
	return r
}

// OptimizeFutureQueries reports per-route success rate and mean time over the
// retained windows and whether traffic is ready to migrate to the graph path.
func (o *Orchestrator) OptimizeFutureQueries() OptimizationReport {
	o.perfMu.Lock()
	defer o.perfMu.Unlock()

	out := OptimizationReport{Routes: make(map[Route]RouteReport, len(o.perf))}
	for route, samples := range o.perf {
		if len(samples) > 0 {
			out.Routes[route] = report(route, samples)
		}
	}

	lg, hasGraph := out.Routes[RouteLangGraph]
	trad, hasTrad := out.Routes[RouteTraditional]
	switch {
	case !hasGraph || lg.Samples < migrationMinSamples:
		out.Recommendation = "not enough graph-path samples to compare routes"
	case hasTrad && lg.SuccessRate < trad.SuccessRate:
		out.Recommendation = "graph path trails traditional success rate; keep routing split"
	default:
		out.MigrationReady = true
		out.Recommendation = "graph path matches or beats traditional; safe to shift traffic"
	}
	return out
}
