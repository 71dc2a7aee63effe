package output

import (
	"github.com/cenecahq/ceneca/adapter"
)

type (
	// UnifiedResult composes all captures of a session into one response.
	UnifiedResult struct {
		// Rows is the combined row set across raw-data captures.
		Rows adapter.Rows `json:"rows"`
		// SQL echoes the synthesized query, when one exists.
		SQL string `json:"sql,omitempty"`
		// Analysis is the final synthesis text.
		Analysis string `json:"analysis,omitempty"`
		// Success is true when at least one row was captured and the tool
		// success rate is at least 0.5.
		Success bool `json:"success"`
		// SessionID echoes the owning session.
		SessionID string `json:"session_id"`
		// WorkflowMetadata echoes the aggregator's metadata.
		WorkflowMetadata map[string]any `json:"workflow_metadata,omitempty"`
		// ExecutionDetails summarizes tool executions.
		ExecutionDetails ExecutionDetails `json:"execution_details"`
		// PerformanceMetrics merges all performance captures.
		PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
		// QualityIndicators reports data-quality signals.
		QualityIndicators QualityIndicators `json:"quality_indicators"`
		// WorkflowTimeline orders all captures by timestamp.
		WorkflowTimeline []TimelineEntry `json:"workflow_timeline"`
		// PlanInfo summarizes the captured plan, when one exists.
		PlanInfo *PlanCapture `json:"plan_info,omitempty"`
		// OperationResults lists per-operation tool outcomes.
		OperationResults []ToolExecCapture `json:"operation_results,omitempty"`
	}

	// ExecutionDetails summarizes tool executions for a session.
	ExecutionDetails struct {
		// ToolsExecuted counts tool invocations.
		ToolsExecuted int `json:"tools_executed"`
		// ToolsSucceeded counts successful invocations.
		ToolsSucceeded int `json:"tools_succeeded"`
		// SuccessRate is ToolsSucceeded / ToolsExecuted, or 1 when none ran.
		SuccessRate float64 `json:"success_rate"`
	}

	// QualityIndicators reports data-quality signals for a session.
	QualityIndicators struct {
		// RowCount is the total rows captured.
		RowCount int `json:"row_count"`
		// SourcesQueried counts distinct source kinds that produced rows.
		SourcesQueried int `json:"sources_queried"`
		// HasSynthesis reports whether a final synthesis exists.
		HasSynthesis bool `json:"has_synthesis"`
	}

	// APIResponse is the API-facing reshape of a unified result.
	APIResponse struct {
		Success   bool           `json:"success"`
		SessionID string         `json:"session_id"`
		Rows      adapter.Rows   `json:"rows"`
		RowCount  int            `json:"row_count"`
		SQL       string         `json:"sql,omitempty"`
		Analysis  string         `json:"analysis,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
		Timeline  []TimelineEntry `json:"timeline,omitempty"`
	}
)

// successRateThreshold is the minimum tool success rate for a successful run.
const successRateThreshold = 0.5

// AllRawData returns every raw-data capture in timestamp order.
func (a *Aggregator) AllRawData() []RawDataCapture {
	var out []RawDataCapture
	for _, c := range a.snapshot() {
		if c.Type == CaptureRawData && c.RawData != nil {
			out = append(out, *c.RawData)
		}
	}
	return out
}

// AllExecutionPlans returns every plan capture in timestamp order.
func (a *Aggregator) AllExecutionPlans() []PlanCapture {
	var out []PlanCapture
	for _, c := range a.snapshot() {
		if c.Type == CaptureExecutionPlan && c.Plan != nil {
			out = append(out, *c.Plan)
		}
	}
	return out
}

// AllToolExecutions returns every tool-execution capture in timestamp order.
func (a *Aggregator) AllToolExecutions() []ToolExecCapture {
	var out []ToolExecCapture
	for _, c := range a.snapshot() {
		if c.Type == CaptureToolExecution && c.ToolExec != nil {
			out = append(out, *c.ToolExec)
		}
	}
	return out
}

// FinalSynthesis returns the most recent synthesis capture, or nil.
func (a *Aggregator) FinalSynthesis() *SynthesisCapture {
	outputs := a.snapshot()
	for i := len(outputs) - 1; i >= 0; i-- {
		if outputs[i].Type == CaptureFinalSynthesis && outputs[i].Synthesis != nil {
			s := *outputs[i].Synthesis
			return &s
		}
	}
	return nil
}

// PerformanceSummary merges every performance capture, later captures
// overriding earlier values for the same metric.
func (a *Aggregator) PerformanceSummary() map[string]float64 {
	merged := make(map[string]float64)
	for _, c := range a.snapshot() {
		if c.Type != CapturePerformanceMetrics || c.Perf == nil {
			continue
		}
		for k, v := range c.Perf.Metrics {
			merged[k] = v
		}
		if c.Perf.TotalDurationMs > 0 {
			merged["total_duration_ms"] = float64(c.Perf.TotalDurationMs)
		}
	}
	return merged
}

// WorkflowTimeline returns every capture's envelope in timestamp order.
func (a *Aggregator) WorkflowTimeline() []TimelineEntry {
	outputs := a.snapshot()
	out := make([]TimelineEntry, len(outputs))
	for i, c := range outputs {
		out[i] = TimelineEntry{OutputID: c.OutputID, Type: c.Type, Timestamp: c.Timestamp, NodeID: c.NodeID}
	}
	return out
}

// CreateUnifiedResult composes all captures into a single response. The
// result is deterministic given the capture log.
func (a *Aggregator) CreateUnifiedResult() UnifiedResult {
	a.mu.Lock()
	meta := a.meta
	a.mu.Unlock()

	outputs := a.snapshot()

	var (
		rows      adapter.Rows
		toolExecs []ToolExecCapture
		synthesis *SynthesisCapture
		planInfo  *PlanCapture
		kinds     = make(map[string]struct{})
		timeline  = make([]TimelineEntry, 0, len(outputs))
	)
	perf := make(map[string]float64)
	for _, c := range outputs {
		timeline = append(timeline, TimelineEntry{OutputID: c.OutputID, Type: c.Type, Timestamp: c.Timestamp, NodeID: c.NodeID})
		switch c.Type {
		case CaptureRawData:
			if c.RawData != nil {
				rows = append(rows, c.RawData.Rows...)
				if len(c.RawData.Rows) > 0 {
					kinds[c.RawData.SourceKind] = struct{}{}
				}
			}
		case CaptureExecutionPlan:
			if c.Plan != nil {
				p := *c.Plan
				planInfo = &p
			}
		case CaptureToolExecution:
			if c.ToolExec != nil {
				toolExecs = append(toolExecs, *c.ToolExec)
			}
		case CaptureFinalSynthesis:
			if c.Synthesis != nil {
				s := *c.Synthesis
				synthesis = &s
			}
		case CapturePerformanceMetrics:
			if c.Perf != nil {
				for k, v := range c.Perf.Metrics {
					perf[k] = v
				}
				if c.Perf.TotalDurationMs > 0 {
					perf["total_duration_ms"] = float64(c.Perf.TotalDurationMs)
				}
			}
		case CaptureStreamingEvent:
			// Timeline entry only.
		}
	}

	details := ExecutionDetails{ToolsExecuted: len(toolExecs), SuccessRate: 1}
	for _, t := range toolExecs {
		if t.Success {
			details.ToolsSucceeded++
		}
	}
	if details.ToolsExecuted > 0 {
		details.SuccessRate = float64(details.ToolsSucceeded) / float64(details.ToolsExecuted)
	}

	result := UnifiedResult{
		Rows:               rows,
		Success:            len(rows) > 0 && details.SuccessRate >= successRateThreshold,
		SessionID:          a.sessionID,
		WorkflowMetadata:   meta,
		ExecutionDetails:   details,
		PerformanceMetrics: perf,
		QualityIndicators: QualityIndicators{
			RowCount:       len(rows),
			SourcesQueried: len(kinds),
			HasSynthesis:   synthesis != nil,
		},
		WorkflowTimeline: timeline,
		PlanInfo:         planInfo,
		OperationResults: toolExecs,
	}
	if synthesis != nil {
		result.SQL = synthesis.SQL
		result.Analysis = synthesis.Analysis
	}
	return result
}

// CreateAPIResponse reshapes the unified result for API consumers.
func (a *Aggregator) CreateAPIResponse() APIResponse {
	u := a.CreateUnifiedResult()
	meta := map[string]any{
		"tools_executed":    u.ExecutionDetails.ToolsExecuted,
		"tool_success_rate": u.ExecutionDetails.SuccessRate,
		"sources_queried":   u.QualityIndicators.SourcesQueried,
	}
	for k, v := range u.WorkflowMetadata {
		meta[k] = v
	}
	if d, ok := u.PerformanceMetrics["total_duration_ms"]; ok {
		meta["total_duration_ms"] = d
	}
	return APIResponse{
		Success:   u.Success,
		SessionID: u.SessionID,
		Rows:      u.Rows,
		RowCount:  len(u.Rows),
		SQL:       u.SQL,
		Analysis:  u.Analysis,
		Metadata:  meta,
		Timeline:  u.WorkflowTimeline,
	}
}
