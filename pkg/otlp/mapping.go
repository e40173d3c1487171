// Package otlp receives OTLP/HTTP trace, metric, and log exports and maps
// them onto ingestion events.
//
// Mapping table:
//
//	span "openclaw.model.usage"    → llm_call
//	span "openclaw.tool.execution" → tool_call
//	any other span                 → custom
//	metric "openclaw.cost.usd"     → cost_tracked (one event per data point)
//	log record                     → custom, severity mapped from the record
//
// Session and agent identity resolve from the openclaw.session_id and
// openclaw.agent_id attributes (span/record first, then resource), falling
// back to the hex trace id and the resource service.name.
package otlp

import (
	"encoding/hex"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/agentlens/agentlens/pkg/models"
)

// OpenClaw attribute and signal names recognized by the mapper.
const (
	AttrTenantID  = "openclaw.tenant_id"
	AttrSessionID = "openclaw.session_id"
	AttrAgentID   = "openclaw.agent_id"
	AttrProvider  = "openclaw.provider"
	AttrModel     = "openclaw.model"

	SpanModelUsage    = "openclaw.model.usage"
	SpanToolExecution = "openclaw.tool.execution"
	MetricCostUsd     = "openclaw.cost.usd"
)

const fallbackAgentID = "otlp"

// attrMap flattens a KeyValue list into plain Go values.
func attrMap(kvs []*commonpb.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[kv.GetKey()] = anyValue(kv.GetValue())
	}
	return out
}

func anyValue(v *commonpb.AnyValue) any {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonpb.AnyValue_ArrayValue:
		items := make([]any, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			items = append(items, anyValue(item))
		}
		return items
	case *commonpb.AnyValue_KvlistValue:
		return attrMap(val.KvlistValue.GetValues())
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	}
	return nil
}

func stringAttr(attrs map[string]any, key string) string {
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}

func numberAttr(attrs map[string]any, key string) float64 {
	switch v := attrs[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// identity resolves (sessionId, agentId) with record attributes taking
// precedence over resource attributes.
func identity(record, resource map[string]any, fallbackSession string) (string, string) {
	sessionID := stringAttr(record, AttrSessionID)
	if sessionID == "" {
		sessionID = stringAttr(resource, AttrSessionID)
	}
	if sessionID == "" {
		sessionID = fallbackSession
	}

	agentID := stringAttr(record, AttrAgentID)
	if agentID == "" {
		agentID = stringAttr(resource, AttrAgentID)
	}
	if agentID == "" {
		agentID = stringAttr(resource, "service.name")
	}
	if agentID == "" {
		agentID = fallbackAgentID
	}
	return sessionID, agentID
}

// resourceTenant returns the first openclaw.tenant_id resource attribute in
// the request, searching all resource blocks.
func resourceTenant(resources ...[]*commonpb.KeyValue) string {
	for _, kvs := range resources {
		if t := stringAttr(attrMap(kvs), AttrTenantID); t != "" {
			return t
		}
	}
	return ""
}

func unixNano(n uint64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, int64(n)).UTC()
	return &t
}

// MapTraces converts an OTLP trace export into ingestion inputs, preserving
// span order within each scope.
func MapTraces(req *coltracepb.ExportTraceServiceRequest) []*models.IngestEventInput {
	var inputs []*models.IngestEventInput
	for _, rs := range req.GetResourceSpans() {
		resource := attrMap(rs.GetResource().GetAttributes())
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				inputs = append(inputs, mapSpan(span, resource))
			}
		}
	}
	return inputs
}

func mapSpan(span *tracepb.Span, resource map[string]any) *models.IngestEventInput {
	attrs := attrMap(span.GetAttributes())
	traceID := hex.EncodeToString(span.GetTraceId())
	spanID := hex.EncodeToString(span.GetSpanId())
	sessionID, agentID := identity(attrs, resource, traceID)

	durationMs := int64(0)
	if span.GetEndTimeUnixNano() > span.GetStartTimeUnixNano() {
		durationMs = int64(span.GetEndTimeUnixNano()-span.GetStartTimeUnixNano()) / int64(time.Millisecond)
	}

	in := &models.IngestEventInput{
		Timestamp: unixNano(span.GetStartTimeUnixNano()),
		SessionID: sessionID,
		AgentID:   agentID,
		Metadata: map[string]any{
			"source":  "otlp",
			"traceId": traceID,
			"spanId":  spanID,
		},
	}

	switch span.GetName() {
	case SpanModelUsage:
		in.EventType = models.EventLLMCall
		in.Payload = map[string]any{
			"callId":   spanID,
			"provider": orDefault(stringAttr(attrs, AttrProvider), "unknown"),
			"model":    orDefault(stringAttr(attrs, AttrModel), "unknown"),
		}
	case SpanToolExecution:
		in.EventType = models.EventToolCall
		args := attrs
		if args == nil {
			args = map[string]any{}
		}
		in.Payload = map[string]any{
			"toolName":  orDefault(stringAttr(attrs, "openclaw.tool_name"), span.GetName()),
			"callId":    spanID,
			"arguments": args,
		}
	default:
		in.EventType = models.EventCustom
		in.Payload = map[string]any{
			"name":       span.GetName(),
			"durationMs": durationMs,
		}
		if len(attrs) > 0 {
			in.Payload["attributes"] = attrs
		}
	}

	if span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
		in.Severity = models.SeverityError
	}
	return in
}

// MapMetrics converts an OTLP metric export. Only openclaw.cost.usd points
// become events; all other metrics are ignored.
func MapMetrics(req *colmetricspb.ExportMetricsServiceRequest) []*models.IngestEventInput {
	var inputs []*models.IngestEventInput
	for _, rm := range req.GetResourceMetrics() {
		resource := attrMap(rm.GetResource().GetAttributes())
		for _, sm := range rm.GetScopeMetrics() {
			for _, metric := range sm.GetMetrics() {
				if metric.GetName() != MetricCostUsd {
					continue
				}
				for _, dp := range numberDataPoints(metric) {
					inputs = append(inputs, mapCostPoint(dp, resource))
				}
			}
		}
	}
	return inputs
}

func numberDataPoints(metric *metricspb.Metric) []*metricspb.NumberDataPoint {
	switch data := metric.GetData().(type) {
	case *metricspb.Metric_Gauge:
		return data.Gauge.GetDataPoints()
	case *metricspb.Metric_Sum:
		return data.Sum.GetDataPoints()
	}
	return nil
}

func mapCostPoint(dp *metricspb.NumberDataPoint, resource map[string]any) *models.IngestEventInput {
	attrs := attrMap(dp.GetAttributes())
	sessionID, agentID := identity(attrs, resource, "otlp-metrics")

	cost := dp.GetAsDouble()
	if cost == 0 {
		cost = float64(dp.GetAsInt())
	}

	return &models.IngestEventInput{
		Timestamp: unixNano(dp.GetTimeUnixNano()),
		SessionID: sessionID,
		AgentID:   agentID,
		EventType: models.EventCostTracked,
		Payload: map[string]any{
			"provider":     orDefault(stringAttr(attrs, AttrProvider), "unknown"),
			"model":        orDefault(stringAttr(attrs, AttrModel), "unknown"),
			"inputTokens":  numberAttr(attrs, "openclaw.input_tokens"),
			"outputTokens": numberAttr(attrs, "openclaw.output_tokens"),
			"totalTokens":  numberAttr(attrs, "openclaw.total_tokens"),
			"costUsd":      cost,
		},
		Metadata: map[string]any{"source": "otlp"},
	}
}

// MapLogs converts an OTLP log export into custom events with severity
// mapped from the record's severity number.
func MapLogs(req *collogspb.ExportLogsServiceRequest) []*models.IngestEventInput {
	var inputs []*models.IngestEventInput
	for _, rl := range req.GetResourceLogs() {
		resource := attrMap(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			for _, record := range sl.GetLogRecords() {
				inputs = append(inputs, mapLogRecord(record, resource))
			}
		}
	}
	return inputs
}

func mapLogRecord(record *logspb.LogRecord, resource map[string]any) *models.IngestEventInput {
	attrs := attrMap(record.GetAttributes())
	traceID := hex.EncodeToString(record.GetTraceId())
	fallbackSession := traceID
	if fallbackSession == "" {
		fallbackSession = "otlp-logs"
	}
	sessionID, agentID := identity(attrs, resource, fallbackSession)

	payload := map[string]any{
		"name": "log",
		"body": anyValue(record.GetBody()),
	}
	if len(attrs) > 0 {
		payload["attributes"] = attrs
	}

	return &models.IngestEventInput{
		Timestamp: unixNano(record.GetTimeUnixNano()),
		SessionID: sessionID,
		AgentID:   agentID,
		EventType: models.EventCustom,
		Severity:  logSeverity(record.GetSeverityNumber()),
		Payload:   payload,
		Metadata:  map[string]any{"source": "otlp"},
	}
}

// logSeverity maps OTLP severity numbers (1-24) onto the event scale.
func logSeverity(n logspb.SeverityNumber) models.Severity {
	switch {
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_FATAL:
		return models.SeverityCritical
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return models.SeverityError
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_WARN:
		return models.SeverityWarn
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_INFO:
		return models.SeverityInfo
	case n > 0:
		return models.SeverityDebug
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
