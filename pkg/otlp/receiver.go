package otlp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/models"
)

// Content types accepted on the OTLP/HTTP endpoints.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// DefaultTenant receives unattributed OTLP data in single-tenant mode.
const DefaultTenant = "default"

// ErrUnauthorized rejects a request whose bearer token does not match.
var ErrUnauthorized = errors.New("invalid bearer token")

// ErrTenantRequired rejects unattributed data in multi-tenant mode.
var ErrTenantRequired = errors.New("tenant could not be resolved; set the " + AttrTenantID + " resource attribute")

// ErrUnsupportedContentType rejects bodies that are neither JSON nor protobuf.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ErrMalformedBody wraps protobuf/JSON decode failures.
var ErrMalformedBody = errors.New("malformed request body")

// RateLimitedError carries the retry delay for per-IP refusals.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("otlp rate limit exceeded, retry after %s", e.RetryAfter)
}

// Ingester is the slice of the ingestion pipeline the receiver needs.
type Ingester interface {
	Ingest(ctx context.Context, caller ingest.Caller, inputs []*models.IngestEventInput) (*ingest.Result, error)
}

// Receiver decodes OTLP/HTTP export requests, resolves the target tenant,
// and feeds mapped events through the ingestion pipeline.
type Receiver struct {
	cfg         config.OTLPConfig
	multiTenant bool
	pipeline    Ingester
	ipLimiter   *ingest.IPRateLimiter
}

// NewReceiver wires the OTLP receiver.
func NewReceiver(cfg config.OTLPConfig, multiTenant bool, pipeline Ingester) *Receiver {
	return &Receiver{
		cfg:         cfg,
		multiTenant: multiTenant,
		pipeline:    pipeline,
		ipLimiter:   ingest.NewIPRateLimiter(cfg.PerIPPerMinute),
	}
}

// MaxBodyBytes is the configured request body cap.
func (r *Receiver) MaxBodyBytes() int64 {
	return r.cfg.MaxBodyBytes
}

// Authorize checks the optional bearer token with a constant-time compare.
// An empty configured token leaves the receiver open.
func (r *Receiver) Authorize(authHeader string) error {
	if r.cfg.BearerToken == "" {
		return nil
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(r.cfg.BearerToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// CheckIP applies the per-IP fixed-window limit.
func (r *Receiver) CheckIP(ip string) error {
	allowed, retryAfter := r.ipLimiter.Allow(ip)
	if !allowed {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// HandleTraces decodes and ingests a trace export. Returns the number of
// events written.
func (r *Receiver) HandleTraces(ctx context.Context, contentType string, body []byte, authedTenant string) (int, error) {
	req := &coltracepb.ExportTraceServiceRequest{}
	if err := unmarshalBody(contentType, body, req); err != nil {
		return 0, err
	}

	var resources [][]*commonpb.KeyValue
	for _, rs := range req.GetResourceSpans() {
		resources = append(resources, rs.GetResource().GetAttributes())
	}
	tenantID, err := r.resolveTenant(authedTenant, resources)
	if err != nil {
		return 0, err
	}
	return r.ingest(ctx, tenantID, MapTraces(req))
}

// HandleMetrics decodes and ingests a metric export.
func (r *Receiver) HandleMetrics(ctx context.Context, contentType string, body []byte, authedTenant string) (int, error) {
	req := &colmetricspb.ExportMetricsServiceRequest{}
	if err := unmarshalBody(contentType, body, req); err != nil {
		return 0, err
	}

	var resources [][]*commonpb.KeyValue
	for _, rm := range req.GetResourceMetrics() {
		resources = append(resources, rm.GetResource().GetAttributes())
	}
	tenantID, err := r.resolveTenant(authedTenant, resources)
	if err != nil {
		return 0, err
	}
	return r.ingest(ctx, tenantID, MapMetrics(req))
}

// HandleLogs decodes and ingests a log export.
func (r *Receiver) HandleLogs(ctx context.Context, contentType string, body []byte, authedTenant string) (int, error) {
	req := &collogspb.ExportLogsServiceRequest{}
	if err := unmarshalBody(contentType, body, req); err != nil {
		return 0, err
	}

	var resources [][]*commonpb.KeyValue
	for _, rl := range req.GetResourceLogs() {
		resources = append(resources, rl.GetResource().GetAttributes())
	}
	tenantID, err := r.resolveTenant(authedTenant, resources)
	if err != nil {
		return 0, err
	}
	return r.ingest(ctx, tenantID, MapLogs(req))
}

// resolveTenant applies the precedence auth context → openclaw.tenant_id
// resource attribute → default (refused in multi-tenant mode).
func (r *Receiver) resolveTenant(authedTenant string, resources [][]*commonpb.KeyValue) (string, error) {
	if authedTenant != "" {
		return authedTenant, nil
	}
	if t := resourceTenant(resources...); t != "" {
		return t, nil
	}
	if r.multiTenant {
		return "", ErrTenantRequired
	}
	return DefaultTenant, nil
}

func (r *Receiver) ingest(ctx context.Context, tenantID string, inputs []*models.IngestEventInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}
	result, err := r.pipeline.Ingest(ctx, ingest.Caller{
		TenantID: tenantID,
		OrgID:    tenantID,
		KeyID:    "otlp",
		Tier:     config.TierEnterprise, // OTLP traffic is gated per IP, not per key
	}, inputs)
	if err != nil {
		return 0, err
	}
	return result.Inserted, nil
}

func unmarshalBody(contentType string, body []byte, msg proto.Message) error {
	switch {
	case strings.HasPrefix(contentType, ContentTypeProtobuf):
		if err := proto.Unmarshal(body, msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	case strings.HasPrefix(contentType, ContentTypeJSON):
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	default:
		return ErrUnsupportedContentType
	}
	return nil
}
