// Package telemetry configures OpenTelemetry tracing for the API and its tools.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

const defaultServiceName = "aylf-api"

// Config selects the exporter. An empty Endpoint keeps spans in-process.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	// Headers is a comma separated k=v list sent with every export.
	Headers  string
	Insecure bool
	// Required makes exporter setup failures fatal instead of falling back.
	Required   bool
	Sampler    string
	SamplerArg string
	Timeout    time.Duration
}

// Init installs the global tracer provider and propagator and returns its
// shutdown function.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, append(attrs, resource.WithSchemaURL(semconv.SchemaURL))...)
	if err != nil {
		res = resource.Default()
	}
	sampler := parseSampler(cfg.Sampler, cfg.SamplerArg)

	install := func(opts ...trace.TracerProviderOption) func(context.Context) error {
		tp := trace.NewTracerProvider(append([]trace.TracerProviderOption{
			trace.WithResource(res),
			trace.WithSampler(sampler),
		}, opts...)...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		return tp.Shutdown
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return install(), nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if headers := parseHeaders(cfg.Headers); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		if cfg.Required {
			return nil, err
		}
		obs.Logger().WarnContext(ctx, "otel_exporter_disabled", "error", obs.Redact(err.Error()))
		return install(), nil
	}
	return install(trace.WithBatcher(exporter)), nil
}

func parseSampler(name, arg string) trace.Sampler {
	ratio := 1.0
	if arg = strings.TrimSpace(arg); arg != "" {
		if val, err := strconv.ParseFloat(arg, 64); err == nil {
			ratio = min(max(val, 0), 1)
		}
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}

// HTTPMiddleware starts a server span per request.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return otelhttp.NewMiddleware(serviceName)
}

// InstrumentClient wraps client's transport so outgoing requests carry the
// trace context.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
