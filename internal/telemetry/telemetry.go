package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/config"
)

// VariantKey 资源属性：当前运行的伴侣变体（aura / elderlink）
const VariantKey = attribute.Key("aura.variant")

// Option 追加资源描述
type Option func(*options)

type options struct {
	version string
	variant string
	logger  *zap.Logger
}

// WithVersion 服务版本，默认 dev
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithVariant 把伴侣变体写进资源属性，便于按变体筛选链路
func WithVariant(v string) Option {
	return func(o *options) { o.variant = v }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{version: "dev", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.String("component", "telemetry"))
	return o
}

// Providers 已安装的 SDK provider。未启用时两者为 nil，Shutdown 为空操作。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Enabled 是否安装了真实的 SDK provider
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Init 按配置安装 OTLP gRPC 导出器。未启用时不连接任何服务，全局 provider 保持 noop。
func Init(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Providers, error) {
	o := buildOptions(opts)

	if !cfg.Enabled {
		o.logger.Info("telemetry disabled")
		return &Providers{}, nil
	}
	if cfg.OTLPEndpoint == "" {
		return nil, errors.New("telemetry enabled without otlp_endpoint")
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if !cfg.TLS {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p, err := install(ctx, cfg, o, sdktrace.WithBatcher(traceExp),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	if err != nil {
		return nil, err
	}

	o.logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.Bool("tls", cfg.TLS),
		zap.String("variant", o.variant),
		zap.Float64("sample_rate", clampRatio(cfg.SampleRate)),
	)
	return p, nil
}

// InitWithExporter 同步导出到 exp，用于测试与本地调试
func InitWithExporter(cfg config.TelemetryConfig, exp sdktrace.SpanExporter, opts ...Option) (*Providers, error) {
	if exp == nil {
		return nil, errors.New("span exporter is nil")
	}
	return install(context.Background(), cfg, buildOptions(opts), sdktrace.WithSyncer(exp))
}

func install(ctx context.Context, cfg config.TelemetryConfig, o options, spans sdktrace.TracerProviderOption, readers ...sdkmetric.Option) (*Providers, error) {
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg, o)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		spans,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRate)))),
	)
	mp := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Providers{tp: tp, mp: mp}, nil
}

func resourceAttrs(cfg config.TelemetryConfig, o options) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "aura"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(o.version),
	}
	if o.variant != "" {
		attrs = append(attrs, VariantKey.String(o.variant))
	}
	return attrs
}

// Shutdown 刷新未导出的数据并关闭导出器
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// clampRatio 采样率限制在 [0, 1]
func clampRatio(r float64) float64 {
	return min(max(r, 0), 1)
}
