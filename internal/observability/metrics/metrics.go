package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ordersCreated     metric.Int64Counter
	orderTransitions  metric.Int64Counter
	webhookEvents     metric.Int64Counter
	paymentsSettled   metric.Int64Counter
	sideEffects       metric.Int64Counter
	membershipChanges metric.Int64Counter
	registrations     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "memberhub"
	}
	meter := provider.Meter(name)

	ordersCreated, err := meter.Int64Counter("memberhub_orders_created_total")
	if err != nil {
		return nil, err
	}
	orderTransitions, err := meter.Int64Counter("memberhub_order_transitions_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("memberhub_webhook_events_total")
	if err != nil {
		return nil, err
	}
	paymentsSettled, err := meter.Int64Counter("memberhub_payments_settled_total")
	if err != nil {
		return nil, err
	}
	sideEffects, err := meter.Int64Counter("memberhub_fulfillment_total")
	if err != nil {
		return nil, err
	}
	membershipChanges, err := meter.Int64Counter("memberhub_membership_changes_total")
	if err != nil {
		return nil, err
	}
	registrations, err := meter.Int64Counter("memberhub_event_registrations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersCreated:     ordersCreated,
		orderTransitions:  orderTransitions,
		webhookEvents:     webhookEvents,
		paymentsSettled:   paymentsSettled,
		sideEffects:       sideEffects,
		membershipChanges: membershipChanges,
		registrations:     registrations,
	}, nil
}

// RecordOrderCreated counts new orders by origin (member, admin, guest).
func (m *Metrics) RecordOrderCreated(ctx context.Context, source, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("provider", strings.TrimSpace(provider)),
	)
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordOrderTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent counts provider callbacks by outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPaymentSettled(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.paymentsSettled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFulfillment counts post-payment side effects per transaction type.
func (m *Metrics) RecordFulfillment(ctx context.Context, transactionType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("transaction_type", strings.TrimSpace(transactionType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.sideEffects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMembershipChange(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.membershipChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRegistration(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.registrations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":           {},
	"status":           {},
	"status_code":      {},
	"provider":         {},
	"event_type":       {},
	"outcome":          {},
	"transaction_type": {},
	"operation":        {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
