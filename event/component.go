package event

import (
	"context"

	"github.com/KOMKZ/go-yogan-pipebus/component"
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"go.uber.org/zap"
)

// Component event bus component
type Component struct {
	bus     *Bus
	metrics *EventMetrics
	logger  *logger.CtxZapLogger
	config  Config
	opts    []Option
}

// NewComponent creates the component; opts are applied after the config
// derived options when the bus is built
func NewComponent(opts ...Option) *Component {
	return &Component{opts: opts}
}

// Name returns the component name
func (c *Component) Name() string {
	return component.ComponentEvent
}

// DependsOn returns the components initialized before this one
func (c *Component) DependsOn() []string {
	return []string{
		component.ComponentConfig,
		component.ComponentLogger,
		"optional:" + component.ComponentTelemetry,
	}
}

// Init loads the "event" config and builds the bus
func (c *Component) Init(ctx context.Context, loader component.ConfigLoader) error {
	c.logger = logger.GetLogger("yogan")
	c.logger.DebugCtx(ctx, "event component initializing")

	c.config = DefaultConfig()
	if loader != nil && loader.IsSet("event") {
		if err := loader.Unmarshal("event", &c.config); err != nil {
			return err
		}
	} else {
		c.logger.DebugCtx(ctx, "using default event config")
	}
	if err := c.config.validate(); err != nil {
		return err
	}

	if !c.config.Enabled {
		c.logger.InfoCtx(ctx, "event component disabled")
		return nil
	}

	opts := append([]Option{WithLogger(c.logger)}, c.config.Options()...)
	if c.config.Metrics {
		c.metrics = NewEventMetrics(EventMetricsConfig{Enabled: true, RecordPipelineGauge: true})
		opts = append(opts, WithMetrics(c.metrics))
	}
	c.bus = New(append(opts, c.opts...)...)

	c.logger.InfoCtx(ctx, "event component initialized",
		zap.String("bus_id", c.bus.ID()),
		zap.Int("pool_size", c.config.PoolSize),
		zap.Int("safety_rules", len(c.config.Safety)))
	return nil
}

// Start starts the component
func (c *Component) Start(ctx context.Context) error {
	return nil
}

// Stop closes the bus worker pool
func (c *Component) Stop(ctx context.Context) error {
	if c.bus != nil {
		c.bus.Close()
		c.logger.InfoCtx(ctx, "event component stopped")
	}
	return nil
}

// Check implements component.HealthChecker; a disabled component is healthy
func (c *Component) Check(ctx context.Context) error {
	if c.bus != nil && c.bus.closed.Load() {
		return ErrBusClosed
	}
	return nil
}

// GetBus returns the bus, nil when disabled or not initialized
func (c *Component) GetBus() *Bus {
	return c.bus
}

// GetMetrics returns the metrics provider, nil unless metrics are enabled
func (c *Component) GetMetrics() *EventMetrics {
	return c.metrics
}

// GetConfig returns the loaded config
func (c *Component) GetConfig() Config {
	return c.config
}

// IsEnabled reports whether the bus was built
func (c *Component) IsEnabled() bool {
	return c.config.Enabled && c.bus != nil
}
