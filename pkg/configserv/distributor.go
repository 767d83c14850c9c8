package configserv

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/types"
)

// Config holds distributor settings. Zero values select the defaults.
type Config struct {
	// RecomputeConcurrency bounds the keys recomputed in parallel
	RecomputeConcurrency int
	// RetryInterval is the pause before relisting a failed feed
	RetryInterval time.Duration
	// Encoder overrides EncodeItems
	Encoder Encoder
}

func (c Config) withDefaults() Config {
	if c.RecomputeConcurrency <= 0 {
		c.RecomputeConcurrency = 8
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	return c
}

// Distributor feeds a Registry from the cluster resource feed
type Distributor struct {
	feed     events.Feed[*types.Resource]
	registry *Registry
	cfg      Config
	logger   zerolog.Logger
}

// NewDistributor creates a distributor and its registry
func NewDistributor(feed events.Feed[*types.Resource], cfg Config) *Distributor {
	cfg = cfg.withDefaults()
	return &Distributor{
		feed:     feed,
		registry: NewRegistry(cfg.Encoder),
		cfg:      cfg,
		logger:   log.WithComponent("distributor"),
	}
}

// Registry returns the registry subscribers attach to
func (d *Distributor) Registry() *Registry {
	return d.registry
}

// Run consumes the feed until ctx is done. Every event is followed by a
// recompute of every live key.
func (d *Distributor) Run(ctx context.Context) error {
	d.logger.Info().Int("concurrency", d.cfg.RecomputeConcurrency).Msg("Starting config distributor")

	w := &events.Watcher[*types.Resource]{
		Feed: d.feed,
		Handle: func(e *events.Event[*types.Resource]) {
			d.registry.apply(e)
			d.registry.recomputeAll(d.cfg.RecomputeConcurrency)
		},
		OnDisconnect: func(err error) {
			d.logger.Warn().Err(err).Msg("Resource watch lost, relisting")
		},
		RetryInterval: d.cfg.RetryInterval,
	}
	err := w.Run(ctx)
	d.logger.Info().Msg("Config distributor stopped")
	return err
}
