package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type refresher interface {
	Refresh(ctx context.Context) error
}

// CatalogRefresher keeps the cached model catalog warm so catalog requests
// rarely wait on the provider.
type CatalogRefresher struct {
	catalog  refresher
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewCatalogRefresher(catalog refresher, interval time.Duration) *CatalogRefresher {
	return &CatalogRefresher{
		catalog:  catalog,
		interval: interval,
		timeout:  30 * time.Second,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start refreshes once immediately and then every interval until Stop.
func (r *CatalogRefresher) Start() {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			r.refresh()
			select {
			case <-r.stopChan:
				log.Debug().Msg("catalog refresher shutting down")
				return
			case <-ticker.C:
			}
		}
	}()

	log.Info().Dur("interval", r.interval).Msg("catalog refresher started")
}

// Stop ends the refresh loop and waits for an in-flight refresh to finish.
func (r *CatalogRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.done
}

func (r *CatalogRefresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.catalog.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("model catalog refresh failed")
	}
}
