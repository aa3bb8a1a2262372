package fiat

import (
	"context"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/rs/zerolog"
)

// Sweeper periodically evicts expired pending requests and funnels.
// Expiry is still evaluated lazily on every status check; the sweeper
// just keeps the pending stores from accumulating dead entries.
type Sweeper struct {
	gateway  *Gateway
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(conf rail.Config, gateway *Gateway, log zerolog.Logger) Sweeper {
	return Sweeper{
		gateway:  gateway,
		interval: time.Duration(conf.Funnel.SweepSeconds) * time.Second,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Implements conductor.Service
func (s Sweeper) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		ticker := time.NewTicker(s.interval)
		started <- true
		for {
			select {
			case <-stop:
				ticker.Stop()
				stopped <- true
				return
			case <-ticker.C:
				if n := s.gateway.CleanupExpired(); n > 0 {
					s.log.Info().Int("evicted", n).Msg("swept expired payment requests")
				}
			}
		}
	}()
	return nil
}
