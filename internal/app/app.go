// Package app wires every component into one running process: the HTTP
// surface, the two price-feed consumers, the LTV evaluator and the
// liquidation worker pool, plus the startup scan that re-enqueues loans
// already in liquidating status after a crash.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/coruscant-bank/beskar-liquidation/internal/api"
	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/config"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/lifecycle"
	"github.com/coruscant-bank/beskar-liquidation/internal/liquidation"
	"github.com/coruscant-bank/beskar-liquidation/internal/ltv"
	"github.com/coruscant-bank/beskar-liquidation/internal/priceaggregator"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
)

const liquidationQueueDepth = 1024

// App owns every long-lived component of the service. There is no
// mutable global state outside it.
type App struct {
	cfg *config.Config
	log *logger.Logger

	store     store.LoanStore
	prices    *priceaggregator.Aggregator
	publisher events.Publisher
	lease     *liquidation.Lease
	pool      *liquidation.Pool
	evaluator *ltv.Evaluator
	engine    *lifecycle.Engine

	mosEspaConsumer    *priceaggregator.Consumer
	blackSpireConsumer *priceaggregator.Consumer

	httpServer *http.Server
}

// New constructs every component wired per the external interface
// contract, but starts nothing yet.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	clk := clock.Real{}

	st := store.NewMemoryLoanStore(clk)
	prices := priceaggregator.New(clk, cfg.MaxTickAge, log)

	publisher, err := events.NewSaramaPublisher([]string{cfg.BusEndpoint}, cfg.BusLoanEventsTopic, log)
	if err != nil {
		return nil, err
	}

	lease := liquidation.NewLease(cfg.LeaseRedisAddr, cfg.LeaseRedisPassword, cfg.LeaseRedisDB, cfg.LeaseTTL, log)

	venues := []liquidation.VenueClient{
		liquidation.NewMosEspaClient(cfg.VenueAURL, cfg.VenueHTTPTimeout),
		liquidation.NewBlackSpireClient(cfg.VenueBURL, cfg.VenueHTTPTimeout),
	}

	pool := liquidation.NewPool(
		cfg.LiquidationWorkers,
		liquidationQueueDepth,
		st,
		prices,
		publisher,
		lease,
		venues,
		clk,
		500*time.Millisecond,
		cfg.VenueRetryCap,
		log,
	)

	evaluator := ltv.New(st, prices, publisher, pool, cfg.ActivationThresholdPct, cfg.LiquidationThresholdPct, log)
	engine := lifecycle.New(st, publisher, evaluator, log)

	brokers := []string{cfg.BusEndpoint}
	mosEspaConsumer := priceaggregator.NewMosEspaConsumer(brokers, cfg.PriceTopicMosEspa, clk, prices, evaluator, log)
	blackSpireConsumer := priceaggregator.NewBlackSpireConsumer(brokers, cfg.PriceTopicBlackSpire, clk, prices, evaluator, log)

	router := api.NewRouter(engine, log)

	return &App{
		cfg:                cfg,
		log:                log,
		store:              st,
		prices:             prices,
		publisher:          publisher,
		lease:              lease,
		pool:               pool,
		evaluator:          evaluator,
		engine:             engine,
		mosEspaConsumer:    mosEspaConsumer,
		blackSpireConsumer: blackSpireConsumer,
		httpServer:         &http.Server{Addr: cfg.HTTPAddr, Handler: router},
	}, nil
}

// Run starts every long-lived component and blocks until ctx is
// cancelled, then shuts each down in turn.
func (a *App) Run(ctx context.Context) error {
	a.recoverInFlightLiquidations()

	go func() {
		if err := a.mosEspaConsumer.Run(ctx); err != nil {
			a.log.WithError(err).Error("MOS_ESPA price consumer stopped")
		}
	}()
	go func() {
		if err := a.blackSpireConsumer.Run(ctx); err != nil {
			a.log.WithError(err).Error("BLACK_SPIRE price consumer stopped")
		}
	}()

	go func() {
		a.log.WithField("addr", a.cfg.HTTPAddr).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.WithError(err).Error("HTTP server failed")
		}
	}()

	<-ctx.Done()
	return a.shutdown()
}

// recoverInFlightLiquidations re-enqueues every loan already in
// liquidating status, per §4.4's restart-scan recovery story.
func (a *App) recoverInFlightLiquidations() {
	for _, loan := range a.store.ListByStatus(domain.StatusLiquidating) {
		a.log.WithField("loanId", loan.LoanID).Info("recovering in-flight liquidation after restart")
		a.pool.Enqueue(loan.LoanID)
	}
}

func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("HTTP server shutdown error")
	}

	drained := make(chan struct{})
	go func() {
		a.pool.Shutdown()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.log.Warn("shutdown grace period elapsed with liquidation workers still running")
	}

	if err := a.publisher.Close(); err != nil {
		a.log.WithError(err).Error("event publisher close error")
	}
	if err := a.lease.Close(); err != nil {
		a.log.WithError(err).Error("lease client close error")
	}

	return nil
}
