// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package initapp

import (
	"context"
	"log"
	"time"

	"maystream/cache"
	"maystream/calendar"
	"maystream/config"
	"maystream/marketapi"
	"maystream/marketval"
	"maystream/pipeline"
	"maystream/providers/alpaca"
	"maystream/providers/yahoo"
	"maystream/replay"
	"maystream/router"
)

// Consumer receives the shaped market data stream, live or replayed.
type Consumer interface {
	ProcessMarketData(data any)
}

// logConsumer is the default sink when no strategy is attached.
type logConsumer struct{}

func (logConsumer) ProcessMarketData(data any) {
	log.Printf("market data: %+v", data)
}

// InitApp wires providers, router, pipeline and replay engine from the
// application configuration.
type InitApp struct {
	config    config.Config
	providers map[marketval.ProviderId]marketapi.Provider
	router    *router.Router
	pipe      *pipeline.Pipeline
	engine    *replay.Engine
	consumer  Consumer
}

func NewInitApp(c config.Config) *InitApp {
	return &InitApp{
		config:    c,
		providers: make(map[marketval.ProviderId]marketapi.Provider),
		consumer:  logConsumer{},
	}
}

// SetConsumer replaces the default logging sink. Must be called before
// Initialize.
func (a *InitApp) SetConsumer(c Consumer) {
	a.consumer = c
}

func (a *InitApp) Initialize() error {
	appConfig, err := a.config.Copy()
	if err != nil {
		return err
	}

	barCache := cache.NewLocalBarCache(a.config.GetAppName(), appConfig.DefaultProvider)
	a.router, err = router.NewRouter(a.config, barCache)
	if err != nil {
		return err
	}

	for _, p := range []marketapi.Provider{alpaca.NewProvider(), yahoo.NewProvider()} {
		if err = p.ReadConfig(a.config); err != nil {
			log.Printf("skipping provider %s: %v", p.Id(), err)
			continue
		}
		if err = a.router.Register(p); err != nil {
			return err
		}
		a.providers[p.Id()] = p
	}
	if len(a.providers) == 0 {
		return &marketapi.ConfigurationError{Reason: "no provider could be configured"}
	}

	a.pipe = pipeline.NewPipeline("marketdata", nil).
		Append("dedup", pipeline.StageConfig{BufferSize: 256},
			pipeline.NewDeduplicator("dedup", marketDataKey, time.Second, nil)).
		Append("batch", pipeline.StageConfig{BufferSize: 256, Policy: pipeline.DropOldest},
			pipeline.NewBatcher("batch", appConfig.Replay.BatchSize, 500*time.Millisecond, nil))
	a.pipe.Subscribe(func(n pipeline.Notification) {
		switch n.Kind {
		case pipeline.NotificationData:
			a.consumer.ProcessMarketData(n.Item)
		case pipeline.NotificationBackpressure:
			log.Printf("pipeline backpressure at stage %s (buffer %d)", n.Stage, n.BufferLen)
		case pipeline.NotificationStageError:
			log.Printf("pipeline stage error: %v", n.Err)
		}
	})

	a.engine = replay.NewEngine(a.router, calendar.NewUSMarketCalendar(), nil)
	a.engine.Subscribe(func(ev replay.Event) {
		if ev.Kind == replay.EventBar {
			a.pipe.Push(*ev.Bar, 0)
		}
	})

	// Live events feed the same pipeline the replay engine does.
	a.router.Events().Subscribe(marketapi.EventBar, func(e marketapi.Event) {
		if e.Bar != nil {
			a.pipe.Push(*e.Bar, 0)
		}
	})
	a.router.Events().Subscribe(marketapi.EventError, func(e marketapi.Event) {
		log.Printf("provider %s error: %v", e.Provider, e.Err)
	})
	return nil
}

func marketDataKey(item any) string {
	if b, ok := item.(marketval.Bar); ok {
		return b.Symbol + "|" + b.Timeframe.String() + "|" + b.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

func (a *InitApp) Router() *router.Router {
	return a.router
}

func (a *InitApp) Replay() *replay.Engine {
	return a.engine
}

func (a *InitApp) Pipeline() *pipeline.Pipeline {
	return a.pipe
}

// Run connects all providers and blocks until the context ends, then
// shuts everything down in reverse order.
func (a *InitApp) Run(ctx context.Context) error {
	a.pipe.Start()
	if err := a.router.ConnectAll(ctx); err != nil {
		log.Printf("not all providers connected: %v", err)
	}

	<-ctx.Done()

	a.engine.Stop()
	a.router.DisconnectAll()
	a.pipe.Stop()
	return nil
}
