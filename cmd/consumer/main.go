// The consumer binary is the change-feed worker: it drains booking
// change events from Kafka and feeds newly pending bookings to the
// matcher, independent of the HTTP process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-dispatch/internal/config"
	"github.com/example/fleet-dispatch/internal/feed"
	"github.com/example/fleet-dispatch/internal/logging"
	"github.com/example/fleet-dispatch/internal/matcher"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/orchestrator"
	"github.com/example/fleet-dispatch/internal/rebalance"
	"github.com/example/fleet-dispatch/internal/store"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_consumed_total",
		Help: "Total change-feed events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_invalid_total",
		Help: "Total undecodable change-feed events",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid)
}

func main() {
	cfg := config.LoadConsumerConfig()
	logger := logging.NewLogger("consumer", cfg.LogLevel)

	st := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	defer st.Close()

	var push notify.Notifier = notify.Nop{}
	if cfg.FCMEndpoint != "" {
		push = notify.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey)
	}

	m := &matcher.Service{Store: st, Notifier: push, Logger: logger}
	orch := &orchestrator.Orchestrator{
		Assigner:   m,
		Rebalancer: &rebalance.Runner{Store: st, Logger: logger},
		Logger:     logger,
	}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := st.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := feed.NewKafkaSubscription(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer sub.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	if err := orch.RunFeed(ctx, &countingSubscription{inner: sub}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feed loop exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down consumer")
}

// countingSubscription layers consumer metrics over the feed source.
type countingSubscription struct {
	inner feed.Subscription
}

func (c *countingSubscription) Next(ctx context.Context) (feed.Event, error) {
	ev, err := c.inner.Next(ctx)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidEvent) {
			eventsInvalid.Inc()
		}
		return ev, err
	}
	eventsConsumed.Inc()
	return ev, nil
}
