package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heureka/rabbitguard"
	"github.com/heureka/rabbitguard/channel"
	"github.com/heureka/rabbitguard/connection"
	"github.com/heureka/rabbitguard/metrics"
	"github.com/heureka/rabbitguard/process"
	"github.com/heureka/rabbitguard/process/middleware"
)

type watchFlags struct {
	queues       []string
	listen       string
	prefetch     int
	batchSize    int
	batchTimeout time.Duration
	transient    bool
}

func newWatchCmd(global *globalFlags) *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consume queues and keep them consumed across reconnects",
		Long: `Connects to RabbitMQ, declares the given queues and logs every delivery.
Lost connections are re-established and the queues and consumers restored.
Metrics are served on /metrics and connection health on /healthz.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return watch(ctx, global, flags)
		},
	}

	cmd.Flags().StringSliceVarP(&flags.queues, "queue", "q", nil, "Queue to declare and consume, repeatable")
	cmd.Flags().StringVar(&flags.listen, "listen", ":9090", "HTTP address for /metrics and /healthz")
	cmd.Flags().IntVar(&flags.prefetch, "prefetch", 10, "Channel prefetch count")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Process deliveries in batches of this size, 0 processes one by one")
	cmd.Flags().DurationVar(&flags.batchTimeout, "batch-timeout", time.Second, "Flush incomplete batch after this time")
	cmd.Flags().BoolVar(&flags.transient, "transient", false, "Declare non-durable, auto-deleted queues")

	return cmd
}

func watch(ctx context.Context, global *globalFlags, flags *watchFlags) error {
	logger, err := global.logger()
	if err != nil {
		return err
	}

	opts, err := global.options()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.New(reg)

	conn, err := rabbitguard.Dial(ctx, global.url, opts,
		connection.WithLogger(logger.With().Str("component", "connection").Logger()),
		connection.WithDialAttemptCallback(collector.DialAttempt),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Err(err).Msg("close connection")
		}
	}()

	if err := collector.Observe(conn); err != nil {
		return fmt.Errorf("observe connection: %w", err)
	}

	ch, err := rabbitguard.NewChannel(ctx, conn,
		channel.WithLogger(logger.With().Str("component", "channel").Logger()),
		channel.WithQOS(flags.prefetch, 0, false),
		channel.WithOnError(func(err error) {
			logger.Warn().Err(err).Msg("channel error")
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Err(err).Msg("close channel")
		}
	}()

	props := channel.DefaultQueueProperties()
	if flags.transient {
		props = channel.QueueProperties{AutoDelete: true}
	}

	for _, queue := range flags.queues {
		tag, err := rabbitguard.NewConsumer(ch, queue, props, newProcessor(logger, flags))
		if err != nil {
			return err
		}

		logger.Info().Str("queue", queue).Str("tag", tag).Msg("consuming")
	}

	server := &http.Server{
		Addr:              flags.listen,
		Handler:           newRouter(reg, conn),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", flags.listen).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newProcessor(logger zerolog.Logger, flags *watchFlags) channel.Processor {
	if flags.batchSize > 0 {
		return process.InBatches(flags.batchSize, flags.batchTimeout,
			func(_ context.Context, bodies [][]byte) []error {
				return make([]error, len(bodies))
			},
			false,
			middleware.NewBatchDeliveryLogging(logger),
			middleware.NewBatchErrorLogging(logger),
		)
	}

	return process.ByOne(
		func(_ context.Context, body []byte) error {
			logger.Debug().Bytes("body", body).Msg("message")
			return nil
		},
		false,
		middleware.NewDeliveryLogging(logger),
		middleware.NewErrorLogging(logger),
	)
}
