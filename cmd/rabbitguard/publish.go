package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heureka/rabbitguard"
	"github.com/heureka/rabbitguard/connection"
	"github.com/heureka/rabbitguard/publisher"
)

type publishFlags struct {
	exchange string
	key      string
	queue    string
	timeout  time.Duration
}

func newPublishCmd(global *globalFlags) *cobra.Command {
	flags := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish [body]",
		Short: "Publish a message, read from stdin when body is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if len(args) == 1 {
				body = []byte(args[0])
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				body = b
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			return publish(ctx, global, flags, body)
		},
	}

	cmd.Flags().StringVarP(&flags.exchange, "exchange", "e", "", "Exchange to publish to")
	cmd.Flags().StringVarP(&flags.key, "key", "k", "", "Routing key")
	cmd.Flags().StringVarP(&flags.queue, "queue", "q", "", "Send directly to this queue instead of an exchange")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Give up connecting and publishing after this time")

	return cmd
}

func publish(ctx context.Context, global *globalFlags, flags *publishFlags, body []byte) error {
	logger, err := global.logger()
	if err != nil {
		return err
	}

	opts, err := global.options()
	if err != nil {
		return err
	}

	conn, err := rabbitguard.Dial(ctx, global.url, opts, connection.WithLogger(logger))
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := rabbitguard.NewChannel(ctx, conn)
	if err != nil {
		return err
	}
	defer ch.Close()

	pub := rabbitguard.NewPublisher(ch, flags.exchange, opts)
	if flags.queue != "" {
		err = pub.SendToQueue(ctx, flags.queue, body, publisher.WithMessageID())
	} else {
		err = pub.Publish(ctx, flags.key, body, publisher.WithMessageID())
	}
	if err != nil {
		return err
	}

	logger.Info().Int("bytes", len(body)).Msg("published")
	fmt.Fprintln(os.Stdout, "ok")

	return nil
}
