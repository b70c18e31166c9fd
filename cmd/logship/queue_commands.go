package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/logship/internal/queue"
	"github.com/loykin/logship/internal/retry"
	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/store/factory"
	"github.com/loykin/logship/internal/transport"
)

func createQueueCommand(flags *QueueFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain a durable delivery queue",
		Long: `Inspect or drain the delivery queue an agent left in local storage.

Examples:
  logship queue len --dsn=sqlite:///var/lib/logship/queue.db
  logship queue list --dsn=badger:///var/lib/logship/queue
  logship queue drain --dsn=redis://localhost:6379/0 --url=http://collector:8080/`,
	}
	cmd.PersistentFlags().StringVar(&flags.DSN, "dsn", "", "queue storage DSN (required)")
	cmd.PersistentFlags().StringVar(&flags.Namespace, "namespace", "logship", "queue namespace")
	cmd.PersistentFlags().IntVar(&flags.Max, "max", 1000, "queue capacity")
	if err := cmd.MarkPersistentFlagRequired("dsn"); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "len",
			Short: "Print the number of queued payloads",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withQueue(cmd.Context(), *flags, func(q *queue.Queue) error {
					n, err := q.Len(cmd.Context())
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "peek",
			Short: "Print the oldest queued payload",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withQueue(cmd.Context(), *flags, func(q *queue.Queue) error {
					p, ok, err := q.PeekOldest(cmd.Context())
					if err != nil || !ok {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), p)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print every queued payload as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withQueue(cmd.Context(), *flags, func(q *queue.Queue) error {
					entries, err := q.Entries(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), entries)
				})
			},
		},
		createQueueDrainCommand(flags),
	)
	return cmd
}

func createQueueDrainCommand(flags *QueueFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver queued payloads oldest first until empty or a delivery fails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.URL == "" {
				return errors.New("--url is required for drain")
			}
			return withQueue(cmd.Context(), *flags, func(q *queue.Queue) error {
				return drainQueue(cmd.Context(), q, *flags, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "collector URL")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 5*time.Second, "per-delivery timeout")
	return cmd
}

func drainQueue(ctx context.Context, q *queue.Queue, flags QueueFlags, out io.Writer) error {
	d := transport.NewHTTP(transport.HTTPOptions{Timeout: flags.Timeout})
	s := retry.New(q, d, retry.Config{Destination: flags.URL, Timeout: flags.Timeout}, nil)
	n, err := s.Flush(ctx)
	_, _ = fmt.Fprintf(out, "delivered %d\n", n)
	return err
}

func withQueue(ctx context.Context, flags QueueFlags, fn func(q *queue.Queue) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := factory.NewFromDSN(flags.DSN, flags.Namespace)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := store.Prepare(ctx, st); err != nil {
		return err
	}
	return fn(queue.New(st, flags.Max, nil))
}
