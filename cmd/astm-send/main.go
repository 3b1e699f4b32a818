// Command astm-send plays the analyzer role: it reads a logical message from
// a file or stdin and transmits it to an E1381 listener over TCP, optionally
// waiting for a reply message on the same connection.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/labwire/go-astm/e1381"
	"github.com/labwire/go-astm/logger"
)

var exampleUsage = `  astm-send --addr 10.0.0.20:5000 --file results.astm
  cat results.astm | astm-send --addr 10.0.0.20:5000
  astm-send --addr 10.0.0.20:5000 --file query.astm --wait-reply`

func main() {
	var (
		addr        string
		file        string
		waitReply   bool
		readTimeout time.Duration
		idleTimeout time.Duration
		retryLimit  int
		debug       bool
	)

	root := &cobra.Command{
		Use:     "astm-send",
		Short:   "Send an ASTM E1381 message to a listener",
		Example: exampleUsage,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logger.SetLevel(logger.DebugLevel)
			}

			message, err := readMessage(file)
			if err != nil {
				return err
			}
			if len(message) == 0 {
				return fmt.Errorf("message is empty")
			}

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", addr, err)
			}
			defer conn.Close()

			ctx := cmd.Context()

			sent, err := e1381.RunInitiatorSession(ctx, conn, message,
				e1381.WithReadTimeout(readTimeout),
				e1381.WithIdleTimeout(idleTimeout),
				e1381.WithSendRetryLimit(retryLimit),
			)
			if err != nil {
				if sent == nil {
					return err
				}

				return fmt.Errorf("send failed after %d records: %w",
					len(sent.Records()), err)
			}

			logger.Info("message sent", "records", len(sent.Records()), "bytes", len(sent.Data))

			if !waitReply {
				return nil
			}

			reply, err := e1381.RunResponderSession(ctx, conn,
				e1381.WithReadTimeout(readTimeout),
				e1381.WithIdleTimeout(idleTimeout),
			)
			if err != nil {
				return fmt.Errorf("receive reply: %w", err)
			}

			fmt.Println(reply.Text())

			return nil
		},
	}

	root.Flags().StringVar(&addr, "addr", "", "listener address host:port")
	root.Flags().StringVar(&file, "file", "", "logical message file (default: stdin)")
	root.Flags().BoolVar(&waitReply, "wait-reply", false, "wait for a reply message and print it")
	root.Flags().DurationVar(&readTimeout, "read-timeout", 15*time.Second, "per-read deadline within the session")
	root.Flags().DurationVar(&idleTimeout, "idle-timeout", 120*time.Second, "give up on the reply after this long with no traffic")
	root.Flags().IntVar(&retryLimit, "retry", 0, "retransmissions per NAKed frame (0 treats NAK as fatal)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	_ = root.MarkFlagRequired("addr")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("astm-send failed", "error", err)
		os.Exit(1)
	}
}

func readMessage(file string) ([]byte, error) {
	if file == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read message file: %w", err)
	}

	return data, nil
}
