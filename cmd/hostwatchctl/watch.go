package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hostwatch/internal/client"
	"hostwatch/internal/protocol"
)

// watchCmd runs the live duplex session: topic snapshots stream in over
// the channel and the active view is redrawn on every fast tick.
func watchCmd(serverURL *string) *cobra.Command {
	var view string
	var limit int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live host state over the duplex channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := parseView(view)
			if err != nil {
				return err
			}
			cfg, err := loadClientConfig(*serverURL)
			if err != nil {
				return err
			}
			if limit > 0 {
				cfg.ProcessLimit = limit
			}

			logger := slog.Default()
			rest := client.NewRESTClient(cfg.ServerURL)
			session := client.NewSession(cfg, client.WebSocketTransport{}, rest, logger)
			session.SetOutcomeHandler(func(out client.CommandOutcome) {
				if out.InProgress {
					fmt.Printf("\n[%s] %s\n", out.Kind, out.Message)
					return
				}
				fmt.Printf("\n[%s] success=%t %s\n", out.Kind, out.Success, out.Message)
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return session.Run(ctx) })
			g.Go(func() error { return render(ctx, session, topic, cfg.FastTickInterval) })

			err = g.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&view, "view", "processes", "active view: processes, containers, or network")
	cmd.Flags().IntVar(&limit, "limit", 0, "process view row budget (0 keeps the default)")
	return cmd
}

func parseView(view string) (protocol.Topic, error) {
	switch view {
	case "processes":
		return protocol.TopicProcesses, nil
	case "containers":
		return protocol.TopicContainers, nil
	case "network":
		return protocol.TopicNetwork, nil
	}
	return "", fmt.Errorf("invalid view %q, use processes, containers, or network", view)
}

func render(ctx context.Context, session *client.Session, topic protocol.Topic, interval time.Duration) error {
	session.SetActiveView(topic)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			draw(session, topic)
		}
	}
}

func draw(session *client.Session, topic protocol.Topic) {
	store := session.Store()

	fmt.Print("\033[H\033[2J")
	info := store.SystemInfo()
	state := "disconnected"
	if store.Connected() {
		state = "connected"
	}
	fmt.Printf("%s  (%s, %s)\n\n", info.Hostname, info.OS, state)
	printMetrics(store.Metrics())
	fmt.Println()

	switch topic {
	case protocol.TopicProcesses:
		printProcesses(store.Processes())
	case protocol.TopicContainers:
		printContainers(store.Containers())
	case protocol.TopicNetwork:
		printNetwork(store.Network())
	}
}
