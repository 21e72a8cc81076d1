package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hostwatch/internal/client"
	"hostwatch/internal/config"
	"hostwatch/internal/logging"
	"hostwatch/internal/protocol"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var serverURL string
	var debug bool

	cmd := &cobra.Command{
		Use:           "hostwatchctl",
		Short:         "Inspect and control a host running hostwatchd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if debug {
				level = "debug"
			}
			_, err := logging.Configure(level, false)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon base URL (default HOSTWATCH_SERVER_URL or http://127.0.0.1:8000)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rest := func() *client.RESTClient {
		return client.NewRESTClient(resolveServerURL(serverURL))
	}

	cmd.AddCommand(
		healthCmd(rest),
		infoCmd(rest),
		metricsCmd(rest),
		processesCmd(rest),
		containersCmd(rest),
		networkCmd(rest),
		statsCmd(rest),
		logsCmd(rest),
		killCmd(rest),
		containerCmd(rest),
		powerCmd(rest),
		watchCmd(&serverURL),
	)
	return cmd
}

func resolveServerURL(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("HOSTWATCH_SERVER_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8000"
}

func healthCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := rest().Health(cmd.Context())
			if err != nil {
				return err
			}
			w := newTabWriter()
			for _, key := range []string{"status", "docker_connected", "active_connections", "last_collect_at"} {
				if v, ok := health[key]; ok {
					fmt.Fprintf(w, "%s\t%v\n", key, v)
				}
			}
			return w.Flush()
		},
	}
}

func infoCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host identity and hardware summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rest().SystemInfo(cmd.Context())
			if err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintf(w, "Hostname\t%s\n", info.Hostname)
			fmt.Fprintf(w, "OS\t%s\n", info.OS)
			fmt.Fprintf(w, "Kernel\t%s\n", info.Kernel)
			fmt.Fprintf(w, "CPUs\t%d\n", info.CPUCount)
			fmt.Fprintf(w, "Memory\t%s\n", formatBytes(info.TotalMemoryBytes))
			fmt.Fprintf(w, "Uptime\t%s\n", (time.Duration(info.UptimeSeconds) * time.Second).String())
			return w.Flush()
		},
	}
}

func metricsCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show current CPU, memory and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rest().SystemMetrics(cmd.Context())
			if err != nil {
				return err
			}
			printMetrics(m)
			return nil
		},
	}
}

func processesCmd(rest func() *client.RESTClient) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List the heaviest processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			procs, err := rest().Processes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printProcesses(procs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func containersCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "containers",
		Short: "List containers on the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			containers, err := rest().Containers(cmd.Context())
			if err != nil {
				return err
			}
			printContainers(containers)
			return nil
		},
	}
}

func networkCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "Show network totals and per-process connection counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := rest().NetworkStats(cmd.Context())
			if err != nil {
				return err
			}
			printNetwork(stats)
			return nil
		},
	}
}

func statsCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <container-id>",
		Short: "Show a container's CPU and memory usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := rest().ContainerStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("CPU     %.1f%%\n", stats.CPUPercent)
			fmt.Printf("Memory  %s\n", formatBytes(stats.MemoryBytes))
			return nil
		},
	}
}

func logsCmd(rest func() *client.RESTClient) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs <container-id>",
		Short: "Fetch a container's log tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := rest().ContainerLogs(cmd.Context(), args[0], tail)
			if err != nil {
				return err
			}
			fmt.Println(logs)
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 100, "number of trailing lines")
	return cmd
}

func killCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <pid>",
		Short: "Terminate a process on the host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			status, err := rest().KillProcess(cmd.Context(), int32(pid))
			if err != nil {
				return err
			}
			fmt.Println(status.Message)
			return nil
		},
	}
}

func containerCmd(rest func() *client.RESTClient) *cobra.Command {
	return &cobra.Command{
		Use:   "container <id> <start|stop|restart>",
		Short: "Apply a lifecycle action to a container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, action := args[0], args[1]
			if !protocol.ContainerActions[action] {
				return fmt.Errorf("invalid action %q, use start, stop, or restart", action)
			}
			status, err := rest().ContainerAction(cmd.Context(), id, action)
			if err != nil {
				return err
			}
			fmt.Println(status.Message)
			return nil
		},
	}
}

func powerCmd(rest func() *client.RESTClient) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "power <reboot|shutdown>",
		Short: "Reboot or shut down the host after stopping managed containers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if !protocol.PowerActions[action] {
				return fmt.Errorf("invalid action %q, use reboot or shutdown", action)
			}
			if !yes {
				return fmt.Errorf("refusing to %s without --yes", action)
			}
			status, err := rest().ExecutePower(cmd.Context(), action)
			if err != nil {
				return err
			}
			fmt.Println(status.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the power action")
	return cmd
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printMetrics(m protocol.SystemMetrics) {
	fmt.Printf("CPU     %.1f%%\n", m.CPUPercent)
	fmt.Printf("Memory  %.1f%%  (%s / %s)\n", percentOf(m.Memory.Used, m.Memory.Total),
		formatBytes(m.Memory.Used), formatBytes(m.Memory.Total))
	fmt.Printf("Disk    %.1f%%  (%s / %s)\n", percentOf(m.Disk.Used, m.Disk.Total),
		formatBytes(m.Disk.Used), formatBytes(m.Disk.Total))
}

func percentOf(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

func printProcesses(procs []protocol.ProcessEntry) {
	w := newTabWriter()
	fmt.Fprintln(w, "PID\tUSER\tCPU%\tMEM\tCOMMAND")
	for _, p := range procs {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%s\t%s\n", p.PID, p.User, p.CPUPercent, formatBytes(p.MemBytes), p.Cmd)
	}
	_ = w.Flush()
}

func printContainers(containers []protocol.ContainerEntry) {
	w := newTabWriter()
	fmt.Fprintln(w, "ID\tNAME\tIMAGE\tSTATUS\tPORTS")
	for _, c := range containers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Image, c.Status, c.Ports)
	}
	_ = w.Flush()
}

func printNetwork(stats protocol.NetworkStats) {
	fmt.Printf("Sent %s   Received %s\n", formatBytes(stats.TotalBytesSent), formatBytes(stats.TotalBytesRecv))
	pids := make([]int32, 0, len(stats.ProcessNetwork))
	for pid := range stats.ProcessNetwork {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	w := newTabWriter()
	fmt.Fprintln(w, "PID\tCONNECTIONS")
	for _, pid := range pids {
		fmt.Fprintf(w, "%d\t%d\n", pid, stats.ProcessNetwork[pid].Connections)
	}
	_ = w.Flush()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func loadClientConfig(serverURL string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	return cfg, nil
}
