package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/LanChat-Engine/api"
	"github.com/VanDung-dev/LanChat-Engine/config"
	"github.com/VanDung-dev/LanChat-Engine/logging"
	"github.com/VanDung-dev/LanChat-Engine/network"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "LanChat-Engine"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "lanchat",
		Short:   "Peer-to-peer LAN chat",
		Long:    "A serverless chat for the local network: UDP discovery, broadcast, private and group messages.",
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (color|plain|json)")

	rootCmd.AddCommand(
		runCmd(),
		demoCmd(),
		configCmd(),
		snapshotCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies the logging flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	return logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		Subsystems: cfg.Log.Subsystems,
	})
}

// ================== RUN ==================

func runCmd() *cobra.Command {
	var (
		name        string
		port        int
		metricsAddr string
		snapAddr    string
		eventsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one node with an interactive console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				cfg.Node.Name = name
			}
			if flags.Changed("port") {
				cfg.Node.Port = port
			}
			if flags.Changed("metrics") {
				cfg.Metrics.Addr = metricsAddr
			}
			if flags.Changed("snapshot") {
				cfg.Snapshot.Addr = snapAddr
			}
			if flags.Changed("events") {
				cfg.Events.PublishAddr = eventsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			return runNode(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "User", "Display name")
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "UDP port (1024-65535)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&snapAddr, "snapshot", "", "Serve Arrow table snapshots on this address")
	cmd.Flags().StringVar(&eventsAddr, "events", "", "Publish events on this ZeroMQ endpoint (tcp://host:port)")

	return cmd
}

func runNode(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := network.NewNode(cfg, newPrinter(os.Stdout, ""))
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer node.Stop()

	fmt.Printf("%s v%s\n", Name, Version)
	fmt.Printf("Online as %s. Type /help for commands.\n", node.Self().ID)

	c := newConsole(node, os.Stdout)
	return c.Run(ctx, os.Stdin)
}

// ================== DEMO ==================

func demoCmd() *cobra.Command {
	var (
		names    string
		basePort int
		stagger  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run several nodes in one process and watch them find each other",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runDemo(ctx, cfg, strings.Split(names, ","), basePort, stagger)
		},
	}

	cmd.Flags().StringVar(&names, "names", "Alice,Bob,Charlie,Diana", "Comma separated node names")
	cmd.Flags().IntVar(&basePort, "base-port", 5000, "Port of the first node")
	cmd.Flags().DurationVar(&stagger, "stagger", 2*time.Second, "Delay between node starts")

	return cmd
}

func runDemo(ctx context.Context, base config.Config, names []string, basePort int, stagger time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	for i, name := range names {
		name = strings.TrimSpace(name)
		cfg := base
		cfg.Node.Name = name
		cfg.Node.Port = basePort + i
		delay := time.Duration(i) * stagger

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			node, err := network.NewNode(cfg, newPrinter(os.Stdout, name))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := node.Start(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			defer node.Stop()

			fmt.Printf("Started %s on port %d\n", name, cfg.Node.Port)
			<-ctx.Done()
			return nil
		})
	}

	fmt.Printf("Starting %d nodes %v apart. Ctrl+C to stop.\n", len(names), stagger)
	return g.Wait()
}

// ================== CONFIG ==================

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// ================== SNAPSHOT ==================

func snapshotCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:       "snapshot [peers|groups]",
		Short:     "Query a running node's snapshot server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{api.RequestPeers, api.RequestGroups},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := api.Dial(addr, 5*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case api.RequestPeers:
				peers, err := client.Peers()
				if err != nil {
					return err
				}
				for _, p := range peers {
					state := "offline"
					if p.Online {
						state = "online"
					}
					fmt.Fprintf(out, "%-20s %-12s %5d  %s\n", p.ID, p.Name, p.Port, state)
				}
			case api.RequestGroups:
				groups, err := client.Groups()
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Fprintf(out, "%s  %-16s %s\n", g.ID, g.Name, strings.Join(g.Members, ", "))
				}
			default:
				return fmt.Errorf("unknown table %q", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5700", "Snapshot server address")
	return cmd
}
