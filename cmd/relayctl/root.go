package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/harness"
	"github.com/danmuck/framerelay/internal/scenario"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type runFunc func(ctx context.Context, cfg config.HarnessConfig, name string, out io.Writer) error

type options struct {
	configPath      string
	transport       string
	addr            string
	socket          string
	connectTimeout  time.Duration
	connectAttempts int
	spawn           bool
}

func newRootCmd(run runFunc) *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:   "relayctl [flags] <scenario>",
		Short: "Drive a framed relay scenario against a peer",
		Long: `relayctl connects to a relay peer over pipes, tcp or a unix socket and runs
one named scenario. The result is reported on stderr; with --transport pipes,
stdin and stdout carry the framed wire.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args[0], cmd.ErrOrStderr())
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "TOML config file; flags override its values")
	flags.StringVar(&opts.transport, "transport", "pipes", "transport: pipes | tcp | unix")
	flags.StringVar(&opts.addr, "addr", config.DefaultAddr, "tcp peer address")
	flags.StringVar(&opts.socket, "socket", config.DefaultSocketPath, "unix socket path")
	flags.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "connect timeout (0 waits for the OS)")
	flags.IntVar(&opts.connectAttempts, "connect-attempts", 1, "connect attempts, with exponential backoff between them")
	flags.BoolVar(&opts.spawn, "spawn", false, "with --transport pipes, start relayd and talk over its stdio")

	root.AddCommand(newListCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range scenario.Default().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(cmd *cobra.Command, opts options) (config.HarnessConfig, error) {
	cfg := config.DefaultHarnessConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = loadHarnessConfig(opts.configPath); err != nil {
			return config.HarnessConfig{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if flags.Changed("addr") {
		cfg.Addr = opts.addr
	}
	if flags.Changed("socket") {
		cfg.SocketPath = opts.socket
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = opts.connectTimeout.String()
	}
	if flags.Changed("connect-attempts") {
		cfg.ConnectAttempts = opts.connectAttempts
	}
	if flags.Changed("spawn") {
		cfg.Spawn = opts.spawn
	}

	if err := config.ValidateHarnessConfig(cfg); err != nil {
		return config.HarnessConfig{}, err
	}
	return cfg, nil
}

func runScenario(ctx context.Context, cfg config.HarnessConfig, name string, out io.Writer) error {
	reg := scenario.Default()
	if _, ok := reg.Lookup(name); !ok {
		return fmt.Errorf("%w: %q (available: %s)", scenario.ErrUnknownScenario, name, strings.Join(reg.Names(), ", "))
	}

	start := time.Now()
	r, err := harness.NewDialer(cfg).Dial(ctx)
	if err != nil {
		if hint := harness.PeerHint(cfg, err); hint != "" {
			fmt.Fprintf(out, "no peer on %s; start one with:\n  %s\n", cfg.Transport, hint)
		}
		report(out, name, time.Since(start), err)
		return err
	}
	defer r.Close()

	err = reg.Run(ctx, name, r)
	report(out, name, time.Since(start), err)
	return err
}

func report(out io.Writer, name string, took time.Duration, err error) {
	took = took.Round(time.Microsecond)
	if err != nil {
		fmt.Fprintf(out, "%s %s (%s)\n", color.New(color.FgRed, color.Bold).Sprint("FAIL"), name, took)
		return
	}
	fmt.Fprintf(out, "%s %s (%s)\n", color.New(color.FgGreen, color.Bold).Sprint("PASS"), name, took)
}
