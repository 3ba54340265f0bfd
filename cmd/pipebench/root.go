package main

import (
	"context"
	"fmt"
	"io"

	"github.com/KOMKZ/go-yogan-pipebus/di"
	"github.com/KOMKZ/go-yogan-pipebus/event"
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// benchFlags are applied over the config files
type benchFlags struct {
	PoolSize int    `config:"event.pool_size"`
	Metrics  bool   `config:"event.metrics,telemetry.enabled,telemetry.metrics.enabled"`
	Exporter string `config:"telemetry.exporter"`
}

type options struct {
	configPath string
	envPrefix  string
	warmup     int
	rounds     []int
	flags      benchFlags
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "pipebench",
		Short:         "Measure listener registration and event publication cost",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "./configs", "configuration directory")
	f.StringVar(&opts.envPrefix, "env-prefix", "PIPEBENCH", "environment variable prefix")
	f.IntVar(&opts.warmup, "warmup", 10, "discarded runs before the reported one")
	f.IntSliceVar(&opts.rounds, "rounds", []int{1000, 100000}, "call counts to average over")
	f.IntVar(&opts.flags.PoolSize, "pool-size", 0, "async worker pool size (0 keeps the configured value)")
	f.BoolVar(&opts.flags.Metrics, "metrics", false, "enable bus metrics and dump them on exit")
	f.StringVar(&opts.flags.Exporter, "exporter", "", "telemetry exporter: stdout or noop")

	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, n := range opts.rounds {
		if n <= 0 {
			return fmt.Errorf("invalid round size %d", n)
		}
	}

	injector := do.New()
	di.RegisterCoreProviders(injector, di.ConfigOptions{
		ConfigPath:   opts.configPath,
		ConfigPrefix: opts.envPrefix,
		Flags:        &opts.flags,
	})

	log := logger.GetLogger("pipebench")
	if l, err := do.Invoke[*logger.Manager](injector); err == nil {
		log = l.GetLogger("pipebench")
	}
	defer di.StopCoreComponents(context.Background(), injector, log)

	if err := di.StartCoreComponents(ctx, injector, log); err != nil {
		return err
	}
	bus, err := do.Invoke[*event.Bus](injector)
	if err != nil {
		return err
	}

	b := newBench(bus, opts.rounds)
	for i := 0; i < opts.warmup; i++ {
		b.run(ctx)
	}

	report := b.run(ctx)
	log.InfoCtx(ctx, "benchmark finished",
		zap.String("bus_id", bus.ID()),
		zap.Duration("register", report.Register),
		zap.Int("rounds", len(report.Rounds)))
	return report.Print(out)
}
