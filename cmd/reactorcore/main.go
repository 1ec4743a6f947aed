// Command reactorcore is the Lifecycle Driver of spec §4.4: it parses the
// CLI surface of spec §6, constructs a Runtime, primes the timer demo
// program, runs the event loop to completion, and prints the wrapup
// summary. Its flag/config wiring follows dagu's
// cobra-plus-viper construction (cmd/main.go), adapted from a multi-command
// DAG tool to this single-purpose scheduler binary.
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
	"github.com/spf13/viper"

	"github.com/joeycumines/reactorcore/examples/timerdemo"
	"github.com/joeycumines/reactorcore/reactor"
	"github.com/joeycumines/reactorcore/tag"
)

var (
	cfgFile    string
	stopFlag   time.Duration
	waitFlag   bool
	fastFlag   bool
	threadsFlag int
	periodFlag time.Duration
)

func main() {
	cmd := &cobra.Command{
		Use:   "reactorcore",
		Short: "Deterministic discrete-event reactor scheduler core",
		Long:  "reactorcore runs the event-loop scheduler core against a timer demo program.",
		RunE:  run,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/reactorcore/config.yaml)")
	cmd.Flags().DurationVar(&stopFlag, "stop", 0, "stop_time: terminate once current tag reaches this duration (0 disables)")
	cmd.Flags().BoolVar(&waitFlag, "wait", false, "wait for asynchronous events instead of exiting when the event queue empties")
	cmd.Flags().BoolVar(&fastFlag, "fast", false, "skip wait_until; advance logical time as fast as physical time permits")
	cmd.Flags().IntVar(&threadsFlag, "threads", 0, "reserved for the threaded variant; 0 keeps the single-threaded async-schedule guard enabled")
	cmd.Flags().DurationVar(&periodFlag, "period", 0, "timer demo period; 0 fires once at offset 0")

	if err := cmd.Execute(); err != nil {
		os.Exit(-1)
	}
}

func initialize(cmd *cobra.Command) (*slog.Logger, error) {
	if err := cmd.ParseFlags(os.Args); err != nil {
		return nil, fmt.Errorf("%w: %v", reactor.ErrConfig, err)
	}

	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/reactorcore")
		}
	}
	viper.SetEnvPrefix("REACTORCORE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("%w: %v", reactor.ErrConfig, err)
		}
	}
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("%w: %v", reactor.ErrConfig, err)
	}
	stopFlag = viper.GetDuration("stop")
	waitFlag = viper.GetBool("wait")
	fastFlag = viper.GetBool("fast")
	threadsFlag = viper.GetInt("threads")
	periodFlag = viper.GetDuration("period")

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := initialize(cmd)
	if err != nil {
		return err
	}

	prog := timerdemo.New(tag.Interval(periodFlag))

	opts := []reactor.Option{
		reactor.WithLogger(reactor.NewSlogLogger(logger.Handler())),
		reactor.WithWaitSpecified(waitFlag),
		reactor.WithFastForward(fastFlag),
		reactor.WithThreads(threadsFlag),
	}
	if stopFlag > 0 {
		opts = append(opts, reactor.WithStopTime(tag.Instant(stopFlag)))
	}

	rt, err := reactor.New(opts...)
	if err != nil {
		return fmt.Errorf("reactorcore: constructing runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rt.Run(ctx, prog.StartTimers); err != nil {
		return fmt.Errorf("reactorcore: run: %w", err)
	}

	logical, physical := rt.Wrapup()
	fmt.Printf("elapsed logical time: %d ns\n", logical.Nanoseconds())
	fmt.Printf("elapsed physical time: %d ns\n", physical.Nanoseconds())
	fmt.Printf("ticks: %v\n", prog.Ticks)
	return nil
}
