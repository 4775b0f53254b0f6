package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core/decoder"
	"firestige.xyz/dissector/internal/eventbus"
	"firestige.xyz/dissector/internal/log"
	"firestige.xyz/dissector/internal/metrics"
	"firestige.xyz/dissector/internal/pipeline"
	"firestige.xyz/dissector/internal/sink"
	"firestige.xyz/dissector/internal/source"
	"firestige.xyz/dissector/internal/source/file"
)

func newDissectCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "dissect [capture-file]",
		Short: "Dissect every packet of a pcap or pcapng file",
		Long: `
Dissect every packet of a capture file and write the extracted header fields
to the configured sinks. Flags override the matching config entries.

Examples:
  dissector dissect capture.pcap                        # console sink, default settings
  dissector dissect -c config.yml                       # source.path from config
  dissector dissect capture.pcapng --bpf "udp" --json   # only UDP, JSON lines on stdout
  dissector dissect capture.pcap --mode async --partitions 8
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyDissectFlags(cmd, args, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runDissect(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return printStats(cmd.ErrOrStderr(), stats)
		},
	}

	c.Flags().String("mode", "", "dispatch mode: sync or async")
	c.Flags().Int("partitions", 0, "async partitions")
	c.Flags().Int("max-depth", 0, "maximum layers per packet")
	c.Flags().String("bpf", "", "packet filter (tcpdump subset or -ddd output)")
	c.Flags().StringSlice("protocols", nil, "analyzers to subscribe, e.g. ethernet,ipv4,udp")
	c.Flags().Bool("json", false, "print field sets as JSON lines on stdout")
	return c
}

// applyDissectFlags overrides cfg with the flags the user set and validates again.
func applyDissectFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	if len(args) == 1 {
		cfg.Source.Path = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Dispatcher.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("partitions") {
		cfg.Dispatcher.Partitions, _ = flags.GetInt("partitions")
	}
	if flags.Changed("max-depth") {
		cfg.Dispatcher.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("bpf") {
		cfg.Source.BPF, _ = flags.GetString("bpf")
	}
	if flags.Changed("protocols") {
		cfg.Dispatcher.Protocols, _ = flags.GetStringSlice("protocols")
	}
	if asJSON, _ := flags.GetBool("json"); asJSON {
		cfg.Sinks = []config.SinkConfig{{Type: "console", Options: map[string]any{"format": "json"}}}
	}
	if cfg.Source.Path == "" {
		return fmt.Errorf("no capture file: pass one as argument or set source.path")
	}
	return cfg.ValidateAndApplyDefaults()
}

// runDissect wires source, filter, dispatcher and sinks from cfg and
// dissects the whole capture. Console sinks write to out.
func runDissect(ctx context.Context, cfg *config.Config, out io.Writer) (stats pipeline.Stats, err error) {
	if err := log.Init(cfg.Log); err != nil {
		return stats, fmt.Errorf("init logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return stats, err
		}
		defer func() { err = multierr.Append(err, srv.Stop(context.Background())) }()
	}

	sk, err := sink.Build(cfg.Sinks, out)
	if err != nil {
		return stats, err
	}

	d := eventbus.NewDispatcher(sk,
		eventbus.WithMaxDepth(cfg.Dispatcher.MaxDepth),
		eventbus.WithExclusive(cfg.Dispatcher.Exclusive),
	)
	defer func() { err = multierr.Append(err, d.Close()) }()

	analyzers := decoder.Select(cfg.Dispatcher.Protocols)
	if len(analyzers) == 0 {
		return stats, fmt.Errorf("no analyzer matches protocols %s", strings.Join(cfg.Dispatcher.Protocols, ","))
	}
	if err := d.SubscribeAll(analyzers); err != nil {
		return stats, err
	}

	src, err := file.Open(cfg.Source.Path, cfg.Source.BufferSize)
	if err != nil {
		return stats, err
	}
	defer src.Close()

	link, err := source.TagForLinkType(src.LinkType())
	if err != nil {
		return stats, err
	}
	filter, err := source.CompileFilter(cfg.Source.BPF, link)
	if err != nil {
		return stats, err
	}

	var (
		publisher pipeline.Publisher
		bus       *eventbus.Bus
	)
	if cfg.Dispatcher.Async() {
		bus, err = eventbus.NewBus(d, cfg.Dispatcher.Partitions, cfg.Dispatcher.QueueSize)
		if err != nil {
			return stats, err
		}
		publisher = bus
	} else {
		publisher = pipeline.Sync(d, nil)
	}

	p, err := pipeline.NewBuilder().
		WithSource(src).
		WithFilter(filter).
		WithPublisher(publisher).
		WithBufferSize(cfg.Dispatcher.QueueSize).
		Build()
	if err != nil {
		return stats, err
	}

	runErr := p.Run(ctx)
	if bus != nil {
		runErr = multierr.Append(runErr, bus.Close())
	}
	return p.Stats(), runErr
}

func printStats(w io.Writer, stats pipeline.Stats) error {
	out, err := yaml.Marshal(map[string]pipeline.Stats{"stats": stats})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
