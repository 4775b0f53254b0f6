package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/decoder"
	"firestige.xyz/dissector/internal/sink"
	"firestige.xyz/dissector/internal/source"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without reading any packet.

Prints the effective configuration (file, environment and defaults merged)
as YAML when it is valid.

Examples:
  dissector validate -c config.yml
  DISSECTOR_DISPATCHER_MODE=async dissector validate -c config.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "INVALID: %v\n", err)
				return err
			}
			return runValidate(cfg, cmd.OutOrStdout())
		},
	}
}

// runValidate checks the parts Load cannot: sink types, analyzer names and
// the BPF expression. Filters are checked against Ethernet framing.
func runValidate(cfg *config.Config, out io.Writer) error {
	known := sink.Types()
	for i, s := range cfg.Sinks {
		if !slices.Contains(known, s.Type) {
			return fmt.Errorf("%w: sinks[%d]: unknown type %q (known: %s)",
				core.ErrConfigInvalid, i, s.Type, strings.Join(known, ", "))
		}
	}
	if len(cfg.Dispatcher.Protocols) > 0 && len(decoder.Select(cfg.Dispatcher.Protocols)) == 0 {
		return fmt.Errorf("%w: dispatcher.protocols %v match no analyzer", core.ErrConfigInvalid, cfg.Dispatcher.Protocols)
	}
	if _, err := source.CompileFilter(cfg.Source.BPF, core.ProtocolEthernet); err != nil {
		return err
	}

	dump, err := yaml.Marshal(map[string]*config.Config{"dissector": cfg})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "VALID: %d sink(s), %s dispatch\n", len(cfg.Sinks), cfg.Dispatcher.Mode)
	_, err = out.Write(dump)
	return err
}
