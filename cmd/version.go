package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/decoder"
	"firestige.xyz/dissector/internal/sink"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, analyzers and sink types",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dissector %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

			var tags []core.Protocol
			for _, a := range decoder.Defaults() {
				tags = append(tags, a.Protocol())
			}
			fmt.Fprintf(out, "analyzers: %v\n", tags)
			fmt.Fprintf(out, "sinks: %v\n", sink.Types())
		},
	}
}
