// Command kmap lists the memory regions of the kernel task.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmemtool/kmem/pkg/config"
	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/mach"
	"github.com/kmemtool/kmem/pkg/kmap"
	"github.com/kmemtool/kmem/pkg/logflags"
)

type options struct {
	verbose  bool
	slow     bool
	extended bool
	gaps     bool
}

func newCommand(opts *options, run func(*options) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kmap [-v] [-d] [-e] [-g]",
		Short: "Lists the memory regions of the kernel task.",
		Long: `Lists every region of the kernel task, descending into submaps.

Each line shows the address range, the size and the current/maximum
protection. Extended output adds sharing, inheritance, object and page
accounting details and the allocation tag of each region.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print debug output.")
	cmd.Flags().BoolVarP(&opts.slow, "slow", "d", false, "Sleep for a second after every debug message (use with -v).")
	cmd.Flags().BoolVarP(&opts.extended, "extended", "e", false, "Print all information available for each region.")
	cmd.Flags().BoolVarP(&opts.gaps, "gaps", "g", false, "Print the size of the gaps between regions.")
	cmd.DisableFlagsInUseLine = true
	return cmd
}

func main() {
	var opts options
	cmd := newCommand(&opts, kmapMain)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kmap: %v\n", err)
		os.Exit(1)
	}
}

func kmapMain(opts *options) error {
	if opts.verbose {
		if err := logflags.Setup(true, "kernel,transport,walker", ""); err != nil {
			return err
		}
		defer logflags.Close()
	}
	if opts.slow {
		logflags.SetPacing(time.Second)
	}

	conf, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	k, err := mach.Open(conf)
	if err != nil {
		return err
	}
	out, color := kmap.Stdout(os.Stdout)
	return printRegions(k, out, color, kernel.DefaultTags.With(conf.TagLabels), opts)
}

// printRegions checks for the kernel task port before printing anything,
// so that a denied capability produces no partial output.
func printRegions(k *kernel.Kernel, out io.Writer, color bool, tags kernel.TagTable, opts *options) error {
	if _, err := k.Task(); err != nil {
		return err
	}
	p := kmap.NewPrinter(out, opts.extended)
	p.Color = color
	p.Tags = tags
	stats, err := p.Print(k.Walker(), kernel.WalkOptions{Gaps: opts.gaps})
	if err != nil {
		return err
	}
	logflags.WalkerLogger().Debugf("%d regions, %d gaps, %v", stats.Regions, stats.Gaps, stats.End)
	return nil
}
