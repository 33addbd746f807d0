package cmds

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmemtool/kmem/pkg/config"
	"github.com/kmemtool/kmem/pkg/kernel/mach"
	"github.com/kmemtool/kmem/pkg/logflags"
	"github.com/kmemtool/kmem/pkg/terminal"
	"github.com/kmemtool/kmem/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// slow makes every debug message sleep for a second.
	slow bool
	// initFile is the path to initialization file.
	initFile string

	// extended and gaps select the regions output.
	extended bool
	gaps     bool

	// verbose prints build information in the version command.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	// openKernel connects to the kernel task of the running host.
	openKernel = mach.Open
)

const kmemCommandLongDesc = `kmem reads, writes and maps the memory of the running kernel.

It needs the kernel task port, which is only handed out on a jailbroken
device or to a process holding the matching entitlement. Reads and writes
are split into chunks the Mach interface accepts and stop at the first
chunk that fails.

Addresses are numbers (0x prefixed for hex) or "base" plus or minus an
offset, for example base+0x4000.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rootCommand = &cobra.Command{
		Use:   "kmem",
		Short: "kmem is a tool to inspect kernel memory.",
		Long:  kmemCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kmem help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kmem help log').")
	rootCommand.PersistentFlags().BoolVarP(&slow, "slow", "", false, "Sleep for a second after every debug message.")

	rootCommand.AddCommand(&cobra.Command{
		Use:   "read <address> <length>",
		Short: "Prints a hexdump of kernel memory.",
		Args:  cobra.ExactArgs(2),
		Run:   consoleCmd("read"),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "write <address> <hex bytes>",
		Short: "Writes bytes to kernel memory.",
		Long: `Writes bytes to kernel memory.

The bytes are hex encoded, for example:

	kmem write 0xfffffff0077ac000 deadbeef`,
		Args: cobra.MinimumNArgs(2),
		Run:  consoleCmd("write"),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "find <address> <length> <hex pattern>",
		Short: "Searches kernel memory for a byte pattern.",
		Args:  cobra.ExactArgs(3),
		Run:   consoleCmd("find"),
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "base",
		Short: "Prints the kernel base address and slide.",
		Args:  cobra.NoArgs,
		Run:   consoleCmd("base"),
	})

	regionsCommand := &cobra.Command{
		Use:   "regions [<min> [<max>]]",
		Short: "Lists the kernel's memory regions.",
		Args:  cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if extended {
				args = append([]string{"-e"}, args...)
			}
			if gaps {
				args = append([]string{"-g"}, args...)
			}
			consoleCmd("regions")(cmd, args)
		},
	}
	regionsCommand.Flags().BoolVarP(&extended, "extended", "e", false, "Print all information available for each region.")
	regionsCommand.Flags().BoolVarP(&gaps, "gaps", "g", false, "Print the size of the gaps between regions.")
	rootCommand.AddCommand(regionsCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "dis <address> [<length>]",
		Short: "Disassembles kernel memory as arm64 code.",
		Args:  cobra.RangeArgs(1, 2),
		Run:   consoleCmd("disassemble"),
	})

	shellCommand := &cobra.Command{
		Use:   "shell",
		Short: "Starts the interactive console.",
		Long: `Starts the interactive console.

Type 'help' at the prompt for a list of commands.`,
		Args: cobra.NoArgs,
		Run:  shellCmd,
	}
	shellCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the console before the first prompt.")
	rootCommand.AddCommand(shellCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "script <path>",
		Short: "Runs a file of console commands or a starlark script.",
		Long: `Runs a file of console commands or a starlark script.

Files ending in .star are executed as starlark scripts and their main
function, if any, is called. Any other file is read as a list of console
commands, one per line.`,
		Args: cobra.ExactArgs(1),
		Run:  consoleCmd("source"),
	})

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kmem\n%s\n", version.KmemVersion)
			if verbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	kernel		Log task port acquisition and backend setup
	transport	Log every chunk read from or written to the kernel
	locator		Log the kernel base scan
	walker		Log region queries and the reason a walk ended
	console		Log console commands
	all		All of the above

Without --log-output kernel and transport are enabled.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

The --slow flag sleeps for a second after every debug message, which gives
a remote terminal time to deliver the output before a kernel panic.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// consoleCmd returns a cobra handler that runs the console command name
// with the command line arguments.
func consoleCmd(name string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		os.Exit(execute(name + " " + strings.Join(args, " ")))
	}
}

func setupLogging() error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	if slow {
		logflags.SetPacing(time.Second)
	}
	return nil
}

// execute runs a single console command and returns the exit status.
func execute(cmdstr string) int {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	k, err := openKernel(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	term := terminal.NewBatch(k, conf)
	defer term.Close()
	if err := term.Exec(strings.TrimSpace(cmdstr)); err != nil {
		var exitErr terminal.ExitRequestError
		if errors.As(err, &exitErr) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func shellCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := setupLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		k, err := openKernel(conf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		if _, err := k.Task(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		term := terminal.New(k, conf)
		term.InitFile = initFile
		status, err := term.Run()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return status
	}()
	os.Exit(status)
}
