// Package terminal implements functions for responding to user
// input and dispatching to the kernel memory primitives.
package terminal

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/spf13/pflag"

	"github.com/kmemtool/kmem/pkg/disasm"
	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kmap"
	"github.com/kmemtool/kmem/pkg/logflags"
)

// maxReadLen bounds the output of read so that a typo does not dump
// gigabytes of kernel memory to the console.
const maxReadLen = 1 << 20

const defaultDisasmLen = 64

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the kmem console.
type Commands struct {
	cmds []command
	// names indexes every alias for completion.
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// KernelCommands returns a Commands struct with default commands defined.
func KernelCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"read", "x"}, group: memoryCmds, cmdFn: readCmd, helpMsg: `Reads kernel memory.

	read [-fmt <format>] [-size <size>] <address> <length>

Without -fmt the bytes are shown as a hexdump. Format is one of bin, oct, dec or hex and prints the memory as size byte little endian words (default 1). The read is split into transport sized chunks and stops at the first chunk that fails; whatever was read before that is printed.

Addresses are numbers (0x prefixed for hex) or "base" plus or minus an offset, for example base+0x4000.`},
		{aliases: []string{"write", "w"}, group: memoryCmds, cmdFn: writeCmd, helpMsg: `Writes kernel memory.

	write <address> <hex bytes>

Example:

	write 0xfffffff0077ac000 deadbeef`},
		{aliases: []string{"read64", "rq"}, group: memoryCmds, cmdFn: read64Cmd, helpMsg: `Reads a little endian 64-bit word.

	read64 <address>`},
		{aliases: []string{"write64", "wq"}, group: memoryCmds, cmdFn: write64Cmd, helpMsg: `Writes a little endian 64-bit word.

	write64 <address> <value>`},
		{aliases: []string{"find", "f"}, group: memoryCmds, cmdFn: findCmd, helpMsg: `Searches kernel memory for a byte pattern.

	find [-s] <address> <length> <pattern>

The pattern is hex encoded unless -s is given, in which case it is taken literally. Only the bytes that could be read are searched. Prints the address of the first match.`},
		{aliases: []string{"base"}, group: kernelCmds, cmdFn: baseCmd, helpMsg: `Prints the kernel base address and slide.`},
		{aliases: []string{"regions", "vm"}, group: kernelCmds, cmdFn: regionsCmd, helpMsg: `Lists the kernel's memory regions.

	regions [-e] [-g] [<min> [<max>]]

	-e	extended output (print all information available)
	-g	show gaps between regions

Submaps are followed by the regions they contain, indented in extended output. Defaults for -e and -g come from the extended and show-gaps configuration keys.`},
		{aliases: []string{"disassemble", "dis"}, group: kernelCmds, cmdFn: disassembleCmd, helpMsg: `Disassembles kernel memory as arm64 code.

	disassemble [-l <flavour>] <address> [<length>]

Flavour is gnu (default) or go. Length defaults to 64 bytes.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. Kernel parameters (variant, link-address, chunk-size, page-size) take effect the next time kmem starts.

	config tag-labels <tag> <label>
	config tag-labels <tag>

Adds or removes an allocation tag label.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source", "script"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of kmem commands

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script. See the starbind package for the builtins available to scripts.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of kmem's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the console.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.reindex()
	return c
}

// reindex rebuilds the completion trie.
func (c *Commands) reindex() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, nil)
		}
	}
}

// Complete returns every command name or alias that starts with line.
func (c *Commands) Complete(line string) []string {
	if c.names == nil {
		c.reindex()
	}
	prefix := strings.ToLower(strings.TrimLeft(line, " "))
	if strings.Contains(prefix, " ") {
		return nil
	}
	r := c.names.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.reindex()
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	logflags.ConsoleLogger().Debugf("command %q args %q", cmdname, args)
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.reindex()
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// parseAddress parses a number or an expression of the form base[+-off].
func (t *Term) parseAddress(s string) (uint64, error) {
	if !strings.HasPrefix(s, "base") {
		addr, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q", s)
		}
		return addr, nil
	}
	rest := s[len("base"):]
	var (
		off uint64
		neg bool
	)
	if rest != "" {
		switch rest[0] {
		case '+':
		case '-':
			neg = true
		default:
			return 0, fmt.Errorf("invalid address %q", s)
		}
		var err error
		off, err = strconv.ParseUint(rest[1:], 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset in %q", s)
		}
	}
	base, err := t.kern.Base()
	if err != nil {
		return 0, err
	}
	if neg {
		return base - off, nil
	}
	return base + off, nil
}

func parseLength(s string) (int, error) {
	n, err := strconv.ParseUint(s, 0, 31)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("length must be a positive integer")
	}
	return int(n), nil
}

func readCmd(t *Term, args string) error {
	v := strings.Fields(args)

	priFmt := byte(0)
	size := 1
	var pos []string

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			var ok bool
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			pos = append(pos, v[i])
		}
	}
	if len(pos) != 2 {
		return fmt.Errorf("wrong number of arguments: read [-fmt <format>] [-size <size>] <address> <length>")
	}
	addr, err := t.parseAddress(pos[0])
	if err != nil {
		return err
	}
	length, err := parseLength(pos[1])
	if err != nil {
		return err
	}
	if length > maxReadLen {
		return fmt.Errorf("read length must be less than or equal to %d bytes", maxReadLen)
	}

	buf := make([]byte, length)
	n, err := t.kern.Read(addr, buf)
	if n < 0 {
		return err
	}
	if n > 0 {
		if priFmt == 0 {
			fmt.Fprint(t.stdout, hexdump(addr, buf[:n]))
		} else {
			fmt.Fprint(t.stdout, prettyExamineMemory(addr, buf[:n], priFmt, size))
		}
	}
	if err != nil {
		return fmt.Errorf("read stopped after %d of %d bytes: %w", n, length, err)
	}
	if n < length {
		fmt.Fprintf(t.stdout, "short read: %d of %d bytes\n", n, length)
	}
	return nil
}

func writeCmd(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) < 2 {
		return fmt.Errorf("wrong number of arguments: write <address> <hex bytes>")
	}
	addr, err := t.parseAddress(v[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.Join(v[1:], ""))
	if err != nil {
		return fmt.Errorf("invalid hex data: %v", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("nothing to write")
	}
	n, err := t.kern.Write(addr, data)
	if n < 0 {
		return err
	}
	if err != nil {
		return fmt.Errorf("write stopped after %d of %d bytes: %w", n, len(data), err)
	}
	fmt.Fprintf(t.stdout, "wrote %d bytes at %#016x\n", n, addr)
	return nil
}

func read64Cmd(t *Term, args string) error {
	if args == "" || strings.Contains(args, " ") {
		return fmt.Errorf("wrong number of arguments: read64 <address>")
	}
	addr, err := t.parseAddress(args)
	if err != nil {
		return err
	}
	val, err := t.kern.ReadUint64(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%#016x: %#016x\n", addr, val)
	return nil
}

func write64Cmd(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments: write64 <address> <value>")
	}
	addr, err := t.parseAddress(v[0])
	if err != nil {
		return err
	}
	val, err := strconv.ParseUint(v[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", v[1])
	}
	return t.kern.WriteUint64(addr, val)
}

func findCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	literal := false
	if len(v) > 0 && v[0] == "-s" {
		literal = true
		v = v[1:]
	}
	if len(v) != 3 {
		return fmt.Errorf("wrong number of arguments: find [-s] <address> <length> <pattern>")
	}
	addr, err := t.parseAddress(v[0])
	if err != nil {
		return err
	}
	length, err := parseLength(v[1])
	if err != nil {
		return err
	}
	if length > maxReadLen {
		return fmt.Errorf("find length must be less than or equal to %d bytes", maxReadLen)
	}
	pattern := []byte(v[2])
	if !literal {
		pattern, err = hex.DecodeString(v[2])
		if err != nil {
			return fmt.Errorf("invalid hex pattern: %v", err)
		}
	}
	found, err := t.kern.Find(addr, length, pattern)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%#016x\n", found)
	return nil
}

func baseCmd(t *Term, args string) error {
	base, err := t.kern.Base()
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "kernel base: %#016x\n", base)
	if link := t.kern.LinkAddress(); base >= link {
		fmt.Fprintf(t.stdout, "kernel slide: %#016x\n", base-link)
	}
	return nil
}

func regionsCmd(t *Term, args string) error {
	opts := kernel.WalkOptions{Gaps: t.conf.ShowGaps}
	extended := t.conf.Extended
	fs := pflag.NewFlagSet("regions", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVarP(&extended, "extended", "e", extended, "")
	fs.BoolVarP(&opts.Gaps, "gaps", "g", opts.Gaps, "")
	if err := fs.Parse(strings.Fields(args)); err != nil {
		return err
	}
	pos := fs.Args()
	if len(pos) > 2 {
		return fmt.Errorf("wrong number of arguments: regions [-e] [-g] [<min> [<max>]]")
	}
	var err error
	if len(pos) > 0 {
		if opts.Min, err = t.parseAddress(pos[0]); err != nil {
			return err
		}
	}
	if len(pos) > 1 {
		if opts.Max, err = t.parseAddress(pos[1]); err != nil {
			return err
		}
	}

	p := kmap.NewPrinter(t.stdout, extended)
	p.Tags = t.tags()
	p.Color = t.color && !t.dumb
	t.stdout.pw.PageMaybe()
	stats, err := p.Print(t.kern.Walker(), opts)
	if err != nil {
		return err
	}
	logflags.ConsoleLogger().Debugf("%d regions, %d gaps, %v", stats.Regions, stats.Gaps, stats.End)
	return nil
}

func disassembleCmd(t *Term, args string) error {
	v := strings.Fields(args)
	flavour := disasm.GNUFlavour
	if len(v) >= 2 && v[0] == "-l" {
		switch v[1] {
		case "gnu":
		case "go":
			flavour = disasm.GoFlavour
		default:
			return fmt.Errorf("unknown flavour %q", v[1])
		}
		v = v[2:]
	}
	if len(v) < 1 || len(v) > 2 {
		return fmt.Errorf("wrong number of arguments: disassemble [-l <flavour>] <address> [<length>]")
	}
	addr, err := t.parseAddress(v[0])
	if err != nil {
		return err
	}
	length := defaultDisasmLen
	if len(v) == 2 {
		if length, err = parseLength(v[1]); err != nil {
			return err
		}
	}
	insts, err := disasm.Disassemble(t.kern, addr, length, flavour)
	if err != nil {
		return err
	}
	return disasm.Print(t.stdout, insts)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	v := strings.Fields(args)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range v {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			} else {
				path = arg
			}
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits the console.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	if args != "" {
		return fmt.Errorf("exit takes no arguments")
	}
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
