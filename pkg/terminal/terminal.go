package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/kmemtool/kmem/pkg/config"
	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kmap"
	"github.com/kmemtool/kmem/pkg/logflags"
	"github.com/kmemtool/kmem/pkg/terminal/starbind"
)

const historyFile string = ".kmem_history"

// Term represents the interactive kmem console.
type Term struct {
	kern     *kernel.Kernel
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	color    bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term driving k.
func New(k *kernel.Kernel, conf *config.Config) *Term {
	t := newTerm(k, conf, nil)
	t.line = liner.NewLiner()
	return t
}

// NewBatch returns a Term without a line editor for running single
// commands and scripts.
func NewBatch(k *kernel.Kernel, conf *config.Config) *Term {
	return newTerm(k, conf, nil)
}

// newTerm builds a Term without a line editor. A nil out selects stdout.
func newTerm(k *kernel.Kernel, conf *config.Config, out io.Writer) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := KernelCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	color := false
	if out == nil {
		out = os.Stdout
		if !dumb {
			out, color = kmap.Stdout(os.Stdout)
		}
	}

	t := &Term{
		kern:   k,
		conf:   conf,
		prompt: "(kmem) ",
		cmds:   cmds,
		dumb:   dumb,
		color:  color,
		stdout: &transcriptWriter{pw: &pagingWriter{w: out}},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// sigintGuard cancels running scripts. Kernel transfers cannot be
// interrupted and run to completion.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		logflags.ConsoleLogger().Debug("received SIGINT")
		t.starlarkEnv.Cancel()
	}
}

// Run begins running the console.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.Complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		err = t.cmds.Call(cmdstr, t)
		t.stdout.pw.Reset()
		t.stdout.Flush()
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Exec runs one console command.
func (t *Term) Exec(cmdstr string) error {
	defer t.stdout.Flush()
	return t.cmds.Call(cmdstr, t)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0600); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	return 0, t.stdout.CloseTranscript()
}

// tags returns the tag table with the configured labels merged in.
func (t *Term) tags() kernel.TagTable {
	return kernel.DefaultTags.With(t.conf.TagLabels)
}
