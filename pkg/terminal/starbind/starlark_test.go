package starbind

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/kerneltest"
)

type bufferWriter struct {
	bytes.Buffer
	echoed []string
}

func (w *bufferWriter) Echo(s string) { w.echoed = append(w.echoed, s) }
func (w *bufferWriter) Flush()        {}

type fakeContext struct {
	k        *kernel.Kernel
	called   []string
	commands map[string]func(string) error
}

func (c *fakeContext) Kernel() *kernel.Kernel { return c.k }
func (c *fakeContext) Tags() kernel.TagTable {
	return kernel.DefaultTags.With(map[int]string{240: "?/custom"})
}

func (c *fakeContext) RegisterCommand(name, helpMsg string, fn func(string) error) {
	if c.commands == nil {
		c.commands = map[string]func(string) error{}
	}
	c.commands[name] = fn
}

func (c *fakeContext) CallCommand(cmdstr string) error {
	c.called = append(c.called, cmdstr)
	return nil
}

const testAddr = 0xfffffff007100000

func newTestEnv(t *testing.T) (*Env, *kerneltest.Backend, *fakeContext, *bufferWriter) {
	t.Helper()
	b := kerneltest.New()
	mem := make([]byte, 0x2000)
	copy(mem[0x10:], "kmem")
	mem[0x100] = 0x11
	mem[0x107] = 0x88
	b.Map(testAddr, mem)
	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: testAddr, Size: 0x2000, Protection: kernel.ProtRead, MaxProtection: kernel.ProtAll, UserTag: 12}},
		{RegionInfo: kernel.RegionInfo{Addr: testAddr + 0x4000, Size: 0x1000, Protection: kernel.ProtDefault, UserTag: 240}},
	}
	ctx := &fakeContext{k: kernel.New(b, kernel.Options{})}
	out := &bufferWriter{}
	return New(ctx, out), b, ctx, out
}

func execute(t *testing.T, env *Env, src string) starlark.Value {
	t.Helper()
	v, err := env.Execute("test.star", src, "main", nil)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	return v
}

func TestReadWrite(t *testing.T) {
	env, b, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    return read(0xfffffff007100010, 4)
`)
	if got, ok := v.(starlark.Bytes); !ok || string(got) != "kmem" {
		t.Fatalf("read returned %v", v)
	}

	v = execute(t, env, `
def main():
    return write(0xfffffff007100020, b"\x01\x02\x03")
`)
	if v.String() != "3" {
		t.Fatalf("write returned %v", v)
	}
	if got := b.Bytes(testAddr+0x20, 3); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("memory after write: %x", got)
	}
}

func TestReadWrite64(t *testing.T) {
	env, b, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    return read64(0xfffffff007100100)
`)
	if v.String() != "9799832789158199313" { // 0x8800000000000011
		t.Fatalf("read64 returned %v", v)
	}
	execute(t, env, `
def main():
    write64(0xfffffff007100200, 0x1122334455667788)
`)
	if got := b.Bytes(testAddr+0x200, 8); !bytes.Equal(got, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}) {
		t.Fatalf("memory after write64: %x", got)
	}
}

func TestFind(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    return [find(0xfffffff007100000, 0x2000, "kmem"), find(0xfffffff007100000, 0x2000, b"nope")]
`)
	if v.String() != "[18446744005108563984, None]" {
		t.Fatalf("find returned %v", v)
	}
}

func TestFindDenied(t *testing.T) {
	env, b, _, _ := newTestEnv(t)
	b.TaskForPidErr = kerneltest.ErrFailure
	_, err := env.Execute("test.star", `
def main():
    return find(0xfffffff007100000, 0x10, "x")
`, "main", nil)
	if err == nil || !strings.Contains(err.Error(), kernel.ErrCapabilityDenied.Error()) {
		t.Fatalf("expected denial, got %v", err)
	}
}

func TestRegions(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    r = regions()
    return [(x.Addr, x.Size, x.End, x.Kind, x.UserTag, tag_label(x.UserTag)) for x in r]
`)
	want := "[(18446744005108563968, 8192, 18446744005108572160, \"mem\", 12, \"zone/malloc\"), (18446744005108580352, 4096, 18446744005108584448, \"mem\", 240, \"?/custom\")]"
	if v.String() != want {
		t.Fatalf("regions returned\n%v\nwant\n%v", v, want)
	}
}

func TestRegionsBounded(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    return len(regions(max=0xfffffff007102000))
`)
	if v.String() != "1" {
		t.Fatalf("bounded regions returned %v", v)
	}
}

func TestCommandBuiltins(t *testing.T) {
	env, _, ctx, _ := newTestEnv(t)
	execute(t, env, `
def command_peek(args):
    "peeks at memory"
    kmem_command("read", args)

def main():
    kmem_command("base")
`)
	if len(ctx.called) != 1 || ctx.called[0] != "base" {
		t.Fatalf("commands called: %q", ctx.called)
	}
	fn := ctx.commands["peek"]
	if fn == nil {
		t.Fatal("command_peek was not registered")
	}
	if err := fn("0x10 4"); err != nil {
		t.Fatal(err)
	}
	if ctx.called[1] != "read 0x10 4" {
		t.Fatalf("commands called: %q", ctx.called)
	}
}

func TestExportGlobals(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	execute(t, env, `Answer = 42`)
	v := execute(t, env, `
def main():
    return Answer
`)
	if v.String() != "42" {
		t.Fatalf("exported global is %v", v)
	}
}

func TestReadWriteFile(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "dump.bin")
	_, err := env.Execute("test.star", `
def main(path):
    write_file(path, read(0xfffffff007100010, 4))
    return read_file(path)
`, "main", []interface{}{path})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "kmem" {
		t.Fatalf("file contains %q", buf)
	}
}

func TestLoad(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	lib := filepath.Join(t.TempDir(), "lib.star")
	if err := os.WriteFile(lib, []byte("def magic():\n    return read(0xfffffff007100010, 4)\n"), 0600); err != nil {
		t.Fatal(err)
	}
	v := execute(t, env, `
load("`+lib+`", "magic")
def main():
    return magic()
`)
	if got, ok := v.(starlark.Bytes); !ok || string(got) != "kmem" {
		t.Fatalf("loaded function returned %v", v)
	}
}

func TestHelp(t *testing.T) {
	env, _, _, out := newTestEnv(t)
	execute(t, env, `
def main():
    help()
    help(read)
`)
	for _, name := range []string{"read", "write64", "regions", "kmem_command"} {
		if !strings.Contains(out.String(), "\t"+name+"\n") {
			t.Errorf("help output is missing %s:\n%s", name, out.String())
		}
	}
	if !strings.Contains(out.String(), "read(Addr, Length)") {
		t.Errorf("help(read) output missing:\n%s", out.String())
	}
}

func TestBadArguments(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	for _, src := range []string{
		"def main():\n    read(-1, 4)\n",
		"def main():\n    read(0, 1 << 30)\n",
		"def main():\n    write(0, 12)\n",
	} {
		if _, err := env.Execute("test.star", src, "main", nil); err == nil {
			t.Errorf("expected error for %q", src)
		}
	}
}

type scriptedLines struct {
	lines []string
}

func (s *scriptedLines) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *scriptedLines) AppendHistory(string) {}

func TestREPL(t *testing.T) {
	env, _, _, out := newTestEnv(t)
	rl := &scriptedLines{lines: []string{
		"Word = read64(0xfffffff007100100)",
		"\"%x\" % Word",
		"undefined_name",
		"exit",
	}}
	if err := env.repl(rl); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "8800000000000011") {
		t.Fatalf("missing result in REPL output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "undefined: undefined_name") {
		t.Fatalf("missing error in REPL output:\n%s", out.String())
	}
	if len(out.echoed) != 4 {
		t.Fatalf("echoed %q", out.echoed)
	}
	if _, ok := env.env["Word"]; !ok {
		t.Fatal("REPL globals were not exported")
	}
}

func TestCancel(t *testing.T) {
	env, _, _, _ := newTestEnv(t)
	env.newThread()
	env.Cancel()
	_, err := env.Execute("test.star", "def main():\n    pass\n", "main", nil)
	if err != nil {
		t.Fatalf("a new script must not inherit a cancellation: %v", err)
	}
}
