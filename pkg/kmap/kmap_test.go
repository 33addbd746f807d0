package kmap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/kerneltest"
)

func cpuRegion(level uint32) kernel.Region {
	return kernel.Region{
		RegionInfo: kernel.RegionInfo{
			Addr:          0xfffffff007004000,
			Size:          0x4000,
			Depth:         level,
			Protection:    kernel.ProtDefault,
			MaxProtection: kernel.ProtAll,
			Inheritance:   kernel.InheritCopy,
			ShareMode:     kernel.SharePrivate,
			UserTag:       9,
			ObjectID:      0x2a,
			RefCount:      1,
			PagesResident: 4,
			PagesDirtied:  2,
		},
		Level: level,
	}
}

func printEntry(t *testing.T, p *Printer, e kernel.Entry) string {
	t.Helper()
	var buf bytes.Buffer
	p.w = &buf
	if err := p.Entry(e); err != nil {
		t.Fatalf("Entry: %v", err)
	}
	return buf.String()
}

func TestCompactRow(t *testing.T) {
	p := NewPrinter(nil, false)
	got := printEntry(t, p, kernel.Entry{Region: cpuRegion(0)})
	want := "0xfffffff007004000-0xfffffff007008000 [  16K] rw-/rwx\n"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestExtendedRow(t *testing.T) {
	tail := " [  16K] -rw-/-rwx [%s prv cp] 0000000000000000 [0 0 0 0 0] 00000009/0000002a:<         1> 0,0 {         4,         2} cpu/malloc\n"
	tests := []struct {
		level uint32
		want  string
	}{
		{0, "0xfffffff007004000-0xfffffff007008000    " + strings.Replace(tail, "%s", "mem", 1)},
		{1, "    0xfffffff007004000-0xfffffff007008000" + strings.Replace(tail, "%s", "sub", 1)},
		{2, "        0xfffffff007004000-0xfffffff007008000    " + strings.Replace(tail, "%s", "sub", 1)},
	}
	p := NewPrinter(nil, true)
	for _, tc := range tests {
		got := printEntry(t, p, kernel.Entry{Level: tc.level, Region: cpuRegion(tc.level)})
		if got != tc.want {
			t.Errorf("level %d:\ngot  %q\nwant %q", tc.level, got, tc.want)
		}
	}
}

func TestExtendedRowUnresolvedTag(t *testing.T) {
	r := cpuRegion(0)
	r.UserTag = 200
	r.IsSubmap = true
	r.Protection |= 0x8
	got := printEntry(t, NewPrinter(nil, true), kernel.Entry{Region: r})
	if !strings.HasSuffix(got, " 200\n") {
		t.Errorf("raw tag missing: %q", got)
	}
	if !strings.Contains(got, "+rw-/-rwx [map prv cp]") {
		t.Errorf("protection or kind wrong: %q", got)
	}
}

func TestExtendedRowCustomTags(t *testing.T) {
	r := cpuRegion(0)
	r.UserTag = 240
	p := NewPrinter(nil, true)
	p.Tags = kernel.DefaultTags.With(map[int]string{240: "?/custom"})
	got := printEntry(t, p, kernel.Entry{Region: r})
	if !strings.HasSuffix(got, " ?/custom\n") {
		t.Errorf("custom tag missing: %q", got)
	}
}

func TestGapRow(t *testing.T) {
	gap := kernel.Entry{Kind: kernel.EntryGap, GapSize: 0x3000}
	got := printEntry(t, NewPrinter(nil, false), gap)
	if want := strings.Repeat(" ", 33) + " [  12K]\n"; got != want {
		t.Errorf("compact gap: got %q want %q", got, want)
	}
	got = printEntry(t, NewPrinter(nil, true), gap)
	if want := strings.Repeat(" ", 37) + " [  12K]\n"; got != want {
		t.Errorf("extended gap: got %q want %q", got, want)
	}
	gap.GapSize = 5 << 30 // 5120M is still above 4096
	got = printEntry(t, NewPrinter(nil, false), gap)
	if want := strings.Repeat(" ", 33) + " [   5G]\n"; got != want {
		t.Errorf("large gap: got %q want %q", got, want)
	}
}

func TestColor(t *testing.T) {
	r := cpuRegion(0)
	r.IsSubmap = true
	p := NewPrinter(nil, false)
	p.Color = true
	got := printEntry(t, p, kernel.Entry{Region: r})
	if !strings.HasPrefix(got, ansiBlueFG+ansiBold) || !strings.HasSuffix(got, ansiReset+"\n") {
		t.Errorf("submap row not highlighted: %q", got)
	}
	r.IsSubmap = false
	if got := printEntry(t, p, kernel.Entry{Region: r}); strings.Contains(got, "\x1b") {
		t.Errorf("plain row highlighted: %q", got)
	}
}

func TestPrintWalk(t *testing.T) {
	leaf := func(addr uint64) kerneltest.Region {
		return kerneltest.Region{RegionInfo: kernel.RegionInfo{Addr: addr, Size: 0x1000, Protection: kernel.ProtDefault, MaxProtection: kernel.ProtAll}}
	}
	sub := leaf(0x2000)
	sub.Size = 0x4000
	sub.IsSubmap = true
	sub.Children = []kerneltest.Region{leaf(0x2000), leaf(0x4000)}

	b := kerneltest.New()
	b.Regions = []kerneltest.Region{leaf(0x1000), sub, leaf(0x8000)}
	k := kernel.New(b, kernel.Options{})

	var buf bytes.Buffer
	stats, err := NewPrinter(&buf, false).Print(k.Walker(), kernel.WalkOptions{Gaps: true})
	if err != nil {
		t.Fatalf("Print: %v", err)
	}
	if stats.Regions != 5 || stats.Gaps != 3 {
		t.Errorf("stats = %+v", stats)
	}
	pad := strings.Repeat(" ", 33)
	want := "" +
		"0x0000000000001000-0x0000000000002000 [   4K] rw-/rwx\n" +
		"0x0000000000002000-0x0000000000006000 [  16K] rw-/rwx\n" +
		"0x0000000000002000-0x0000000000003000 [   4K] rw-/rwx\n" +
		pad + " [   4K]\n" +
		"0x0000000000004000-0x0000000000005000 [   4K] rw-/rwx\n" +
		pad + " [   4K]\n" +
		pad + " [   8K]\n" +
		"0x0000000000008000-0x0000000000009000 [   4K] rw-/rwx\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
