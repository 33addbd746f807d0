// Package kmap renders kernel region walks in the classic kmap layout.
package kmap

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/kmemtool/kmem/pkg/kernel"
)

// gapWidth is the padding in front of the size column of a gap row.
const gapWidth = 4*8 + 1

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiFaint  = "\x1b[2m"
	ansiRedFG  = "\x1b[31m"
	ansiBlueFG = "\x1b[34m"
)

// Printer writes one line per walk entry.
type Printer struct {
	w io.Writer

	// Extended selects the long format with every field of
	// vm_region_submap_info_64.
	Extended bool
	// Tags resolves allocation tags. Nil means kernel.DefaultTags.
	Tags kernel.TagTable
	// Color wraps submap rows, writable and executable regions and gap
	// rows in ANSI escapes.
	Color bool
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, extended bool) *Printer {
	return &Printer{w: w, Extended: extended}
}

// Stdout returns a colour capable writer for f and whether f is a
// terminal.
func Stdout(f *os.File) (io.Writer, bool) {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	if !tty {
		return f, false
	}
	return colorable.NewColorable(f), true
}

// Print walks the kernel with opts and prints every entry.
func (p *Printer) Print(w *kernel.Walker, opts kernel.WalkOptions) (kernel.WalkStats, error) {
	return w.Walk(opts, p.Entry)
}

// Entry prints a single entry.
func (p *Printer) Entry(e kernel.Entry) error {
	var line string
	switch e.Kind {
	case kernel.EntryGap:
		line = p.gap(e.GapSize)
	default:
		line = p.region(&e.Region)
	}
	_, err := io.WriteString(p.w, line)
	return err
}

func (p *Printer) gap(size uint64) string {
	width := gapWidth
	if p.Extended {
		width += 4
	}
	v, unit := kernel.ScaleSize(size)
	return p.paint(ansiFaint, fmt.Sprintf("%*s [%4d%c]", width, "", v, unit)) + "\n"
}

func (p *Printer) region(r *kernel.Region) string {
	v, unit := kernel.ScaleSize(r.Size)
	if !p.Extended {
		return p.paint(p.style(r), fmt.Sprintf("0x%016x-0x%016x [%4d%c] %s/%s",
			r.Addr, r.End(), v, unit, r.Protection, r.MaxProtection)) + "\n"
	}

	tags := p.Tags
	if tags == nil {
		tags = kernel.DefaultTags
	}
	label, ok := tags.Label(r.UserTag)
	if !ok {
		label = fmt.Sprintf("%d", r.UserTag)
	}
	level := int(r.Level)
	line := fmt.Sprintf("%*s0x%016x-0x%016x%*s [%4d%c] %s/%s [%s %s %s] %016x [%d %d %d %d %d] %08x/%08x:<%10d> %d,%d {%10d,%10d} %s",
		4*level, "", r.Addr, r.End(), 4*(1-level), "",
		v, unit,
		r.Protection.Extended(), r.MaxProtection.Extended(),
		r.Kind(), r.ShareMode, r.Inheritance, r.Offset,
		r.Behavior, r.PagesReusable, r.UserWiredCount, r.ExternalPager, r.ShadowDepth,
		r.UserTag, r.ObjectID, r.RefCount,
		r.PagesSwappedOut, r.PagesSharedNowPrivate,
		r.PagesResident, r.PagesDirtied,
		label)
	return p.paint(p.style(r), line) + "\n"
}

func (p *Printer) style(r *kernel.Region) string {
	switch {
	case r.IsSubmap:
		return ansiBlueFG + ansiBold
	case r.Protection&kernel.ProtWrite != 0 && r.Protection&kernel.ProtExecute != 0:
		return ansiRedFG
	}
	return ""
}

func (p *Printer) paint(style, s string) string {
	if !p.Color || style == "" {
		return s
	}
	return style + s + ansiReset
}
