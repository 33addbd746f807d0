package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/kerneltest"
)

func TestFlags(t *testing.T) {
	var got *options
	run := func(o *options) error {
		got = o
		return nil
	}

	var opts options
	cmd := newCommand(&opts, run)
	cmd.SetArgs([]string{"-v", "-e", "-g"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.verbose || !got.extended || !got.gaps || got.slow {
		t.Fatalf("unexpected options %+v", got)
	}

	var stderr bytes.Buffer
	cmd = newCommand(&options{}, run)
	cmd.SetErr(&stderr)
	cmd.SetOut(&stderr)
	cmd.SetArgs([]string{"-x"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("unknown flag accepted")
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("usage not printed: %q", stderr.String())
	}
}

func testKernel() (*kerneltest.Backend, *kernel.Kernel) {
	b := kerneltest.New()
	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: 0xfffffff007004000, Size: 0x4000, Protection: kernel.ProtDefault, MaxProtection: kernel.ProtAll}},
		{RegionInfo: kernel.RegionInfo{Addr: 0xfffffff00700c000, Size: 0x1000, Protection: kernel.ProtRead, MaxProtection: kernel.ProtAll}},
	}
	return b, kernel.New(b, kernel.Options{})
}

func TestPrintRegions(t *testing.T) {
	_, k := testKernel()
	var out bytes.Buffer
	if err := printRegions(k, &out, false, kernel.DefaultTags, &options{gaps: true}); err != nil {
		t.Fatal(err)
	}
	want := "0xfffffff007004000-0xfffffff007008000 [  16K] rw-/rwx\n" +
		strings.Repeat(" ", 34) + "[  16K]\n" +
		"0xfffffff00700c000-0xfffffff00700d000 [   4K] r--/rwx\n"
	if !strings.HasSuffix(out.String(), want) {
		t.Fatalf("got\n%q\nwant suffix\n%q", out.String(), want)
	}
}

func TestPrintRegionsDenied(t *testing.T) {
	b, k := testKernel()
	b.TaskForPidErr = kerneltest.ErrFailure
	var out bytes.Buffer
	err := printRegions(k, &out, false, kernel.DefaultTags, &options{})
	if err == nil {
		t.Fatal("denied capability did not fail")
	}
	if out.Len() != 0 {
		t.Fatalf("partial output on denial: %q", out.String())
	}
}
