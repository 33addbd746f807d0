package kernel_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/kerneltest"
)

const (
	testSlide   = 0x2c00000
	testCPUData = 0xfffffff0_4a000000
)

func machHeader(filetype uint32) []byte {
	b := make([]byte, 32)
	binary.LittleEndian.PutUint32(b[0:], 0xfeedfacf)
	binary.LittleEndian.PutUint32(b[4:], 0x0100000c)
	binary.LittleEndian.PutUint32(b[8:], 0)
	binary.LittleEndian.PutUint32(b[12:], filetype)
	return b
}

// scanFixture builds a kernel whose header sits at the returned base and a
// per-CPU data region whose rtclock_datap points pages into the image.
func scanFixture(t *testing.T, off uint64, pages uint64) (*kerneltest.Backend, uint64) {
	t.Helper()
	b := kerneltest.New()
	base := kernel.KernelLinkAddress + testSlide
	b.MapZero(base, int((pages+1)*kernel.DefaultPageSize))
	b.Map(base, machHeader(2))

	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, base+pages*kernel.DefaultPageSize+0x1a8)
	b.MapZero(testCPUData, 0x1000)
	b.Map(testCPUData+off, ptr)

	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData - 0x8000, Size: 0x4000, UserTag: 12, Protection: kernel.ProtDefault}},
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData - 0x4000, Size: 0x4000, UserTag: 9, Protection: kernel.ProtRead}},
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData, Size: 0x4000, UserTag: 9, Protection: kernel.ProtDefault}},
	}
	return b, base
}

func TestBaseFromDyldInfo(t *testing.T) {
	b := kerneltest.New()
	b.Dyld.AllImageInfoSize = testSlide
	k := kernel.New(b, kernel.Options{})

	base, err := k.Base()
	assertNoError(err, t, "Base")
	if base != kernel.KernelLinkAddress+testSlide {
		t.Fatalf("got %#x, want %#x", base, kernel.KernelLinkAddress+testSlide)
	}
	if b.RegionCalls != 0 || len(b.Reads) != 0 {
		t.Fatalf("scan ran despite a slide: %d region queries, %d reads", b.RegionCalls, len(b.Reads))
	}
}

func TestBaseScan(t *testing.T) {
	for _, tc := range []struct {
		variant kernel.Variant
		off     uint64
	}{
		{kernel.VariantARM64, 0x198},
		{kernel.VariantARM64E, 0x190},
	} {
		t.Run(tc.variant.String(), func(t *testing.T) {
			b, want := scanFixture(t, tc.off, 5)
			k := kernel.New(b, kernel.Options{Variant: tc.variant})
			base, err := k.Base()
			assertNoError(err, t, "Base")
			if base != want {
				t.Fatalf("got %#x, want %#x", base, want)
			}
			if b.DyldCalls != 1 {
				t.Fatalf("task_info called %d times", b.DyldCalls)
			}
		})
	}
}

func TestBaseScanSkipsOtherMachO(t *testing.T) {
	b, want := scanFixture(t, 0x198, 6)
	// a kext header further up must not stop the walk
	b.Map(want+3*kernel.DefaultPageSize, machHeader(0xb))
	k := kernel.New(b, kernel.Options{})
	base, err := k.Base()
	assertNoError(err, t, "Base")
	if base != want {
		t.Fatalf("got %#x, want %#x", base, want)
	}
}

func TestBaseScanBound(t *testing.T) {
	b := kerneltest.New()
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, kernel.KernelLinkAddress-0x10000)
	b.MapZero(testCPUData, 0x1000)
	b.Map(testCPUData+0x198, ptr)
	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData, Size: 0x4000, UserTag: 9, Protection: kernel.ProtDefault}},
	}
	k := kernel.New(b, kernel.Options{})

	_, err := k.Base()
	if !errors.Is(err, kernel.ErrKernelBaseUnknown) || !errors.Is(err, kernel.ErrScanBoundsExceeded) {
		t.Fatalf("got %v", err)
	}
	if len(b.Reads) != 1 {
		t.Fatalf("scan read past the bound: %v", b.Reads)
	}
}

func TestBaseScanStopsAtLinkAddress(t *testing.T) {
	// the pointer is valid but no header exists above the link address
	b := kerneltest.New()
	b.MapZero(kernel.KernelLinkAddress, int(3*kernel.DefaultPageSize))
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, kernel.KernelLinkAddress+2*kernel.DefaultPageSize+8)
	b.MapZero(testCPUData, 0x1000)
	b.Map(testCPUData+0x198, ptr)
	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData, Size: 0x4000, UserTag: 9, Protection: kernel.ProtDefault}},
	}
	k := kernel.New(b, kernel.Options{})
	if _, err := k.Base(); !errors.Is(err, kernel.ErrScanBoundsExceeded) {
		t.Fatalf("got %v", err)
	}
}

func TestBaseScanReadFailure(t *testing.T) {
	b, base := scanFixture(t, 0x198, 5)
	b.FailReadAt[base+3*kernel.DefaultPageSize] = kerneltest.ErrFailure
	k := kernel.New(b, kernel.Options{})

	_, err := k.Base()
	if !errors.Is(err, kernel.ErrKernelBaseUnknown) || errors.Is(err, kernel.ErrScanBoundsExceeded) {
		t.Fatalf("got %v", err)
	}
	if last := b.Reads[len(b.Reads)-1]; last.Addr != base+3*kernel.DefaultPageSize {
		t.Fatalf("walk continued after a failed read, last read at %#x", last.Addr)
	}
}

func TestBaseNoCPURegion(t *testing.T) {
	b := kerneltest.New()
	b.Regions = []kerneltest.Region{
		{RegionInfo: kernel.RegionInfo{Addr: testCPUData, Size: 0x4000, UserTag: 12, Protection: kernel.ProtDefault}},
	}
	k := kernel.New(b, kernel.Options{})
	if _, err := k.Base(); !errors.Is(err, kernel.ErrKernelBaseUnknown) {
		t.Fatalf("got %v", err)
	}
}

func TestBaseDenied(t *testing.T) {
	b := kerneltest.New()
	b.TaskForPidErr = kerneltest.ErrFailure
	b.SpecialPortErr = kerneltest.ErrFailure
	k := kernel.New(b, kernel.Options{})
	_, err := k.Base()
	if !errors.Is(err, kernel.ErrKernelBaseUnknown) || !errors.Is(err, kernel.ErrCapabilityDenied) {
		t.Fatalf("got %v", err)
	}
}

func TestParseVariant(t *testing.T) {
	for _, v := range []kernel.Variant{kernel.VariantARM64, kernel.VariantARM64E} {
		got, err := kernel.ParseVariant(v.String())
		if err != nil || got != v {
			t.Fatalf("ParseVariant(%q) = %v, %v", v.String(), got, err)
		}
	}
	if _, err := kernel.ParseVariant("x86_64"); err == nil {
		t.Fatal("expected an error")
	}
}
