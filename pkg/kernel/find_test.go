package kernel_test

import (
	"errors"
	"testing"

	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/kernel/kerneltest"
)

func TestFind(t *testing.T) {
	b := kerneltest.New()
	mem := make([]byte, 0x100)
	mem[0x40], mem[0x41] = 0xDE, 0xAD
	b.Map(0x1000, mem)
	k := kernel.New(b, kernel.Options{})

	addr, err := k.Find(0x1000, 0x100, []byte{0xDE, 0xAD})
	assertNoError(err, t, "Find")
	if addr != 0x1040 {
		t.Fatalf("found at %#x, want 0x1040", addr)
	}

	if _, err := k.Find(0x1000, 0x100, []byte{0xBE, 0xEF}); !errors.Is(err, kernel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindFirstMatchOnly(t *testing.T) {
	b := kerneltest.New()
	mem := make([]byte, 0x2000)
	copy(mem[0x1800:], "kernel")
	copy(mem[0x20:], "kernel")
	b.Map(testBase, mem)
	k := kernel.New(b, kernel.Options{})

	addr, err := k.Find(testBase, len(mem), []byte("kernel"))
	assertNoError(err, t, "Find")
	if addr != testBase+0x20 {
		t.Fatalf("found at %#x, want %#x", addr, uint64(testBase+0x20))
	}
}

func TestFindAcrossChunkBoundary(t *testing.T) {
	b := kerneltest.New()
	mem := make([]byte, 0x2000)
	copy(mem[kernel.MaxChunkSize-2:], "\xfe\xed\xfa\xcf")
	b.Map(testBase, mem)
	k := kernel.New(b, kernel.Options{})

	addr, err := k.Find(testBase, len(mem), []byte("\xfe\xed\xfa\xcf"))
	assertNoError(err, t, "Find")
	if addr != testBase+kernel.MaxChunkSize-2 {
		t.Fatalf("found at %#x", addr)
	}
}

func TestFindSearchesDeliveredPrefixOnly(t *testing.T) {
	b := kerneltest.New()
	mem := make([]byte, 0x2000)
	copy(mem[0x1800:], "needle")
	b.Map(testBase, mem)
	b.FailReadAt[testBase+kernel.MaxChunkSize] = kerneltest.ErrFailure
	k := kernel.New(b, kernel.Options{})

	if _, err := k.Find(testBase, len(mem), []byte("needle")); !errors.Is(err, kernel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	copy(mem[0x10:], "needle")
	b.Map(testBase, mem)
	addr, err := k.Find(testBase, len(mem), []byte("needle"))
	assertNoError(err, t, "Find")
	if addr != testBase+0x10 {
		t.Fatalf("found at %#x", addr)
	}
}

func TestFindDegenerate(t *testing.T) {
	b := kerneltest.New()
	b.MapZero(testBase, 0x100)
	k := kernel.New(b, kernel.Options{})

	for _, tc := range []struct {
		length  int
		pattern []byte
	}{
		{0, []byte{0}},
		{-1, []byte{0}},
		{0x100, nil},
		{kernel.MaxFindWindow + 1, []byte{0}},
	} {
		if _, err := k.Find(testBase, tc.length, tc.pattern); !errors.Is(err, kernel.ErrNotFound) {
			t.Fatalf("Find(%d, %v): expected ErrNotFound, got %v", tc.length, tc.pattern, err)
		}
	}
}

func TestFindDenied(t *testing.T) {
	b := kerneltest.New()
	b.TaskForPidErr = kerneltest.ErrFailure
	b.SpecialPortErr = kerneltest.ErrFailure
	k := kernel.New(b, kernel.Options{})

	_, err := k.Find(testBase, 0x10, []byte{1})
	if !errors.Is(err, kernel.ErrNotFound) || !errors.Is(err, kernel.ErrCapabilityDenied) {
		t.Fatalf("got %v", err)
	}
}
