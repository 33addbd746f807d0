package mach

import (
	"testing"

	"github.com/kmemtool/kmem/pkg/config"
	"github.com/kmemtool/kmem/pkg/kernel"
)

func TestOptions(t *testing.T) {
	link := config.Address(0xfffffff007008000)
	opts, err := Options(&config.Config{Variant: "arm64e", ChunkSize: 1024, PageSize: 0x4000, LinkAddress: &link})
	if err != nil {
		t.Fatal(err)
	}
	want := kernel.Options{ChunkSize: 1024, Variant: kernel.VariantARM64E, PageSize: 0x4000, LinkAddress: 0xfffffff007008000}
	if opts != want {
		t.Fatalf("got %+v want %+v", opts, want)
	}

	if _, err := Options(&config.Config{Variant: "x86"}); err == nil {
		t.Fatal("unknown variant accepted")
	}
}
