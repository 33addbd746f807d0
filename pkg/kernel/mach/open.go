package mach

import (
	"github.com/kmemtool/kmem/pkg/config"
	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/logflags"
)

// Options converts the kernel related configuration keys into
// kernel.Options, resolving the variant against the host CPU.
func Options(conf *config.Config) (kernel.Options, error) {
	variant, err := HostVariant(conf.Variant)
	if err != nil {
		return kernel.Options{}, err
	}
	opts := kernel.Options{
		ChunkSize: conf.ChunkSize,
		Variant:   variant,
		PageSize:  uint64(conf.PageSize),
	}
	if conf.LinkAddress != nil {
		opts.LinkAddress = uint64(*conf.LinkAddress)
	}
	return opts, nil
}

// Open returns a Kernel backed by the host's Mach primitives. It does not
// touch the kernel task port: that happens on the first transfer.
func Open(conf *config.Config) (*kernel.Kernel, error) {
	opts, err := Options(conf)
	if err != nil {
		return nil, err
	}
	backend, err := New()
	if err != nil {
		return nil, err
	}
	logflags.KernelLogger().Debugf("variant %v, chunk size %d", opts.Variant, opts.ChunkSize)
	return kernel.New(backend, opts), nil
}
