package mach

import (
	"github.com/kmemtool/kmem/pkg/kernel"
	"github.com/kmemtool/kmem/pkg/logflags"
	"github.com/kmemtool/kmem/pkg/macutil"
)

// HostVariant resolves a configured variant name. "auto" and the empty
// string probe the host CPU and fall back to arm64 when the probe fails.
func HostVariant(name string) (kernel.Variant, error) {
	if name != "" && name != "auto" {
		return kernel.ParseVariant(name)
	}
	arm64e, err := macutil.IsARM64E()
	if err != nil {
		logflags.LocatorLogger().Debugf("cpu probe failed, assuming arm64: %v", err)
		return kernel.VariantARM64, nil
	}
	if arm64e {
		return kernel.VariantARM64E, nil
	}
	return kernel.VariantARM64, nil
}
