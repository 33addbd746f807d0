package starbind

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/kmemtool/kmem/pkg/kernel"
)

// maxScriptRead bounds a single read() from a script.
const maxScriptRead = 1 << 20

func uint64Arg(name string, v starlark.Int) (uint64, error) {
	n, ok := v.Uint64()
	if !ok {
		return 0, fmt.Errorf("%s must be an unsigned 64bit integer", name)
	}
	return n, nil
}

func lengthArg(v starlark.Int) (int, error) {
	n, ok := v.Int64()
	if !ok || n < 0 || n > maxScriptRead {
		return 0, fmt.Errorf("length must be between 0 and %d", maxScriptRead)
	}
	return int(n), nil
}

func bytesArg(name string, v starlark.Value) ([]byte, error) {
	switch x := v.(type) {
	case starlark.Bytes:
		return []byte(x), nil
	case starlark.String:
		return []byte(x), nil
	}
	return nil, fmt.Errorf("%s must be bytes or string, got %s", name, v.Type())
}

// kernelBuiltins registers the builtins that operate on kernel memory.
func (env *Env) kernelBuiltins() {
	env.builtin("read", "(Addr, Length)", "reads Length bytes of kernel memory at Addr and returns them as bytes. The result is shorter than Length if the transfer stopped early.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		var addrv, lengthv starlark.Int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addrv, "length", &lengthv); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		addr, err := uint64Arg("addr", addrv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		length, err := lengthArg(lengthv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		buf := make([]byte, length)
		n, err := env.ctx.Kernel().Read(addr, buf)
		if n < 0 {
			return starlark.None, decorateError(thread, err)
		}
		if n == 0 && err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.Bytes(buf[:n]), nil
	})

	env.builtin("write", "(Addr, Data)", "writes Data to kernel memory at Addr and returns the number of bytes written.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		var addrv starlark.Int
		var datav starlark.Value
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addrv, "data", &datav); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		addr, err := uint64Arg("addr", addrv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		data, err := bytesArg("data", datav)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		n, err := env.ctx.Kernel().Write(addr, data)
		if n < 0 || (n == 0 && err != nil) {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.MakeInt(n), nil
	})

	env.builtin("read64", "(Addr)", "reads the little endian 64bit word at Addr.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv starlark.Int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addrv); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		addr, err := uint64Arg("addr", addrv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		v, err := env.ctx.Kernel().ReadUint64(addr)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.MakeUint64(v), nil
	})

	env.builtin("write64", "(Addr, Value)", "writes Value as a little endian 64bit word at Addr.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addrv, valv starlark.Int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addrv, "value", &valv); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		addr, err := uint64Arg("addr", addrv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		val, err := uint64Arg("value", valv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.None, decorateError(thread, env.ctx.Kernel().WriteUint64(addr, val))
	})

	env.builtin("find", "(Addr, Length, Pattern)", "searches Length bytes of kernel memory starting at Addr for Pattern. Returns the address of the first match or None.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		var addrv, lengthv starlark.Int
		var patv starlark.Value
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addrv, "length", &lengthv, "pattern", &patv); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		addr, err := uint64Arg("addr", addrv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		length, err := lengthArg(lengthv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		pattern, err := bytesArg("pattern", patv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		found, err := env.ctx.Kernel().Find(addr, length, pattern)
		switch {
		case err == nil:
			return starlark.MakeUint64(found), nil
		case errors.Is(err, kernel.ErrNotFound) && !errors.Is(err, kernel.ErrCapabilityDenied):
			return starlark.None, nil
		}
		return starlark.None, decorateError(thread, err)
	})

	env.builtin("base", "()", "returns the kernel base address.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		base, err := env.ctx.Kernel().Base()
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.MakeUint64(base), nil
	})

	env.builtin("regions", "(Min=0, Max=0)", "returns the list of kernel regions between Min and Max, submaps included. A zero Max means the whole address space.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		minv, maxv := starlark.MakeInt(0), starlark.MakeInt(0)
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "min?", &minv, "max?", &maxv); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		min, err := uint64Arg("min", minv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		max, err := uint64Arg("max", maxv)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		entries, _, err := env.ctx.Kernel().Walker().Collect(kernel.WalkOptions{Min: min, Max: max})
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		regions := make([]kernel.Region, 0, len(entries))
		for _, e := range entries {
			if e.Kind == kernel.EntryRegion {
				regions = append(regions, e.Region)
			}
		}
		return toStarlarkValue(regions), nil
	})

	env.builtin("tag_label", "(Tag)", "returns the label of a region allocation tag or None.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var tag int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "tag", &tag); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		if tag < 0 {
			return starlark.None, nil
		}
		label, ok := env.ctx.Tags().Label(uint32(tag))
		if !ok {
			return starlark.None, nil
		}
		return starlark.String(label), nil
	})
}
