package kernel

// TagTable maps allocation tags to labels of the form "kernel/user": the
// first half names the VM_KERN_MEMORY_* meaning of the tag and the second
// the VM_MEMORY_* meaning, '?' where there is none.
type TagTable map[uint32]string

// DefaultTags is the built-in tag table.
var DefaultTags = TagTable{
	0:   "none/?",
	1:   "osfmk/malloc",
	2:   "bsd/malloc",
	3:   "iokit/malloc",
	4:   "libkern/malloc",
	5:   "oskext/sbrk",
	6:   "kext/realloc",
	7:   "ipc/malloc",
	8:   "stack/malloc",
	9:   "cpu/malloc",
	10:  "pmap/analysis",
	11:  "pte/malloc",
	12:  "zone/malloc",
	13:  "kalloc/malloc",
	14:  "compressor/?",
	15:  "compressed_data/?",
	16:  "phantom/?",
	17:  "waitq/?",
	18:  "diag/?",
	19:  "log/?",
	20:  "file/mach_msg",
	21:  "mbuf/iokit",
	22:  "ubc/?",
	23:  "security/?",
	24:  "mlock/?",
	25:  "reason/?",
	26:  "skywalk/?",
	27:  "ltable/?",
	28:  "hv/?",
	29:  "retired/?",
	30:  "?/stack",
	31:  "?/guard",
	32:  "?/shared_pmap",
	33:  "?/dylib",
	34:  "?/objc",
	35:  "?/unshared_pmap",
	40:  "?/appkit",
	41:  "?/foundation",
	42:  "?/coregraphics",
	43:  "?/coreservices",
	44:  "?/java",
	45:  "?/coredata",
	46:  "?/coredata",
	50:  "?/ats",
	51:  "?/layerkit",
	52:  "?/cgimage",
	53:  "?/tcmalloc",
	54:  "?/coregraphics",
	55:  "?/coregraphics",
	56:  "?/coregraphics",
	57:  "?/coregraphics",
	58:  "?/coregraphics",
	60:  "?/dyld",
	61:  "?/dyld_malloc",
	62:  "?/sqlite",
	63:  "?/javascript",
	64:  "?/javascript",
	65:  "?/javascript",
	66:  "?/glsl",
	67:  "?/opencl",
	68:  "?/coreimage",
	69:  "?/webcore",
	70:  "?/imageio",
	71:  "?/coreprofile",
	72:  "?/assetsd",
	73:  "?/os_alloc_once",
	74:  "?/libdispatch",
	75:  "?/accelerate",
	76:  "?/coreui",
	77:  "?/coreuifile",
	78:  "?/genealogy",
	79:  "?/rawcamera",
	80:  "?/corpseinfo",
	81:  "?/asl",
	82:  "?/swift",
	83:  "?/swift",
	84:  "?/dhmm",
	86:  "?/scenekit",
	87:  "?/skywalk",
	88:  "?/iosurface",
	89:  "?/libnetwork",
	90:  "?/audio",
	91:  "?/videobitstream",
	92:  "?/cm_xpc",
	93:  "?/cm_xpc",
	94:  "?/cm_memorypool",
	95:  "?/cm_readcache",
	96:  "?/cm_crabs",
	97:  "?/quicklook",
	98:  "?/accounts",
	99:  "?/sanitizer",
	100: "?/ioaccelerator",
	101: "?/cm_regwarp",
	102: "?/ear_decoder",
	103: "?/coreui",
}

const (
	rosettaTagFirst     = 230
	rosettaTagLast      = 239
	applicationTagFirst = 249
	applicationTagLast  = 255
)

// Label resolves tag. Tags 230-239 are Rosetta's and 249-255 are reserved
// for applications; anything else missing from the table is unresolved.
func (t TagTable) Label(tag uint32) (string, bool) {
	if s, ok := t[tag]; ok {
		return s, true
	}
	switch {
	case tag >= rosettaTagFirst && tag <= rosettaTagLast:
		return "?/rosetta", true
	case tag >= applicationTagFirst && tag <= applicationTagLast:
		return "?/application", true
	}
	return "", false
}

// With returns a copy of t with extra merged in.
func (t TagTable) With(extra map[int]string) TagTable {
	out := make(TagTable, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		out[uint32(k)] = v
	}
	return out
}

// TagLabel resolves tag through DefaultTags.
func TagLabel(tag uint32) (string, bool) {
	return DefaultTags.Label(tag)
}
