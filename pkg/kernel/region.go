package kernel

// Protection is a vm_prot_t.
type Protection int32

const (
	ProtRead    Protection = 0x1
	ProtWrite   Protection = 0x2
	ProtExecute Protection = 0x4

	ProtDefault = ProtRead | ProtWrite
	ProtAll     = ProtRead | ProtWrite | ProtExecute
)

// String renders the protection as "rwx" with dashes for missing bits.
func (p Protection) String() string {
	return string([]byte{p.flag(ProtRead, 'r'), p.flag(ProtWrite, 'w'), p.flag(ProtExecute, 'x')})
}

// Extended renders the protection as "+rwx", where '+' marks bits outside
// of rwx.
func (p Protection) Extended() string {
	other := byte('-')
	if p&^ProtAll != 0 {
		other = '+'
	}
	return string(other) + p.String()
}

func (p Protection) flag(bit Protection, c byte) byte {
	if p&bit != 0 {
		return c
	}
	return '-'
}

// ShareMode is the SM_* share mode of a region.
type ShareMode uint8

const (
	ShareCOW ShareMode = iota + 1
	SharePrivate
	ShareEmpty
	ShareShared
	ShareTrueShared
	SharePrivateAliased
	ShareSharedAliased
	ShareLargePage
)

var shareModeNames = map[ShareMode]string{
	ShareCOW:            "cow",
	SharePrivate:        "prv",
	ShareEmpty:          "nul",
	ShareShared:         "shm",
	ShareTrueShared:     "tru",
	SharePrivateAliased: "p/a",
	ShareSharedAliased:  "s/a",
	ShareLargePage:      "big",
}

func (m ShareMode) String() string {
	if s, ok := shareModeNames[m]; ok {
		return s
	}
	return "???"
}

// Inheritance is a vm_inherit_t.
type Inheritance uint32

const (
	InheritShare Inheritance = iota
	InheritCopy
	InheritNone
	InheritDonateCopy
)

func (i Inheritance) String() string {
	switch i {
	case InheritShare:
		return "sh"
	case InheritCopy:
		return "cp"
	case InheritNone:
		return "--"
	case InheritDonateCopy:
		return "dn"
	}
	return "??"
}

// Region describes one mapped region as produced by the Walker.
type Region struct {
	RegionInfo

	// Level is the submap nesting level the walker was at when it
	// reported the region.
	Level uint32
}

// End returns the first address after the region.
func (r *Region) End() uint64 {
	return r.Addr + r.Size
}

// Kind returns "map" for submaps, "sub" for regions nested in a submap
// and "mem" otherwise.
func (r *Region) Kind() string {
	switch {
	case r.IsSubmap:
		return "map"
	case r.Depth > 0:
		return "sub"
	}
	return "mem"
}

// TagLabel resolves the region's allocation tag.
func (r *Region) TagLabel() (string, bool) {
	return TagLabel(r.UserTag)
}

// ScaleSize converts a byte count into the unit kmap prints: kilobytes,
// switching to megabytes and then gigabytes while the value is above
// 4096. Remainders are dropped.
func ScaleSize(size uint64) (uint64, byte) {
	unit := byte('K')
	v := size / 1024
	if v > 4096 {
		unit = 'M'
		v /= 1024
		if v > 4096 {
			unit = 'G'
			v /= 1024
		}
	}
	return v, unit
}
