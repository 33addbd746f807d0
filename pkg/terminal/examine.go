package terminal

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

const hexdumpWidth = 16

// hexdump formats mem, which was read at address, 16 bytes per line
// followed by the printable characters.
func hexdump(address uint64, mem []byte) string {
	var b strings.Builder
	for off := 0; off < len(mem); off += hexdumpWidth {
		end := off + hexdumpWidth
		if end > len(mem) {
			end = len(mem)
		}
		line := mem[off:end]
		fmt.Fprintf(&b, "%#016x: ", address+uint64(off))
		for i := 0; i < hexdumpWidth; i++ {
			if i == hexdumpWidth/2 {
				b.WriteByte(' ')
			}
			if i < len(line) {
				fmt.Fprintf(&b, " %02x", line[i])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString("  |")
		for _, c := range line {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// prettyExamineMemory formats mem as little endian words of size bytes
// in the given format (b, o, d or x).
func prettyExamineMemory(address uint64, mem []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(mem)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(mem) {
				fmt.Fprintf(w, colFormat, littleEndianUint(mem[offset:offset+colBytes]))
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

func littleEndianUint(b []byte) uint64 {
	var word [8]byte
	copy(word[:], b)
	return binary.LittleEndian.Uint64(word[:])
}
