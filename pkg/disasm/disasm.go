// Package disasm decodes arm64 instructions read out of kernel memory.
package disasm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/arch/arm64/arm64asm"
)

// InstructionSize is the width of every arm64 instruction.
const InstructionSize = 4

// Syntax selects the assembly dialect.
type Syntax uint8

const (
	GNUFlavour Syntax = iota
	GoFlavour
)

// Kind classifies control flow instructions.
type Kind uint8

const (
	Other Kind = iota
	Call
	Ret
	Jmp
	HardBreak
)

// Instruction is one decoded word.
type Instruction struct {
	Addr  uint64
	Bytes []byte
	Text  string
	Kind  Kind
	// Dest is the target of a direct branch, zero otherwise.
	Dest uint64
	// Err is set when the word could not be decoded.
	Err error
}

// Reader reads kernel memory. kernel.Kernel implements it.
type Reader interface {
	Read(addr uint64, buf []byte) (int, error)
}

// ErrNothingRead is returned when not a single instruction could be read.
var ErrNothingRead = errors.New("no memory could be read")

// Disassemble reads length bytes at addr and decodes them. A short read
// decodes what was delivered.
func Disassemble(mem Reader, addr uint64, length int, syntax Syntax) ([]Instruction, error) {
	buf := make([]byte, length)
	n, err := mem.Read(addr, buf)
	if n <= 0 {
		if err == nil {
			err = ErrNothingRead
		}
		return nil, err
	}
	return Decode(addr, buf[:n], syntax), nil
}

// Decode decodes every word of mem, which starts at addr. Trailing bytes
// that do not fill a word are returned as an undecodable instruction.
func Decode(addr uint64, mem []byte, syntax Syntax) []Instruction {
	var out []Instruction
	for off := 0; off < len(mem); off += InstructionSize {
		pc := addr + uint64(off)
		end := off + InstructionSize
		if end > len(mem) {
			end = len(mem)
		}
		out = append(out, decodeOne(pc, mem[off:end], syntax))
	}
	return out
}

func decodeOne(pc uint64, mem []byte, syntax Syntax) Instruction {
	ins := Instruction{Addr: pc, Bytes: mem}
	inst, err := arm64asm.Decode(mem)
	if err != nil {
		ins.Err = err
		ins.Text = "?"
		return ins
	}
	switch syntax {
	case GoFlavour:
		ins.Text = strings.TrimSpace(arm64asm.GoSyntax(inst, pc, nil, nil))
	default:
		ins.Text = strings.TrimSpace(arm64asm.GNUSyntax(inst))
	}
	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		ins.Kind = Call
	case arm64asm.RET, arm64asm.ERET:
		ins.Kind = Ret
	case arm64asm.B, arm64asm.BR:
		ins.Kind = Jmp
	case arm64asm.BRK:
		ins.Kind = HardBreak
	}
	if ins.Kind == Call || ins.Kind == Jmp {
		if rel, ok := inst.Args[0].(arm64asm.PCRel); ok {
			ins.Dest = pc + uint64(rel)
		}
	}
	return ins
}

// Print writes instructions as an aligned listing.
func Print(out io.Writer, insts []Instruction) error {
	bw := bufio.NewWriter(out)
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	for _, inst := range insts {
		word := fmt.Sprintf("%x", inst.Bytes)
		if len(inst.Bytes) == InstructionSize {
			word = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(inst.Bytes))
		}
		dest := ""
		if inst.Dest != 0 {
			dest = fmt.Sprintf("\t; %#016x", inst.Dest)
		}
		fmt.Fprintf(tw, "%#016x:\t%s\t%s%s\n", inst.Addr, word, inst.Text, dest)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return bw.Flush()
}
