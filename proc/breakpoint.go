package proc

import (
	"go.uber.org/zap"

	"github.com/minidbg/minidbg/log"
)

// trapInstruction is the single-byte int3 opcode. Executing it stops the
// inferior with SIGTRAP and leaves the pc one past the patched address.
const trapInstruction = 0xCC

// Breakpoint records one patched address. Orig holds the byte the trap
// opcode displaced, and is meaningful exactly while the trap byte occupies
// Addr in the inferior's memory.
type Breakpoint struct {
	Addr uint64
	Orig byte
}

// writeByte splices val into the aligned word containing addr and returns
// the byte it replaced. Ptrace traffics in whole words; this is the only
// memory mutation the debugger performs on the inferior.
func writeByte(b backend, addr uint64, val byte) (byte, error) {
	aligned := addr &^ (wordSize - 1)
	shift := (addr - aligned) * 8

	word, err := b.PeekWord(aligned)
	if err != nil {
		return 0, err
	}
	orig := byte(word >> shift)
	updated := (word &^ (0xff << shift)) | (uint64(val) << shift)
	if err := b.PokeWord(aligned, updated); err != nil {
		return 0, err
	}
	return orig, nil
}

// InsertBreakpoint plants the trap opcode at addr and records the displaced
// byte. Idempotent: a tracked address succeeds without touching memory. A
// memory error is returned and the address stays unpatched and untracked.
func (inf *Inferior) InsertBreakpoint(addr uint64) error {
	if _, ok := inf.breakpoints[addr]; ok {
		return nil
	}
	orig, err := writeByte(inf.backend, addr, trapInstruction)
	if err != nil {
		return err
	}
	inf.breakpoints[addr] = &Breakpoint{Addr: addr, Orig: orig}
	log.Log.Debug("insert breakpoint", zap.Uint64("addr", addr), zap.Uint8("orig", orig))
	return nil
}

// ClearBreakpoint restores the displaced byte at addr and drops the table
// entry. Clearing an untracked address is a no-op.
func (inf *Inferior) ClearBreakpoint(addr uint64) error {
	bp, ok := inf.breakpoints[addr]
	if !ok {
		return nil
	}
	if _, err := writeByte(inf.backend, addr, bp.Orig); err != nil {
		return err
	}
	delete(inf.breakpoints, addr)
	return nil
}

// Breakpoints returns a snapshot of the table keyed by address.
func (inf *Inferior) Breakpoints() map[uint64]Breakpoint {
	snap := make(map[uint64]Breakpoint, len(inf.breakpoints))
	for addr, bp := range inf.breakpoints {
		snap[addr] = *bp
	}
	return snap
}
