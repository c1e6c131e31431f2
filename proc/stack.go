package proc

import (
	"go.uber.org/zap"

	"github.com/minidbg/minidbg/log"
)

// Resolver is the slice of the symbol data the unwinder consumes.
type Resolver interface {
	PCToFunc(pc uint64) (string, bool)
	PCToLine(pc uint64) (string, int, bool)
}

// Frame is one resolved entry of a backtrace walk. Frames are rebuilt from
// live register state on every walk and never persisted.
type Frame struct {
	PC   uint64
	Func string
	File string
	Line int
}

// saved return address sits one word above the saved frame base
const retAddrOffset = wordSize

// entryFuncs name the conventional outermost frame: main.main for Go
// targets, main for C-style ones.
var entryFuncs = []string{"main.main", "main"}

func isEntryFunc(name string) bool {
	for _, e := range entryFuncs {
		if name == e {
			return true
		}
	}
	return false
}

// Backtrace walks saved frame pointers from the current stop and resolves
// each return site against the symbol data. The walk ends at the entry
// function, or silently at the first pc the resolver does not know: frame
// pointer walking cannot proceed past unknown code, so the frames collected
// so far are the answer, not an error. Precondition the walker cannot
// verify: the target retains frame pointers.
func (inf *Inferior) Backtrace(resolver Resolver) ([]Frame, error) {
	regs, err := inf.backend.ReadRegs()
	if err != nil {
		return nil, err
	}
	pc, base := regs.PC, regs.BP

	var frames []Frame
	for {
		fn, ok := resolver.PCToFunc(pc)
		if !ok {
			log.Log.Debug("backtrace: unresolved function", zap.Uint64("pc", pc))
			return frames, nil
		}
		file, line, ok := resolver.PCToLine(pc)
		if !ok {
			log.Log.Debug("backtrace: unresolved line", zap.Uint64("pc", pc))
			return frames, nil
		}
		frames = append(frames, Frame{PC: pc, Func: fn, File: file, Line: line})
		if isEntryFunc(fn) {
			return frames, nil
		}
		if pc, err = inf.backend.PeekWord(base + retAddrOffset); err != nil {
			return frames, err
		}
		if base, err = inf.backend.PeekWord(base); err != nil {
			return frames, err
		}
	}
}
