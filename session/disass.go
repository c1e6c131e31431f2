package session

import (
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// doDisass disassembles the function the inferior is stopped in. Planted
// breakpoints are shown as the instructions they displaced, not as int3
// bytes, and marked in the margin.
func (s *Session) doDisass() error {
	var (
		lowpc   uint64
		highpc  uint64
		ok      bool
		asmInst x86asm.Inst
		err     error
	)
	if lowpc, highpc, ok = s.syms.FuncRange(s.stopPC); !ok {
		return errors.Errorf("no function at %#x", s.stopPC)
	}

	mem := make([]byte, highpc-lowpc)
	n, err := s.inf.ReadMemory(lowpc, mem)
	if err != nil {
		return err
	}
	mem = mem[:n]

	bps := s.inf.Breakpoints()
	out := make([]string, 0, len(mem)/4)

	curPc := lowpc
	for len(mem) > 0 {
		bpFlag := " "
		if bp, ok := bps[curPc]; ok {
			mem[0] = bp.Orig
			bpFlag = "."
		}

		if asmInst, err = x86asm.Decode(mem, 64); err != nil {
			return errors.Wrapf(err, "decode at %#x", curPc)
		}

		if curPc <= s.stopPC && s.stopPC < curPc+uint64(asmInst.Len) {
			bpFlag += "===> "
		} else {
			bpFlag += "     "
		}

		loc := ""
		if file, lineno, ok := s.syms.PCToLine(curPc); ok {
			loc = fmt.Sprintf("%s:%d", path.Base(file), lineno)
		}
		out = append(out, fmt.Sprintf("%s%-18s %-10x %-20x %s\n",
			bpFlag, loc, curPc, mem[:asmInst.Len], asmInst.String()))

		mem = mem[asmInst.Len:]
		curPc += uint64(asmInst.Len)
	}

	fmt.Fprintln(s.stdout, strings.Join(out, ""))
	return nil
}
