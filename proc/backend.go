package proc

import (
	"encoding/binary"
	"syscall"

	"github.com/pkg/errors"
	sys "golang.org/x/sys/unix"
)

const wordSize = 8

// Regs is the slice of the register file the core needs: the instruction
// pointer and the frame base.
type Regs struct {
	PC uint64
	BP uint64
}

// backend is the trace surface of one child process. All memory and register
// traffic for an inferior funnels through its single backend value, strictly
// sequentially; the resume protocol relies on no interleaving between its
// sub-steps. The real implementation is ptrace; tests inject a fake.
type backend interface {
	PeekWord(addr uint64) (uint64, error)
	PokeWord(addr uint64, word uint64) error
	ReadData(addr uint64, buf []byte) (int, error)
	ReadRegs() (Regs, error)
	WriteRegs(Regs) error
	Step() error
	Cont() error
	Wait() (Status, error)
	Kill() error
}

type ptraceBackend struct {
	pid int
}

func (p *ptraceBackend) PeekWord(addr uint64) (uint64, error) {
	buf := make([]byte, wordSize)
	if _, err := sys.PtracePeekData(p.pid, uintptr(addr), buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (p *ptraceBackend) PokeWord(addr uint64, word uint64) error {
	buf := make([]byte, wordSize)
	binary.LittleEndian.PutUint64(buf, word)
	_, err := sys.PtracePokeData(p.pid, uintptr(addr), buf)
	return err
}

func (p *ptraceBackend) ReadData(addr uint64, buf []byte) (int, error) {
	return sys.PtracePeekData(p.pid, uintptr(addr), buf)
}

func (p *ptraceBackend) ReadRegs() (Regs, error) {
	var prs sys.PtraceRegs
	if err := sys.PtraceGetRegs(p.pid, &prs); err != nil {
		return Regs{}, err
	}
	return Regs{PC: prs.PC(), BP: prs.Rbp}, nil
}

func (p *ptraceBackend) WriteRegs(regs Regs) error {
	// read-modify-write so the rest of the register file is untouched
	var prs sys.PtraceRegs
	if err := sys.PtraceGetRegs(p.pid, &prs); err != nil {
		return err
	}
	prs.SetPC(regs.PC)
	prs.Rbp = regs.BP
	return sys.PtraceSetRegs(p.pid, &prs)
}

func (p *ptraceBackend) Step() error {
	return sys.PtraceSingleStep(p.pid)
}

func (p *ptraceBackend) Cont() error {
	return sys.PtraceCont(p.pid, 0)
}

func (p *ptraceBackend) Wait() (Status, error) {
	var ws sys.WaitStatus
	if _, err := sys.Wait4(p.pid, &ws, 0, nil); err != nil {
		return Status{}, err
	}
	return statusFromWait(ws, p.ReadRegs)
}

func (p *ptraceBackend) Kill() error {
	err := sys.Kill(p.pid, sys.SIGKILL)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// statusFromWait translates a raw wait status into a Status. Anything outside
// exited/signaled/stopped is an unsupported event and is surfaced as an
// error, never swallowed.
func statusFromWait(ws sys.WaitStatus, readRegs func() (Regs, error)) (Status, error) {
	switch {
	case ws.Exited():
		return Status{Kind: StatusExited, Code: ws.ExitStatus()}, nil
	case ws.Signaled():
		return Status{Kind: StatusSignaled, Sig: ws.Signal()}, nil
	case ws.Stopped():
		regs, err := readRegs()
		if err != nil {
			return Status{}, err
		}
		return Status{Kind: StatusStopped, Sig: ws.StopSignal(), PC: regs.PC}, nil
	}
	return Status{}, errors.Errorf("unsupported wait status 0x%x", uint32(ws))
}
