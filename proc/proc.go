// Package proc owns the traced child process: it spawns it with ptrace
// enabled, plants and lifts software breakpoints, resumes across them, and
// walks its stack. No other package reads or writes the inferior's memory or
// registers.
package proc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	sys "golang.org/x/sys/unix"

	"github.com/minidbg/minidbg/log"
)

type StatusKind int

const (
	// StatusStopped: the inferior hit a signal stop and is still alive.
	StatusStopped StatusKind = iota
	// StatusExited: the inferior exited normally; the handle is dead.
	StatusExited
	// StatusSignaled: a signal terminated the inferior; the handle is dead.
	StatusSignaled
)

// Status is the translated result of one wait on the inferior.
type Status struct {
	Kind StatusKind
	// Sig is the stop or termination signal for Stopped and Signaled.
	Sig syscall.Signal
	// PC is the instruction pointer at the stop, Stopped only.
	PC uint64
	// Code is the exit status, Exited only.
	Code int
}

func (s Status) String() string {
	switch s.Kind {
	case StatusStopped:
		return fmt.Sprintf("stopped (signal %v, pc %#x)", s.Sig, s.PC)
	case StatusExited:
		return fmt.Sprintf("exited (status %d)", s.Code)
	case StatusSignaled:
		return fmt.Sprintf("terminated (signal %v)", s.Sig)
	}
	return "unknown"
}

// ResumeError reports a memory or register failure that hit mid way through
// the restore/step/re-arm sequence. The inferior's text segment may hold a
// half-applied patch; the session must not continue it.
type ResumeError struct {
	Err error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("inferior state indeterminate after failed resume: %v", e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// Inferior is the exclusive owner of one traced child process and of the
// breakpoint table patched into it. It is created by Launch and dies with
// the process.
type Inferior struct {
	cmd         *exec.Cmd
	backend     backend
	breakpoints map[uint64]*Breakpoint
}

// Launch starts target under ptrace, waits for the initial exec stop, and
// replays every pending breakpoint address into the fresh process. Any stop
// other than SIGTRAP, or a failing replay, kills the child and fails the
// launch.
func Launch(target string, args []string, pending []uint64) (*Inferior, error) {
	if fi, err := os.Stat(target); err != nil {
		return nil, err
	} else if fi.Mode()&0111 == 0 {
		return nil, errors.Errorf("%s is not executable", target)
	}

	cmd := exec.Command(target, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Foreground: false}

	// every ptrace call must come from the thread that attached
	runtime.LockOSThread()

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	inf := &Inferior{
		cmd:         cmd,
		backend:     &ptraceBackend{pid: cmd.Process.Pid},
		breakpoints: make(map[uint64]*Breakpoint),
	}

	status, err := inf.backend.Wait()
	if err != nil {
		inf.Kill()
		return nil, err
	}
	if status.Kind != StatusStopped || status.Sig != sys.SIGTRAP {
		inf.Kill()
		return nil, errors.Errorf("unexpected initial stop: %v", status)
	}
	log.Log.Debug("launch", zap.Int("pid", cmd.Process.Pid), zap.Uint64("pc", status.PC))

	for _, addr := range pending {
		if err := inf.InsertBreakpoint(addr); err != nil {
			inf.Kill()
			return nil, errors.Wrapf(err, "replay breakpoint %#x", addr)
		}
	}
	return inf, nil
}

// Pid of the traced child.
func (inf *Inferior) Pid() int {
	return inf.cmd.Process.Pid
}

// armedOverBreakpoint is the state of one breakpoint whose trap byte has
// been lifted so the displaced instruction can execute once. Between disarm
// and rearm the table entry's invariant is suspended: Orig is in memory and
// the trap byte is not.
type armedOverBreakpoint struct {
	addr uint64
	orig byte
}

// disarm restores the displaced byte and rewinds the pc to the breakpoint
// address. The trap fires after the 1-byte opcode executes, so the stop pc
// is one past the patched address.
func (a *armedOverBreakpoint) disarm(b backend) error {
	if _, err := writeByte(b, a.addr, a.orig); err != nil {
		return err
	}
	regs, err := b.ReadRegs()
	if err != nil {
		return err
	}
	regs.PC = a.addr
	return b.WriteRegs(regs)
}

// rearm puts the trap byte back after the displaced instruction ran.
func (a *armedOverBreakpoint) rearm(b backend) error {
	_, err := writeByte(b, a.addr, trapInstruction)
	return err
}

// stepOver executes the displaced instruction of bp: restore, rewind,
// single-step, re-arm. It returns resumed=true when the inferior is stopped
// again with the trap re-planted and the caller should continue; any other
// step outcome (exit, termination, unrelated stop) is returned as-is with
// resumed=false and the trap left lifted.
func (inf *Inferior) stepOver(bp *Breakpoint) (status Status, resumed bool, err error) {
	armed := &armedOverBreakpoint{addr: bp.Addr, orig: bp.Orig}
	if err = armed.disarm(inf.backend); err != nil {
		return Status{}, false, err
	}
	if err = inf.backend.Step(); err != nil {
		return Status{}, false, err
	}
	if status, err = inf.backend.Wait(); err != nil {
		return Status{}, false, err
	}
	if status.Kind != StatusStopped || status.Sig != sys.SIGTRAP {
		return status, false, nil
	}
	if err = armed.rearm(inf.backend); err != nil {
		return Status{}, false, err
	}
	return Status{}, true, nil
}

// Continue resumes the inferior until its next stop or death. If the pc sits
// one past a tracked breakpoint the displaced instruction is stepped over
// first; resuming through the trap byte without that would execute it as
// code or never get past the address. Failures inside the step-over wrap
// ResumeError and are fatal to the session.
func (inf *Inferior) Continue() (Status, error) {
	regs, err := inf.backend.ReadRegs()
	if err != nil {
		return Status{}, err
	}
	if bp, ok := inf.breakpoints[regs.PC-1]; ok {
		status, resumed, err := inf.stepOver(bp)
		if err != nil {
			return Status{}, &ResumeError{Err: err}
		}
		if !resumed {
			return status, nil
		}
	}
	if err := inf.backend.Cont(); err != nil {
		return Status{}, err
	}
	return inf.backend.Wait()
}

// Wait blocks until the inferior changes state and translates the result.
func (inf *Inferior) Wait() (Status, error) {
	return inf.backend.Wait()
}

// Kill forcibly terminates the inferior and reaps it. Safe on an already
// dead child: reaping failures are ignored and the loop never blocks on a
// process that cannot change state again.
func (inf *Inferior) Kill() {
	if err := inf.backend.Kill(); err != nil {
		log.Log.Warn("kill", zap.Error(err))
		return
	}
	for {
		status, err := inf.backend.Wait()
		if err != nil {
			return
		}
		if status.Kind != StatusStopped {
			return
		}
		// a pending trap stop can be reported before the SIGKILL lands
		if err := inf.backend.Cont(); err != nil {
			return
		}
	}
}

// ReadMemory reads len(buf) bytes of the inferior's memory at addr.
func (inf *Inferior) ReadMemory(addr uint64, buf []byte) (int, error) {
	return inf.backend.ReadData(addr, buf)
}
