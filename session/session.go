// Package session drives the debugging session: it validates parsed commands
// against the current state, invokes the trace core, and reports results.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/minidbg/minidbg/bininfo"
	"github.com/minidbg/minidbg/config"
	"github.com/minidbg/minidbg/log"
	"github.com/minidbg/minidbg/proc"
)

// inferior is what the dispatcher needs from a live traced process; tests
// substitute a scripted implementation.
type inferior interface {
	Continue() (proc.Status, error)
	InsertBreakpoint(addr uint64) error
	Backtrace(resolver proc.Resolver) ([]proc.Frame, error)
	Breakpoints() map[uint64]proc.Breakpoint
	ReadMemory(addr uint64, buf []byte) (int, error)
	Kill()
	Pid() int
}

// symbols is the resolver surface the dispatcher consumes, satisfied by
// bininfo.BinInfo.
type symbols interface {
	proc.Resolver
	LineToPC(file string, line int) (uint64, bool)
	FuncToPC(name string) (uint64, bool)
	FuncRange(pc uint64) (uint64, uint64, bool)
	DefaultFile() string
	Sources() []string
}

type launchFunc func(target string, args []string, pending []uint64) (inferior, error)

// Session is the debugger state machine. With inf nil it is in the NoProcess
// state; with inf set the inferior is stopped and admits continue, backtrace
// and friends. The configured breakpoint set outlives inferiors: every run
// replays it into the fresh process.
type Session struct {
	target      string
	defaultArgs []string
	syms        symbols
	cfg         *config.Config

	launch launchFunc
	inf    inferior

	configured []uint64
	stopPC     uint64

	stdout io.Writer
	stderr io.Writer

	fatal error
}

// New builds a session for target. defaultArgs is the argument vector used
// by a bare run command.
func New(target string, defaultArgs []string, syms *bininfo.BinInfo, cfg *config.Config) *Session {
	return &Session{
		target:      target,
		defaultArgs: defaultArgs,
		syms:        syms,
		cfg:         cfg,
		launch: func(target string, args []string, pending []uint64) (inferior, error) {
			return proc.Launch(target, args, pending)
		},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Do parses and dispatches one input line. It reports quit=true when the
// session should end, either by request or because a fatal error was
// recorded in Err.
func (s *Session) Do(input string) (quit bool) {
	cmd, err := parseCommand(input)
	if err != nil {
		fmt.Fprintf(s.stderr, "%v\n", err)
		return false
	}
	log.Log.Debug("dispatch", zap.String("input", input))
	return s.dispatch(cmd)
}

// Err reports the fatal error that ended the session, if any.
func (s *Session) Err() error {
	return s.fatal
}

func (s *Session) dispatch(cmd *command) bool {
	switch cmd.kind {
	case cmdRun:
		s.doRun(cmd.args)
	case cmdContinue:
		if s.inf == nil {
			s.printNoProcess()
			return false
		}
		s.doContinue()
	case cmdBacktrace:
		if s.inf == nil {
			s.printNoProcess()
			return false
		}
		s.doBacktrace()
	case cmdBreak:
		s.doBreak(cmd.loc)
	case cmdBreakList:
		s.doBreakList()
	case cmdList:
		s.doList(cmd.loc)
	case cmdDisass:
		if s.inf == nil {
			s.printNoProcess()
			return false
		}
		if err := s.doDisass(); err != nil {
			fmt.Fprintf(s.stderr, "%v\n", err)
		}
	case cmdQuit:
		if s.inf != nil {
			s.inf.Kill()
			s.inf = nil
		}
		return true
	}
	return s.fatal != nil
}

func (s *Session) doRun(args []string) {
	if s.inf != nil {
		s.inf.Kill()
		s.inf = nil
	}
	if len(args) == 0 {
		args = s.defaultArgs
	}
	inf, err := s.launch(s.target, args, s.configured)
	if err != nil {
		fmt.Fprintf(s.stderr, "could not start %s: %v\n", s.target, err)
		return
	}
	s.inf = inf
	fmt.Fprintf(s.stdout, "started process %d\n", inf.Pid())
	s.doContinue()
}

func (s *Session) doContinue() {
	pid := s.inf.Pid()
	status, err := s.inf.Continue()
	if err != nil {
		// a failure inside the trace protocol leaves the inferior in an
		// indeterminate state; report it and end the session
		fmt.Fprintf(s.stderr, "%v\n", err)
		var rerr *proc.ResumeError
		if errors.As(err, &rerr) {
			fmt.Fprintf(s.stderr, "cannot continue process %d safely, ending session\n", pid)
		}
		s.fatal = err
		return
	}

	switch status.Kind {
	case proc.StatusStopped:
		s.stopPC = status.PC
		fmt.Fprintf(s.stdout, "process %d stopped (signal %v)\n", pid, status.Sig)
		s.reportLocation(status.PC)
	case proc.StatusExited:
		fmt.Fprintf(s.stdout, "process %d has exited with status %d\n", pid, status.Code)
		s.inf = nil
	case proc.StatusSignaled:
		fmt.Fprintf(s.stdout, "process %d terminated by signal %v\n", pid, status.Sig)
		s.inf = nil
	}
}

func (s *Session) reportLocation(pc uint64) {
	fn, ok := s.syms.PCToFunc(pc)
	if !ok {
		return
	}
	file, line, ok := s.syms.PCToLine(pc)
	if !ok {
		return
	}
	fmt.Fprintf(s.stdout, "at %s (%s:%d)\n", fn, file, line)
	if err := listFileLine(s.stdout, file, line, s.cfg.SourceListLines); err != nil {
		log.Log.Debug("list at stop", zap.Error(err))
	}
}

func (s *Session) doBacktrace() {
	frames, err := s.inf.Backtrace(s.syms)
	if err != nil {
		// truncated walk: report what resolved before the failure
		log.Log.Debug("backtrace truncated", zap.Error(err))
	}
	for _, f := range frames {
		fmt.Fprintf(s.stdout, "%s (%s:%d)\n", f.Func, f.File, f.Line)
	}
}

func (s *Session) doBreak(loc string) {
	addr, err := s.resolveLoc(loc)
	if err != nil {
		fmt.Fprintf(s.stderr, "invalid breakpoint %q: %v\n", loc, err)
		return
	}
	configured := false
	for _, a := range s.configured {
		if a == addr {
			configured = true
			break
		}
	}
	if !configured {
		s.configured = append(s.configured, addr)
	}
	if s.inf != nil {
		if err := s.inf.InsertBreakpoint(addr); err != nil {
			fmt.Fprintf(s.stderr, "could not set breakpoint at %#x: %v\n", addr, err)
			return
		}
	}
	if file, line, ok := s.syms.PCToLine(addr); ok {
		fmt.Fprintf(s.stdout, "breakpoint set at %#x (%s:%d)\n", addr, file, line)
	} else {
		fmt.Fprintf(s.stdout, "breakpoint set at %#x\n", addr)
	}
}

func (s *Session) doBreakList() {
	if len(s.configured) == 0 {
		fmt.Fprintf(s.stdout, "no breakpoints\n")
		return
	}
	for i, addr := range s.configured {
		if file, line, ok := s.syms.PCToLine(addr); ok {
			fmt.Fprintf(s.stdout, "%-2d. %#x %s:%d\n", i+1, addr, file, line)
		} else {
			fmt.Fprintf(s.stdout, "%-2d. %#x\n", i+1, addr)
		}
	}
}

func (s *Session) doList(loc string) {
	var (
		file string
		line int
	)
	if loc != "" {
		var err error
		if file, line, err = parseLoc(loc); err != nil {
			fmt.Fprintf(s.stderr, "%v\n", err)
			return
		}
		if full, _, ok := s.resolveFile(file, line); ok {
			file = full
		}
	} else {
		if s.inf == nil {
			s.printNoProcess()
			return
		}
		var ok bool
		if file, line, ok = s.syms.PCToLine(s.stopPC); !ok {
			fmt.Fprintf(s.stderr, "no line information for %#x\n", s.stopPC)
			return
		}
	}
	if err := listFileLine(s.stdout, file, line, s.cfg.SourceListLines); err != nil {
		fmt.Fprintf(s.stderr, "%v\n", err)
	}
}

// resolveFile maps a possibly relative file name onto the path recorded in
// the line table.
func (s *Session) resolveFile(file string, line int) (string, int, bool) {
	if pc, ok := s.syms.LineToPC(file, line); ok {
		if full, fullLine, ok := s.syms.PCToLine(pc); ok {
			return full, fullLine, true
		}
	}
	return "", 0, false
}

// resolveLoc turns a breakpoint spec into a concrete address, trying in
// order: raw hexadecimal address, source line, function name. The spec is
// resolved exactly once; the configured set stores addresses only.
func (s *Session) resolveLoc(spec string) (uint64, error) {
	if strings.HasPrefix(spec, "*") || strings.HasPrefix(strings.ToLower(spec), "0x") {
		raw := strings.TrimPrefix(spec, "*")
		raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
		addr, err := strconv.ParseUint(raw, 16, 64)
		if err != nil {
			return 0, errors.New("malformed address")
		}
		return addr, nil
	}
	if strings.Contains(spec, ":") {
		file, line, err := parseLoc(spec)
		if err != nil {
			return 0, err
		}
		if pc, ok := s.syms.LineToPC(file, line); ok {
			return pc, nil
		}
		return 0, errors.New("no such source line")
	}
	if line, err := strconv.Atoi(spec); err == nil {
		if pc, ok := s.syms.LineToPC(s.syms.DefaultFile(), line); ok {
			return pc, nil
		}
		return 0, errors.New("no such source line")
	}
	if pc, ok := s.syms.FuncToPC(spec); ok {
		return pc, nil
	}
	return 0, errors.New("no address, source line or function matches")
}

func (s *Session) printNoProcess() {
	fmt.Fprintf(s.stderr, "there is no process running\n")
}
