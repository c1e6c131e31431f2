package session

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/minidbg/minidbg/bininfo"
	"github.com/minidbg/minidbg/config"
	"github.com/minidbg/minidbg/gobuild"
)

// startSession builds fixture, loads its symbols and wires a session with
// captured output; the returned cleanup kills any live inferior and removes
// the temporary binary.
func startSession(t *testing.T, fixture string) (*Session, *strings.Builder, *strings.Builder, func()) {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("needs linux/amd64 ptrace")
	}

	filename, err := filepath.Abs(fixture)
	if err != nil {
		t.Fatal(err)
	}
	execfile, err := gobuild.Build(filename, "")
	if err != nil {
		t.Fatal(err)
	}
	bi, err := bininfo.Load(execfile)
	if err != nil {
		os.Remove(execfile)
		t.Fatal(err)
	}

	cfg := &config.Config{
		SourceListLines: 6,
		HistoryFile:     filepath.Join(t.TempDir(), "history"),
	}
	s := New(execfile, nil, bi, cfg)
	outw := &strings.Builder{}
	errw := &strings.Builder{}
	s.stdout = outw
	s.stderr = errw

	return s, outw, errw, func() {
		s.Do("quit")
		os.Remove(execfile)
	}
}

func TestBreakContinueExit(t *testing.T) {
	g := NewGomegaWithT(t)
	s, outw, errw, cleanup := startSession(t, "testdata/t1.go")
	defer cleanup()

	s.Do("b testdata/t1.go:6")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("breakpoint set at"))
	outw.Reset()

	s.Do("run")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("stopped (signal trace/breakpoint trap)"))
	g.Expect(outw.String()).Should(ContainSubstring("at main.p"))
	g.Expect(outw.String()).Should(ContainSubstring("==>      6: \ti := 20"))
	outw.Reset()

	s.Do("c")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("has exited with status 0"))

	// terminal status invalidated the inferior
	s.Do("c")
	g.Expect(errw.String()).Should(ContainSubstring("no process"))
}

func TestBreakInLoopStopsOncePerPass(t *testing.T) {
	g := NewGomegaWithT(t)
	s, outw, errw, cleanup := startSession(t, "testdata/t2.go")
	defer cleanup()

	s.Do("b testdata/t2.go:7")
	g.Expect(errw.String()).Should(Equal(""))

	s.Do("run")
	for i := 0; i < 2; i++ {
		g.Expect(errw.String()).Should(Equal(""))
		g.Expect(outw.String()).Should(ContainSubstring("==>      7: \t\tfmt.Println(i)"))
		outw.Reset()
		s.Do("c")
	}
	g.Expect(outw.String()).Should(ContainSubstring("==>      7: \t\tfmt.Println(i)"))
	outw.Reset()

	s.Do("c")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("has exited with status 0"))
}

func TestBacktraceFromBreakpoint(t *testing.T) {
	g := NewGomegaWithT(t)
	s, outw, errw, cleanup := startSession(t, "testdata/t1.go")
	defer cleanup()

	s.Do("b testdata/t1.go:6")
	s.Do("run")
	g.Expect(errw.String()).Should(Equal(""))
	outw.Reset()

	s.Do("bt")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("main.p ("))
}

func TestRestartReplaysBreakpoints(t *testing.T) {
	g := NewGomegaWithT(t)
	s, outw, errw, cleanup := startSession(t, "testdata/t1.go")
	defer cleanup()

	s.Do("b testdata/t1.go:6")
	s.Do("run")
	g.Expect(outw.String()).Should(ContainSubstring("==>      6: \ti := 20"))
	outw.Reset()

	// a fresh process gets the whole configured set replayed
	s.Do("run")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("==>      6: \ti := 20"))

	outw.Reset()
	s.Do("bl")
	g.Expect(outw.String()).Should(ContainSubstring("t1.go:6"))
}

func TestRunWithoutBreakpointsRunsToExit(t *testing.T) {
	g := NewGomegaWithT(t)
	s, outw, errw, cleanup := startSession(t, "testdata/t1.go")
	defer cleanup()

	s.Do("run")
	g.Expect(errw.String()).Should(Equal(""))
	g.Expect(outw.String()).Should(ContainSubstring("has exited with status 0"))

	s.Do("bt")
	g.Expect(errw.String()).Should(ContainSubstring("no process"))
}
