package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/minidbg/minidbg/log"
)

const promptString = "(minidbg) "

// Run reads commands until quit, EOF or a fatal error. On a terminal it uses
// a line editor with persistent history; otherwise plain line reads.
func (s *Session) Run() error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		s.runPrompt()
	} else {
		s.runPlain(os.Stdin)
	}
	if s.inf != nil {
		s.inf.Kill()
		s.inf = nil
	}
	return s.fatal
}

func (s *Session) runPrompt() {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(s.complete)

	if f, err := os.Open(s.cfg.HistoryFile); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			log.Log.Debug("read history", zap.Error(err))
		}
		f.Close()
	}

	for {
		input, err := line.Prompt(promptString)
		if err == liner.ErrPromptAborted {
			fmt.Fprintln(s.stdout, `type "quit" to exit`)
			continue
		}
		if err == io.EOF {
			// ctrl-d means quit
			fmt.Fprintln(s.stdout)
			s.Do("quit")
			return
		}
		if err != nil {
			s.fatal = err
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		s.saveHistory(line)

		if quit := s.Do(input); quit {
			return
		}
	}
}

func (s *Session) runPlain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if quit := s.Do(input); quit {
			return
		}
	}
	s.Do("quit")
}

func (s *Session) saveHistory(line *liner.State) {
	f, err := os.Create(s.cfg.HistoryFile)
	if err != nil {
		log.Log.Debug("save history", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		log.Log.Debug("save history", zap.Error(err))
	}
}

var commandNames = []string{
	"run", "continue", "backtrace", "break", "breakpoints",
	"list", "disassemble", "quit",
}

// complete proposes command names, and source file names after break/list.
func (s *Session) complete(input string) []string {
	sps := strings.Split(input, " ")

	if len(sps) == 1 {
		var out []string
		for _, name := range commandNames {
			if strings.HasPrefix(name, sps[0]) {
				out = append(out, name)
			}
		}
		return out
	}

	if sps[0] != "b" && sps[0] != "break" && sps[0] != "l" && sps[0] != "list" {
		return nil
	}
	var out []string
	for _, filename := range s.syms.Sources() {
		base := path.Base(filename)
		if strings.HasPrefix(base, sps[1]) || strings.HasPrefix(filename, sps[1]) {
			out = append(out, sps[0]+" "+base)
		}
		if len(out) >= 30 {
			break
		}
	}
	return out
}
