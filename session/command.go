package session

import (
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/pkg/errors"
)

type cmdKind int

const (
	cmdRun cmdKind = iota
	cmdContinue
	cmdBacktrace
	cmdBreak
	cmdBreakList
	cmdList
	cmdDisass
	cmdQuit
)

type command struct {
	kind cmdKind
	// argument vector for run
	args []string
	// location spec for break and list
	loc string
}

// parseCommand maps one trimmed input line onto a command. Unrecognized or
// malformed input is an error the prompt reports before re-prompting; it
// never reaches the dispatcher.
func parseCommand(input string) (*command, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}

	switch fields[0] {
	case "r", "run":
		args, err := parseArgv(strings.TrimSpace(strings.TrimPrefix(input, fields[0])))
		if err != nil {
			return nil, err
		}
		return &command{kind: cmdRun, args: args}, nil
	case "c", "continue":
		return &command{kind: cmdContinue}, nil
	case "bt", "back", "backtrace":
		return &command{kind: cmdBacktrace}, nil
	case "b", "break":
		if len(fields) != 2 {
			return nil, errors.New("break needs one location: *addr, file:line, line or function")
		}
		return &command{kind: cmdBreak, loc: fields[1]}, nil
	case "bl", "breakpoints":
		return &command{kind: cmdBreakList}, nil
	case "l", "list":
		c := &command{kind: cmdList}
		if len(fields) == 2 {
			c.loc = fields[1]
		}
		return c, nil
	case "disass", "disassemble":
		return &command{kind: cmdDisass}, nil
	case "q", "quit", "exit":
		return &command{kind: cmdQuit}, nil
	}
	return nil, errors.Errorf("unsupported command %q", fields[0])
}

// parseArgv splits the argument text of run, honoring quoting.
func parseArgv(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", errors.Errorf("backtick not supported in %q", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, errors.New("pipes not supported in argument list")
	}
	return v[0], nil
}

// parseLoc splits a file:line location spec.
func parseLoc(loc string) (string, int, error) {
	sps := strings.Split(loc, ":")
	if len(sps) != 2 {
		return "", 0, errors.New("wrong loc, should be like filename:lineno")
	}
	lineno, err := strconv.Atoi(sps[1])
	if err != nil {
		return "", 0, errors.New("wrong loc, should be like filename:lineno")
	}
	return sps[0], lineno, nil
}
