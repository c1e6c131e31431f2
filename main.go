package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minidbg/minidbg/bininfo"
	"github.com/minidbg/minidbg/config"
	"github.com/minidbg/minidbg/gobuild"
	"github.com/minidbg/minidbg/session"
)

var rootCmd = &cobra.Command{
	Use:   "minidbg",
	Short: "minidbg is a minimal source-level debugger for linux/amd64",
	Long: `minidbg spawns a target under ptrace, plants software breakpoints and
steps across them transparently, and walks frame pointers into a backtrace.
Targets must be built with frame pointers and without optimizations.`,
	SilenceUsage: true,
}

var debugCmd = &cobra.Command{
	Use:   "debug <file.go> [args...]",
	Short: "Compile a Go file with optimizations disabled and debug it.",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
			return fmt.Errorf("debug needs a .go file")
		}
		if path.Ext(args[0]) != ".go" {
			return fmt.Errorf("debug needs a .go file, got %q", args[0])
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.LoadConfig()
		filename, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		execfile, err := gobuild.Build(filename, conf.BuildFlags)
		if err != nil {
			return err
		}
		defer gobuild.Remove(execfile)
		return debugTarget(execfile, args[1:], conf)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <binary> [args...]",
	Short: "Debug a prebuilt binary with DWARF debug info.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return debugTarget(args[0], args[1:], config.LoadConfig())
	},
}

func debugTarget(execfile string, args []string, conf *config.Config) error {
	// no symbol data, no debugging: a load failure ends the session here
	bi, err := bininfo.Load(execfile)
	if err != nil {
		return fmt.Errorf("could not load debug symbols from %s: %v", execfile, err)
	}
	return session.New(execfile, args, bi, conf).Run()
}

func main() {
	rootCmd.AddCommand(debugCmd, execCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
