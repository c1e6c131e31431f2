// Package gobuild builds debuggable binaries for the session.
package gobuild

import (
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/minidbg/minidbg/log"
)

// Build compiles filename with optimizations and inlining disabled and
// returns the path of the temporary binary.
func Build(filename string, buildflags string) (string, error) {
	base := filepath.Base(filename)
	execfile := path.Join(os.TempDir(), "__"+base+"__")

	args := []string{"build", "-gcflags", "all=-N -l"}
	if buildflags != "" {
		args = append(args, strings.Fields(buildflags)...)
	}
	args = append(args, "-o", execfile, filename)

	log.Log.Debug("gobuild", zap.Strings("args", args))
	cmd := exec.Command("go", args...)
	cmd.Stderr = os.Stderr
	return execfile, cmd.Run()
}

// Remove deletes the temporary binary generated for the session.
func Remove(path string) {
	if err := os.Remove(path); err != nil {
		log.Log.Warn("gobuild:remove", zap.String("path", path), zap.Error(err))
	}
}
