// Package bininfo extracts function and source-line information from the
// DWARF sections of the target binary. It is loaded once per session and
// consumed read-only by the trace core.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/minidbg/minidbg/log"
)

type Function struct {
	Name   string
	LowPC  uint64
	HighPC uint64
}

type BinInfo struct {
	// source file -> line number -> line table entries for that line
	sources   map[string]map[int][]*dwarf.LineEntry
	functions []*Function

	defaultFile string
}

// Load opens the ELF binary at execfile and reads its line table and
// subprogram entries. Failure here is fatal to the session: there is no
// debugging without symbol data.
func Load(execfile string) (*BinInfo, error) {
	var (
		elffile    *elf.File
		err        error
		dwarfData  *dwarf.Data
		curEntry   *dwarf.Entry
		lineReader *dwarf.LineReader
		lineEntry  *dwarf.LineEntry
		bi         *BinInfo
	)
	if elffile, err = elf.Open(execfile); err != nil {
		return nil, errors.Wrap(err, "open target")
	}
	defer elffile.Close()

	lineSection := elffile.Section(".debug_line")
	if lineSection == nil {
		lineSection = elffile.Section(".zdebug_line")
	}
	if lineSection == nil {
		return nil, errors.New("can't find .debug_line or .zdebug_line")
	}
	infoSection := elffile.Section(".debug_info")
	if infoSection == nil {
		infoSection = elffile.Section(".zdebug_info")
	}
	if infoSection == nil {
		return nil, errors.New("can't find .debug_info or .zdebug_info")
	}

	if dwarfData, err = elffile.DWARF(); err != nil {
		return nil, errors.Wrap(err, "parse DWARF")
	}
	dwarfReader := dwarfData.Reader()

	bi = &BinInfo{sources: make(map[string]map[int][]*dwarf.LineEntry)}
	for {
		if curEntry, err = dwarfReader.Next(); err != nil {
			return nil, err
		}
		if curEntry == nil {
			break
		}

		if curEntry.Tag == dwarf.TagCompileUnit {
			if lineReader, err = dwarfData.LineReader(curEntry); err != nil {
				return nil, err
			}
			if lineReader == nil {
				continue
			}
			lineEntry = &dwarf.LineEntry{}
			for {
				if err = lineReader.Next(lineEntry); err != nil && err != io.EOF {
					return nil, err
				}
				if err == io.EOF {
					err = nil
					break
				}
				if lineEntry.File != nil {
					if bi.sources[lineEntry.File.Name] == nil {
						bi.sources[lineEntry.File.Name] = make(map[int][]*dwarf.LineEntry)
					}
					copyLineEntry := &dwarf.LineEntry{}
					*copyLineEntry = *lineEntry
					bi.sources[lineEntry.File.Name][lineEntry.Line] =
						append(bi.sources[lineEntry.File.Name][lineEntry.Line], copyLineEntry)
				}
			}
		}

		if curEntry.Tag == dwarf.TagSubprogram {
			fn := &Function{}
			for _, field := range curEntry.Field {
				switch field.Attr {
				case dwarf.AttrName:
					if val, ok := field.Val.(string); ok {
						fn.Name = val
					}
				case dwarf.AttrLowpc:
					if val, ok := field.Val.(uint64); ok {
						fn.LowPC = val
					}
				case dwarf.AttrHighpc:
					switch val := field.Val.(type) {
					case uint64:
						fn.HighPC = val
					case int64:
						// class constant: offset from AttrLowpc
						fn.HighPC = uint64(val)
					}
				}
			}
			if fn.Name != "" && fn.LowPC != 0 {
				// AttrHighpc may be an offset from LowPC rather than an address
				if fn.HighPC < fn.LowPC {
					fn.HighPC += fn.LowPC
				}
				bi.functions = append(bi.functions, fn)
				log.Log.Debug("bininfo:subprogram",
					zap.String("name", fn.Name),
					zap.Uint64("lowpc", fn.LowPC),
					zap.Uint64("highpc", fn.HighPC))
			}
		}
	}

	bi.defaultFile = bi.findDefaultFile()
	return bi, nil
}

// findDefaultFile picks the file that declares the entry function; bare line
// number breakpoint specs resolve against it.
func (b *BinInfo) findDefaultFile() string {
	for _, name := range []string{"main.main", "main"} {
		if pc, ok := b.FuncToPC(name); ok {
			if file, _, ok := b.PCToLine(pc); ok {
				return file
			}
		}
	}
	return ""
}

// PCToFunc resolves pc to the function whose range contains it.
func (b *BinInfo) PCToFunc(pc uint64) (string, bool) {
	for _, f := range b.functions {
		if f.LowPC <= pc && pc < f.HighPC {
			return f.Name, true
		}
	}
	return "", false
}

// FuncRange returns the [low, high) pc range of the function containing pc.
func (b *BinInfo) FuncRange(pc uint64) (uint64, uint64, bool) {
	for _, f := range b.functions {
		if f.LowPC <= pc && pc < f.HighPC {
			return f.LowPC, f.HighPC, true
		}
	}
	return 0, 0, false
}

// PCToLine resolves pc to the nearest line table entry at or before it.
func (b *BinInfo) PCToLine(pc uint64) (string, int, bool) {
	var (
		bestFile string
		bestLine int
		bestPc   uint64
		found    bool
	)
	for filename, lines := range b.sources {
		for lineno, lineEntryArray := range lines {
			for _, lineEntry := range lineEntryArray {
				if lineEntry.Address == pc {
					return filename, lineno, true
				}
				if lineEntry.Address < pc && (!found || lineEntry.Address > bestPc) {
					bestFile, bestLine, bestPc, found = filename, lineno, lineEntry.Address, true
				}
			}
		}
	}
	return bestFile, bestLine, found
}

// LineToPC resolves file:line to a breakpoint address. The file may be given
// as a suffix of the path recorded in the line table. Among the entries for a
// line the prologue-end one wins, else the lowest address.
func (b *BinInfo) LineToPC(file string, line int) (uint64, bool) {
	lines := b.sources[file]
	if lines == nil {
		for filename := range b.sources {
			if strings.HasSuffix(filename, "/"+strings.TrimPrefix(file, "./")) {
				lines = b.sources[filename]
				break
			}
		}
	}
	if lines == nil || len(lines[line]) == 0 {
		return 0, false
	}
	lineEntryArray := lines[line]
	for _, v := range lineEntryArray {
		if v.PrologueEnd {
			return v.Address, true
		}
	}
	addr := lineEntryArray[0].Address
	for _, v := range lineEntryArray[1:] {
		if v.Address < addr {
			addr = v.Address
		}
	}
	return addr, true
}

// FuncToPC resolves a function name to the address where a breakpoint on
// that function should be planted: past the prologue if the line table marks
// it, else the function's entry.
func (b *BinInfo) FuncToPC(name string) (uint64, bool) {
	for _, f := range b.functions {
		if f.Name != name {
			continue
		}
		if pc, ok := b.prologueEnd(f.LowPC, f.HighPC); ok {
			return pc, true
		}
		return f.LowPC, true
	}
	return 0, false
}

func (b *BinInfo) prologueEnd(lowpc, highpc uint64) (uint64, bool) {
	for _, lines := range b.sources {
		for _, lineEntryArray := range lines {
			for _, v := range lineEntryArray {
				if v.PrologueEnd && lowpc <= v.Address && v.Address < highpc {
					return v.Address, true
				}
			}
		}
	}
	return 0, false
}

// Sources lists every file in the line table, for prompt completion.
func (b *BinInfo) Sources() []string {
	files := make([]string, 0, len(b.sources))
	for filename := range b.sources {
		files = append(files, filename)
	}
	return files
}

// DefaultFile is the file declaring the entry function; empty if the binary
// has no recognizable entry.
func (b *BinInfo) DefaultFile() string {
	return b.defaultFile
}
