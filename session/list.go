package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// listFileLine prints rangeline lines of source around lineno, marking the
// current line with an arrow.
func listFileLine(w io.Writer, filename string, lineno int, rangeline int) error {
	rangeMin := lineno - rangeline - 1
	rangeMax := lineno + rangeline - 1

	if rangeMin < 1 {
		rangeMin = 1
	}
	if rangeMax-rangeMin <= 0 {
		return errors.New("not right lineno or rangeline")
	}

	file, err := os.OpenFile(filename, os.O_RDONLY, 0755)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := bufio.NewReader(file)

	out := make([]string, 0, rangeMax-rangeMin+2)
	out = append(out, fmt.Sprintf("list %s:%d\n", filename, lineno))

	var curLine int
	for {
		curLine++
		if curLine > rangeMax {
			break
		}

		lineBytes, err := reader.ReadSlice('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if rangeMin <= curLine && curLine <= rangeMax {
			if curLine == lineno {
				lineBytes = append([]byte(fmt.Sprintf("==>%7d: ", curLine)), lineBytes...)
			} else {
				lineBytes = append([]byte(fmt.Sprintf("   %7d: ", curLine)), lineBytes...)
			}
			out = append(out, string(lineBytes))
		}
	}

	fmt.Fprintln(w, strings.Join(out, ""))
	return nil
}
