//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// readInteractiveLine reads one line with cursor movement, word editing and
// history when stdin is a terminal, and plain buffered input otherwise.
func (e *lineEditor) readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return e.readPlainLine()
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	st := &editState{prompt: prompt, out: os.Stdout, histPos: len(e.history)}
	fmt.Fprint(st.out, prompt)

	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			line, done, err := e.handleByte(st, b)
			if done || err != nil {
				return line, err
			}
		}
	}
}

// editState is the in-progress line of one raw-mode read.
type editState struct {
	prompt string
	out    io.Writer

	line   []byte
	cursor int

	esc    int
	escBuf strings.Builder

	histPos      int
	histBrowsing bool
	histDraft    string
}

func (e *lineEditor) handleByte(st *editState, b byte) (string, bool, error) {
	switch st.esc {
	case 1:
		st.esc = 0
		switch b {
		case '[':
			st.esc = 2
			st.escBuf.Reset()
		case 'b', 'B':
			st.wordLeft()
		case 'f', 'F':
			st.wordRight()
		case 127:
			st.deleteWordBack()
		}
		return "", false, nil
	case 2:
		st.escBuf.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.handleCSI(st, st.escBuf.String())
			st.esc = 0
		}
		return "", false, nil
	}

	switch b {
	case 27: // ESC
		st.esc = 1
	case '\r', '\n':
		fmt.Fprint(st.out, "\r\n")
		out := string(st.line)
		e.remember(out)
		return out, true, nil
	case 3: // Ctrl+C
		fmt.Fprint(st.out, "^C\r\n")
		return "", true, errInterrupted
	case 4: // Ctrl+D
		if len(st.line) == 0 {
			fmt.Fprint(st.out, "\r\n")
			return "", true, io.EOF
		}
	case 127, 8: // backspace
		if st.cursor > 0 {
			st.line = append(st.line[:st.cursor-1], st.line[st.cursor:]...)
			st.cursor--
			st.redraw()
		}
	case 1: // Ctrl+A
		st.cursor = 0
		st.redraw()
	case 5: // Ctrl+E
		st.cursor = len(st.line)
		st.redraw()
	case 21: // Ctrl+U
		st.line = append(st.line[:0], st.line[st.cursor:]...)
		st.cursor = 0
		st.redraw()
	case 23: // Ctrl+W
		st.deleteWordBack()
	default:
		if b >= 32 {
			st.insert(b)
		}
	}
	return "", false, nil
}

func (e *lineEditor) handleCSI(st *editState, seq string) {
	switch seq {
	case "A":
		e.historyUp(st)
	case "B":
		e.historyDown(st)
	case "D":
		if st.cursor > 0 {
			st.cursor--
			st.redraw()
		}
	case "C":
		if st.cursor < len(st.line) {
			st.cursor++
			st.redraw()
		}
	case "H", "1~":
		st.cursor = 0
		st.redraw()
	case "F", "4~":
		st.cursor = len(st.line)
		st.redraw()
	case "3~":
		if st.cursor < len(st.line) {
			st.line = append(st.line[:st.cursor], st.line[st.cursor+1:]...)
			st.redraw()
		}
	case "1;5D", "5D":
		st.wordLeft()
	case "1;5C", "5C":
		st.wordRight()
	case "3;5~":
		st.deleteWordForward()
	}
}

func (e *lineEditor) historyUp(st *editState) {
	if len(e.history) == 0 {
		return
	}
	if !st.histBrowsing {
		st.histDraft = string(st.line)
		st.histBrowsing = true
		st.histPos = len(e.history)
	}
	if st.histPos > 0 {
		st.histPos--
		st.replace(e.history[st.histPos])
	}
}

func (e *lineEditor) historyDown(st *editState) {
	if !st.histBrowsing {
		return
	}
	if st.histPos < len(e.history)-1 {
		st.histPos++
		st.replace(e.history[st.histPos])
		return
	}
	st.histPos = len(e.history)
	st.histBrowsing = false
	st.replace(st.histDraft)
}

func (st *editState) replace(s string) {
	st.line = append(st.line[:0], s...)
	st.cursor = len(st.line)
	st.redraw()
}

func (st *editState) insert(b byte) {
	st.line = append(st.line, 0)
	copy(st.line[st.cursor+1:], st.line[st.cursor:])
	st.line[st.cursor] = b
	st.cursor++
	st.redraw()
}

func (st *editState) redraw() {
	fmt.Fprintf(st.out, "\r%s%s\x1b[K", st.prompt, st.line)
	if st.cursor < len(st.line) {
		fmt.Fprintf(st.out, "\r%s%s", st.prompt, st.line[:st.cursor])
	}
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}

func (st *editState) wordLeft() {
	for st.cursor > 0 && isBlank(st.line[st.cursor-1]) {
		st.cursor--
	}
	for st.cursor > 0 && !isBlank(st.line[st.cursor-1]) {
		st.cursor--
	}
	st.redraw()
}

func (st *editState) wordRight() {
	for st.cursor < len(st.line) && isBlank(st.line[st.cursor]) {
		st.cursor++
	}
	for st.cursor < len(st.line) && !isBlank(st.line[st.cursor]) {
		st.cursor++
	}
	st.redraw()
}

func (st *editState) deleteWordBack() {
	start := st.cursor
	for start > 0 && isBlank(st.line[start-1]) {
		start--
	}
	for start > 0 && !isBlank(st.line[start-1]) {
		start--
	}
	st.line = append(st.line[:start], st.line[st.cursor:]...)
	st.cursor = start
	st.redraw()
}

func (st *editState) deleteWordForward() {
	end := st.cursor
	for end < len(st.line) && isBlank(st.line[end]) {
		end++
	}
	for end < len(st.line) && !isBlank(st.line[end]) {
		end++
	}
	st.line = append(st.line[:st.cursor], st.line[end:]...)
	st.redraw()
}
