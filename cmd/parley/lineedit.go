package main

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errInterrupted is returned when Ctrl+C is pressed at the prompt.
var errInterrupted = errors.New("interrupted")

// lineEditor reads chat input and keeps the lines entered this run.
type lineEditor struct {
	in      *bufio.Reader
	history []string
}

func newLineEditor(in io.Reader) *lineEditor {
	return &lineEditor{in: bufio.NewReader(in)}
}

func (e *lineEditor) readPlainLine() (string, error) {
	s, err := e.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	line := trimTrailingNewline(s)
	e.remember(line)
	return line, nil
}

func (e *lineEditor) remember(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if n := len(e.history); n > 0 && e.history[n-1] == line {
		return
	}
	e.history = append(e.history, line)
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
