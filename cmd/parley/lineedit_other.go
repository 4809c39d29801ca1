//go:build !linux

package main

func (e *lineEditor) readInteractiveLine(_ string) (string, error) {
	return e.readPlainLine()
}
