package main

import (
	"errors"
	"os"
	"strings"

	"github.com/flarebyte/ergo/cmd/ergo/root"
)

type exitCoder interface {
	ExitCode() int
}

func main() {
	if err := root.Execute(os.Args[1:]); err != nil {
		// A single line on stderr; an empty message means the status alone
		// carries the outcome.
		msg := strings.Join(strings.Fields(err.Error()), " ")
		if msg != "" {
			_, _ = os.Stderr.WriteString("ergo: " + msg + "\n")
		}
		code := 1
		var ec exitCoder
		if errors.As(err, &ec) {
			if c := ec.ExitCode(); c != 0 {
				code = c
			}
		}
		os.Exit(code)
	}
}
