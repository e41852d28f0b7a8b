// Package console prints twictl output.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func SetOutput(w, errw io.Writer) {
	writer = w
	errWriter = errw
}

func Format(err error) string {
	return fmt.Sprintf("%s: %s\n", Red("ERROR"), err.Error())
}

func Errorf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Red("ERROR"), fmt.Sprintf(msg, args...))
}

func Warnf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

func Infof(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", White("..."), fmt.Sprintf(msg, args...))
}

func Print(msg string) {
	_, _ = fmt.Fprintln(writer, msg)
}

func Printf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}

// Wire prints bus conditions one per line, colored by outcome.
func Wire(lines []string) {
	for _, l := range lines {
		switch {
		case strings.HasSuffix(l, "NACK"):
			Print(Yellow(l))
		case l == "START" || l == "SR" || l == "STOP":
			Print(Cyan(l))
		default:
			Print(l)
		}
	}
}

// Writer returns the standard output writer.
func Writer() io.Writer { return writer }
