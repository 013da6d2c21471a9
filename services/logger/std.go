package logsvc

import (
	"fmt"
	"log"
	"strings"

	"github.com/trezcool/elimu/core"
)

// StdLogger writes to the standard library logger. Used in development and
// as the fallback when Rollbar is not configured.
type StdLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*StdLogger)(nil)

func NewStdLogger(std *log.Logger, debug bool) *StdLogger {
	return &StdLogger{std: std, debug: debug}
}

func (l *StdLogger) log(level, msg string, args []interface{}) {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%s %s", level, msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(b, " %v=%+v", args[i], args[i+1])
	}
	if len(args)%2 != 0 {
		fmt.Fprintf(b, " %+v", args[len(args)-1])
	}
	l.std.Println(b.String())
}

func (l *StdLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		l.log("DEBUG", msg, args)
	}
}

func (l *StdLogger) Info(msg string, args ...interface{}) { l.log("INFO", msg, args) }
func (l *StdLogger) Warn(msg string, args ...interface{}) { l.log("WARN", msg, args) }

func (l *StdLogger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }

func (l *StdLogger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	l.std.Fatal(msg)
}
