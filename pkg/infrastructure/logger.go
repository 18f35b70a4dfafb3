package infrastructure

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/harborfin/ledger/pkg/domain"
)

type logLevel int

const (
	debugLevel logLevel = iota
	infoLevel
	warnLevel
	errorLevel
	fatalLevel
)

// leveledLogger implements domain.Logger with leveled text or JSON output.
type leveledLogger struct {
	level logLevel
	json  bool
	out   *log.Logger
}

// NewLogger creates a logger for the given level ("debug".."fatal") and
// format ("text" or "json"). Unknown values fall back to info/text.
func NewLogger(level, format string) domain.Logger {
	return &leveledLogger{
		level: parseLogLevel(level),
		json:  strings.EqualFold(format, "json"),
		out:   log.New(os.Stdout, "", 0),
	}
}

func parseLogLevel(level string) logLevel {
	switch strings.ToLower(level) {
	case "debug":
		return debugLevel
	case "warn", "warning":
		return warnLevel
	case "error":
		return errorLevel
	case "fatal":
		return fatalLevel
	default:
		return infoLevel
	}
}

func (l *leveledLogger) Debug(msg string, kv ...interface{}) { l.log(debugLevel, "DEBUG", msg, kv) }
func (l *leveledLogger) Info(msg string, kv ...interface{})  { l.log(infoLevel, "INFO", msg, kv) }
func (l *leveledLogger) Warn(msg string, kv ...interface{})  { l.log(warnLevel, "WARN", msg, kv) }
func (l *leveledLogger) Error(msg string, kv ...interface{}) { l.log(errorLevel, "ERROR", msg, kv) }

func (l *leveledLogger) Fatal(msg string, kv ...interface{}) {
	l.log(fatalLevel, "FATAL", msg, kv)
	os.Exit(1)
}

func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.log(debugLevel, "DEBUG", fmt.Sprintf(format, args...), nil)
}

func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.log(infoLevel, "INFO", fmt.Sprintf(format, args...), nil)
}

func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.log(warnLevel, "WARN", fmt.Sprintf(format, args...), nil)
}

func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.log(errorLevel, "ERROR", fmt.Sprintf(format, args...), nil)
}

func (l *leveledLogger) Fatalf(format string, args ...interface{}) {
	l.log(fatalLevel, "FATAL", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

func (l *leveledLogger) log(level logLevel, tag, msg string, kv []interface{}) {
	if level < l.level {
		return
	}
	ts := time.Now().Format(time.RFC3339)

	if l.json {
		var b strings.Builder
		fmt.Fprintf(&b, `{"timestamp":%q,"level":%q,"message":%q`, ts, tag, msg)
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(&b, `,%q:%q`, fmt.Sprintf("%v", kv[i]), fmt.Sprintf("%v", kv[i+1]))
		}
		b.WriteString("}")
		l.out.Println(b.String())
		return
	}

	line := fmt.Sprintf("[%s] %s: %s", ts, tag, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	l.out.Println(line)
}
