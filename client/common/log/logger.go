// Package log is the client's leveled logger. Lines go to stdout and, when
// LOG_FILE_PATH is set, to a size-rotated file.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	cmnenv "msg_client/client/common/env"
)

type level int

const (
	debugLevel level = iota
	infoLevel
	warnLevel
	errorLevel
	exceptionLevel
)

const (
	FormatText = "text"
	FormatJSON = "json"

	defaultMaxSizeMB  = 20
	defaultMaxBackups = 5
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "EXCEPTION"}

var levelColors = [...]string{"\033[90m", "\033[32m", "\033[33m", "\033[31m", "\033[35m"}

const colorReset = "\033[0m"

func (lv level) String() string {
	if lv < debugLevel || lv > exceptionLevel {
		return "UNKNOWN"
	}
	return levelNames[lv]
}

// Options configure the package logger. Zero values mean text output at
// INFO to stdout with no file.
type Options struct {
	Level      string
	Format     string
	Output     io.Writer
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

type logger struct {
	mu       sync.Mutex
	out      io.Writer
	color    bool
	minLevel level
	json     bool
	file     *rotatingFile
	now      func() time.Time
}

var global = newLogger(optionsFromEnv())

func optionsFromEnv() Options {
	return Options{
		Level:      cmnenv.String("LOG_LEVEL", "info"),
		Format:     cmnenv.String("LOG_FORMAT", FormatText),
		FilePath:   cmnenv.String("LOG_FILE_PATH", ""),
		MaxSizeMB:  cmnenv.Int("LOG_MAX_SIZE_MB", defaultMaxSizeMB),
		MaxBackups: cmnenv.Int("LOG_MAX_BACKUPS", defaultMaxBackups),
	}
}

func newLogger(opts Options) *logger {
	out := opts.Output
	color := false
	if out == nil {
		out = os.Stdout
		color = isatty.IsTerminal(os.Stdout.Fd())
	}
	l := &logger{
		out:      out,
		color:    color,
		minLevel: parseLevel(opts.Level),
		json:     strings.EqualFold(strings.TrimSpace(opts.Format), FormatJSON),
		now:      time.Now,
	}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		size := opts.MaxSizeMB
		if size <= 0 {
			size = defaultMaxSizeMB
		}
		l.file = newRotatingFile(path, int64(size)<<20, opts.MaxBackups)
	}
	return l
}

func parseLevel(raw string) level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return debugLevel
	case "WARN", "WARNING":
		return warnLevel
	case "ERROR":
		return errorLevel
	default:
		return infoLevel
	}
}

// Configure replaces the package logger. The previous log file, if any, is
// closed.
func Configure(opts Options) {
	next := newLogger(opts)
	global.mu.Lock()
	prev := global.file
	global.out, global.color, global.minLevel, global.json, global.file = next.out, next.color, next.minLevel, next.json, next.file
	global.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// SetOutput redirects console output and disables coloring.
func SetOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.out = w
	global.color = false
}

func SetLevel(name string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.minLevel = parseLevel(name)
}

func Debugf(format string, args ...any)     { global.logf(debugLevel, format, args...) }
func Infof(format string, args ...any)      { global.logf(infoLevel, format, args...) }
func Warnf(format string, args ...any)      { global.logf(warnLevel, format, args...) }
func Errorf(format string, args ...any)     { global.logf(errorLevel, format, args...) }
func Exceptionf(format string, args ...any) { global.logf(exceptionLevel, format, args...) }

func (l *logger) logf(lv level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lv < l.minLevel {
		return
	}
	line := l.render(l.now(), lv, caller(3), fmt.Sprintf(format, args...))
	if l.color {
		fmt.Fprintln(l.out, levelColors[lv]+line+colorReset)
	} else {
		fmt.Fprintln(l.out, line)
	}
	if l.file != nil {
		if err := l.file.WriteLine(line); err != nil {
			fmt.Fprintf(os.Stderr, "log file: %v\n", err)
		}
	}
}

func (l *logger) render(ts time.Time, lv level, where, message string) string {
	stamp := ts.UTC().Format(time.RFC3339Nano)
	if l.json {
		b, err := json.Marshal(struct {
			Time    string `json:"time"`
			Level   string `json:"level"`
			Caller  string `json:"caller"`
			Message string `json:"msg"`
		}{stamp, lv.String(), where, message})
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%s %-5s %s %s", stamp, lv, where, message)
}

func caller(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?"
	}
	name := fn.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
