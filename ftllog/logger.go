// Package ftllog is the simulator's logging ambient: a single configured
// logrus logger shared by every component instead of each package building
// its own.
package ftllog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// L is the process-wide logger. Components should prefer taking a
// *logrus.Entry via With(component) rather than calling L directly, so
// every line carries which subsystem (cmt, gc, flashsim, ...) emitted it.
var L = logrus.New()

// Config controls where the simulator writes its log stream.
type Config struct {
	Level    string // debug|info|warn|error
	FilePath string // optional; empty means stdout only
}

// CallerFormatter tags each line with "file:function:line" the way a
// storage-engine trace log would, so a GC round or eviction can be traced
// back to the exact call site without attaching a stack trace.
type CallerFormatter struct {
	TimestampFormat string
}

func (f *CallerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format(f.TimestampFormat)
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	var fields string
	for k, v := range e.Data {
		fields += fmt.Sprintf(" %s=%v", k, v)
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s%s\n", ts, level, caller(), e.Message, fields)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "ftllog/logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc)
		name := "unknown"
		if fn != nil {
			parts := strings.Split(fn.Name(), "/")
			name = parts[len(parts)-1]
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), name, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init configures L per cfg. Safe to call once at mount; a zero Config
// leaves the logger at info level writing to stdout.
func Init(cfg Config) error {
	L.SetFormatter(&CallerFormatter{TimestampFormat: "15:04:05.000"})
	L.SetLevel(parseLevel(cfg.Level))

	if cfg.FilePath == "" {
		L.SetOutput(os.Stdout)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		L.SetOutput(os.Stdout)
		L.Warnf("could not open log file %s, falling back to stdout: %v", cfg.FilePath, err)
		return nil
	}
	L.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// With returns a component-scoped entry, e.g. ftllog.With("cmt").Info(...).
func With(component string) *logrus.Entry {
	return L.WithField("component", component)
}
