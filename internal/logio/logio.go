// Package logio is the seeding CLI's logging and progress-reporting
// surface: structured lines via zap, plus the spinner and summary-table
// primitives a long-running, human-facing seed run needs, built on
// gookit/color for terminal color and mattn/go-runewidth for alignment of
// the final per-object summary table.
package logio

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seedbuddy/crmseed/internal/result"
)

// Logger is the interface the pipeline and CLI log against. A
// production instance writes structured lines via zap and renders a spinner
// on the controlling terminal; tests use a no-op or buffering stub.
type Logger interface {
	Log(msg string)
	Warn(msg string)
	StartSpinner(label string)
	UpdateSpinner(label string)
	StopSpinner(finalLabel string)
	StopSpinnerFail(finalLabel string)
	Summary(res *result.SeedResults)
}

// zapLogger is the default Logger, backed by a zap.SugaredLogger for
// structured lines and a small ANSI spinner for interactive progress.
type zapLogger struct {
	sugar *zap.SugaredLogger
	out   io.Writer

	mu      sync.Mutex
	spinOn  bool
	spinMsg string
	stop    chan struct{}
	done    chan struct{}
}

var spinnerFrames = []string{"|", "/", "-", "\\"}

// New builds a Logger writing structured lines at the given level
// ("debug", "info", "warn", "error") in the given format ("text" or
// "json").
func New(level, format string) (Logger, error) {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), parseLevel(level))
	base := zap.New(core)

	return &zapLogger{
		sugar: base.Sugar(),
		out:   os.Stdout,
	}, nil
}

// NewDefault builds a Logger at info level with text output.
func NewDefault() Logger {
	l, _ := New("info", "text")
	return l
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Log(msg string) {
	l.sugar.Info(msg)
}

func (l *zapLogger) Warn(msg string) {
	l.sugar.Warn(color.Yellow.Sprint(msg))
}

// StartSpinner begins an animated progress indicator for a long-running
// stage; it writes directly to stdout rather than through zap since it's a
// transient terminal affordance, not a log line.
func (l *zapLogger) StartSpinner(label string) {
	l.mu.Lock()
	if l.spinOn {
		l.mu.Unlock()
		return
	}
	l.spinOn = true
	l.spinMsg = label
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		frame := 0
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.mu.Lock()
				msg := l.spinMsg
				l.mu.Unlock()
				fmt.Fprintf(l.out, "\r%s %s", color.Cyan.Sprint(spinnerFrames[frame%len(spinnerFrames)]), msg)
				frame++
			}
		}
	}()
}

// UpdateSpinner changes the label of an in-flight spinner without
// restarting the animation.
func (l *zapLogger) UpdateSpinner(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spinMsg = label
}

func (l *zapLogger) stopSpinner(finalLabel string, ok bool) {
	l.mu.Lock()
	if !l.spinOn {
		l.mu.Unlock()
		return
	}
	l.spinOn = false
	close(l.stop)
	l.mu.Unlock()
	<-l.done

	mark := color.Green.Sprint("done")
	if !ok {
		mark = color.Red.Sprint("failed")
	}
	fmt.Fprintf(l.out, "\r%s %s\n", mark, finalLabel)
}

func (l *zapLogger) StopSpinner(finalLabel string) {
	l.stopSpinner(finalLabel, true)
}

func (l *zapLogger) StopSpinnerFail(finalLabel string) {
	l.stopSpinner(finalLabel, false)
}

// Summary renders the per-object result table, runewidth-aligning the
// Object column for CJK-safe fixed-width output, followed by the error log
// if non-empty.
func (l *zapLogger) Summary(res *result.SeedResults) {
	order := res.Order()
	width := len("Object")
	for _, obj := range order {
		if w := runewidth.StringWidth(obj); w > width {
			width = w
		}
	}

	header := fmt.Sprintf("%-*s  %8s %8s %8s %8s %8s", width, "Object", "Queried", "Inserted", "Updated", "Failed", "Skipped")
	fmt.Fprintln(l.out, color.Bold.Sprint(header))
	fmt.Fprintln(l.out, strings.Repeat("-", runewidth.StringWidth(header)))

	for _, obj := range order {
		c := res.Objects[obj]
		pad := width - runewidth.StringWidth(obj)
		if pad < 0 {
			pad = 0
		}
		line := fmt.Sprintf("%s%s  %8d %8d %8d %8d %8d", obj, strings.Repeat(" ", pad),
			c.Queried, c.Inserted, c.Updated, c.Failed, c.Skipped)
		if c.Failed > 0 {
			line = color.Red.Sprint(line)
		}
		fmt.Fprintln(l.out, line)
	}

	if res.Files != nil {
		f := res.Files
		fmt.Fprintf(l.out, "\nfiles: %d link(s), %d version(s) uploaded, %d failed, %d bytes\n",
			f.LinksCreated, f.VersionsUploaded, f.VersionsFailed, f.TotalBytes)
	}

	const maxErrorLines = 20
	if len(res.Errors) > 0 {
		fmt.Fprintf(l.out, "\n%s (%d)\n", color.Red.Sprint("errors"), len(res.Errors))
		shown := res.Errors
		truncated := false
		if len(shown) > maxErrorLines {
			shown = shown[:maxErrorLines]
			truncated = true
		}
		for _, e := range shown {
			fmt.Fprintf(l.out, "  [%s] %s %s: %s\n", e.Stage, e.Object, e.SourceID, e.Message)
		}
		if truncated {
			fmt.Fprintf(l.out, "  ... and %d more\n", len(res.Errors)-maxErrorLines)
		}
	}
}
