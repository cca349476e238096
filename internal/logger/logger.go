// Package logger configures the application log and prints colored messages
// on the terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Color int

const (
	GREY Color = 30 + iota
	RED
	GREEN
	YELLOW
	BLUE
	MAGENTA
	CYAN
)

var (
	// ActivateColors enables ANSI colors in the terminal messages.
	ActivateColors = false
	// NOLOG silences the terminal messages.
	NOLOG = false
	// Output receives the terminal messages.
	Output io.Writer = os.Stdout
)

var waiter = sync.Mutex{}

// Options of the application log.
type Options struct {
	// Level is a logrus level name: debug, info, warn, error...
	Level string
	// File, when set, receives the log instead of stderr. It is rotated.
	File string
	// MaxSizeMB is the size of a log file before rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	Colors     bool
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// Setup configures the global logrus logger. The returned closer releases
// the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	log.SetLevel(level)

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{
			ForceColors:   opts.Colors,
			DisableColors: !opts.Colors,
		})
		return io.NopCloser(nil), nil
	}

	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = defaultMaxBackups
	}
	rotate := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	log.SetOutput(rotate)
	log.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return rotate, nil
}

func colorf(c Color, format string, args ...interface{}) {
	if NOLOG {
		return
	}
	waiter.Lock()
	defer waiter.Unlock()
	if !ActivateColors {
		fmt.Fprintf(Output, format, args...)
		return
	}
	fmt.Fprintf(Output, "\x1b[%dm", c)
	fmt.Fprintf(Output, format, args...)
	fmt.Fprintf(Output, "\x1b[0m")
}

func Greenf(format string, args ...interface{}) {
	colorf(GREEN, format, args...)
}

func Redf(format string, args ...interface{}) {
	colorf(RED, format, args...)
}

func Yellowf(format string, args ...interface{}) {
	colorf(YELLOW, format, args...)
}

func Cyanf(format string, args ...interface{}) {
	colorf(CYAN, format, args...)
}
