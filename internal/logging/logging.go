// Package logging builds the zerolog logger used by the candy commands.
//
// Console output goes to stderr. When a directory is configured, every
// record at info and above is appended to combined.log and every error to
// error.log, both as JSON lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	CombinedFile = "combined.log"
	ErrorFile    = "error.log"
)

type Options struct {
	Dir    string
	Level  string
	Format string // "console" | "json"
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New builds a logger writing to out and, if opts.Dir is set, to the log
// files. The returned close func flushes and closes the files.
func New(opts Options, out io.Writer) (zerolog.Logger, func() error, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	writers := []io.Writer{consoleWriter(opts.Format, out)}
	var files []*os.File

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		combined, err := openLog(filepath.Join(opts.Dir, CombinedFile))
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		errLog, err := openLog(filepath.Join(opts.Dir, ErrorFile))
		if err != nil {
			combined.Close()
			return zerolog.Nop(), nil, err
		}
		files = append(files, combined, errLog)
		writers = append(writers,
			&minLevelWriter{w: combined, min: zerolog.InfoLevel},
			&minLevelWriter{w: errLog, min: zerolog.ErrorLevel},
		)
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	closer := func() error {
		var err error
		for _, f := range files {
			err = multierr.Append(err, f.Close())
		}
		return err
	}
	return log, closer, nil
}

func consoleWriter(format string, out io.Writer) io.Writer {
	if format == "json" {
		return out
	}
	noColor := true
	if f, ok := out.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: "15:04:05.000 |",
	}
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// minLevelWriter drops records below min.
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m *minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m *minLevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < m.min || l == zerolog.NoLevel {
		return len(p), nil
	}
	return m.w.Write(p)
}
