// Package logging configures logiface loggers, backed by either stumpy
// (JSON) or zerolog (adapted, for its console writer).
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/rs/zerolog"
)

// Format selects the output format of [New].
type Format string

const (
	FormatJSON    Format = `json`
	FormatConsole Format = `console`
)

// New returns a generified logger writing to w, at or above level. A nil
// writer, or a disabled level, returns a nil logger, which discards all
// events.
func New(w io.Writer, format Format, level logiface.Level) (*logiface.Logger[logiface.Event], error) {
	if w == nil || !level.Enabled() {
		return nil, nil
	}
	switch format {
	case FormatJSON, ``:
		return NewJSON(w, level), nil
	case FormatConsole:
		return NewZerolog(zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).With().Timestamp().Logger(), level), nil
	default:
		return nil, fmt.Errorf(`logging: unknown format: %q`, format)
	}
}

// NewJSON returns a stumpy logger, writing JSON lines to w.
func NewJSON(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// ParseLevel parses the short syslog keywords used by [logiface.Level.String],
// along with the common aliases "error" and "warn".
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case `disabled`, `off`, `none`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`, `panic`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`, `fatal`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf(`logging: unknown level: %q`, s)
	}
}
