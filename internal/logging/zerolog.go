package logging

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

type (
	// Event is a logiface event, backed by a zerolog event.
	Event struct {
		//lint:ignore U1000 embedded for it's methods
		unimplementedEvent

		z   *zerolog.Event
		msg string
		lvl logiface.Level
	}

	// Logger implements logiface's event factory and writer, using zerolog.
	Logger struct {
		Z zerolog.Logger
	}

	//lint:ignore U1000 used to embed without exporting
	unimplementedEvent = logiface.UnimplementedEvent
)

var (
	// compile time assertions

	_ logiface.Event                = (*Event)(nil)
	_ logiface.EventFactory[*Event] = (*Logger)(nil)
	_ logiface.Writer[*Event]       = (*Logger)(nil)
)

// NewZerolog wraps z, filtering at level.
func NewZerolog(z zerolog.Logger, level logiface.Level) *logiface.Logger[logiface.Event] {
	return logiface.New[*Event](WithZerolog(z), logiface.WithLevel[*Event](level)).Logger()
}

// WithZerolog configures a logiface logger to write using z.
func WithZerolog(z zerolog.Logger) logiface.Option[*Event] {
	x := &Logger{Z: z}
	return logiface.WithOptions[*Event](
		logiface.WithEventFactory[*Event](x),
		logiface.WithWriter[*Event](x),
	)
}

func (x *Event) Level() logiface.Level {
	if x != nil {
		return x.lvl
	}
	return logiface.LevelDisabled
}

func (x *Event) AddField(key string, val any) {
	x.z.Interface(key, val)
}

func (x *Event) AddMessage(msg string) bool {
	x.msg = msg
	return true
}

func (x *Event) AddError(err error) bool {
	x.z.Err(err)
	return true
}

func (x *Event) AddString(key string, val string) bool {
	x.z.Str(key, val)
	return true
}

func (x *Event) AddInt(key string, val int) bool {
	x.z.Int(key, val)
	return true
}

func (x *Event) AddInt64(key string, val int64) bool {
	x.z.Int64(key, val)
	return true
}

func (x *Event) AddUint64(key string, val uint64) bool {
	x.z.Uint64(key, val)
	return true
}

func (x *Event) AddFloat64(key string, val float64) bool {
	x.z.Float64(key, val)
	return true
}

func (x *Event) AddBool(key string, val bool) bool {
	x.z.Bool(key, val)
	return true
}

func (x *Event) AddTime(key string, val time.Time) bool {
	x.z.Time(key, val)
	return true
}

func (x *Event) AddDuration(key string, val time.Duration) bool {
	x.z.Dur(key, val)
	return true
}

// NewEvent maps logiface levels onto zerolog's. Levels that zerolog would
// exit or panic on are written using WithLevel, which does neither.
func (x *Logger) NewEvent(level logiface.Level) *Event {
	if !level.Enabled() {
		return nil
	}
	r := Event{lvl: level}
	switch level {
	case logiface.LevelTrace:
		r.z = x.Z.Trace()
	case logiface.LevelDebug:
		r.z = x.Z.Debug()
	case logiface.LevelInformational:
		r.z = x.Z.Info()
	case logiface.LevelNotice, logiface.LevelWarning:
		r.z = x.Z.Warn()
	case logiface.LevelError, logiface.LevelCritical:
		r.z = x.Z.Error()
	case logiface.LevelAlert:
		r.z = x.Z.WithLevel(zerolog.FatalLevel)
	case logiface.LevelEmergency:
		r.z = x.Z.WithLevel(zerolog.PanicLevel)
	default:
		// >= 9, translate to numeric levels in zerolog
		// (9 -> -2, 10 -> -3, etc)
		r.z = x.Z.WithLevel(zerolog.Level(7 - level))
	}
	return &r
}

func (x *Logger) Write(event *Event) error {
	event.z.Msg(event.msg)
	return nil
}
