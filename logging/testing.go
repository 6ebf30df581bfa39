package logging

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format used by the test output.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

func (utcClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

type testCore struct {
	tb     testing.TB
	fields []zapcore.Field
}

// NewTestCore returns a core that logs to the underlying `testing.TB` object, so that each log
// line is associated with the test that produced it, even for parallel tests.
func NewTestCore(tb testing.TB) zapcore.Core {
	return &testCore{tb: tb}
}

func (tc *testCore) Enabled(zapcore.Level) bool {
	return true
}

func (tc *testCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(tc.fields)+len(fields))
	combined = append(combined, tc.fields...)
	combined = append(combined, fields...)
	return &testCore{tb: tc.tb, fields: combined}
}

func (tc *testCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, tc)
}

// Write outputs the log entry to the underlying test object `Log` method.
func (tc *testCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tc.tb.Helper()
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))

	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, entry.Caller.TrimmedPath())
	}
	toPrint = append(toPrint, entry.Message)

	all := append(append([]zapcore.Field{}, tc.fields...), fields...)
	if len(all) == 0 {
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return nil
	}

	// Use zap's json encoder which will encode our slice of fields in-order. As opposed to the
	// random iteration order of a map. Call it with an empty Entry object such that only the fields
	// become "map-ified".
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, all)
	if err != nil {
		// Log what we have and return the error.
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return err
	}
	toPrint = append(toPrint, buf.String())
	tc.tb.Log(strings.Join(toPrint, "\t"))
	return nil
}

// Sync is a no-op.
func (tc *testCore) Sync() error {
	return nil
}
