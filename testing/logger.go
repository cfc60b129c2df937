package testing

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arloliu/mqread/types"
)

// NewTestLogger returns a logger writing through t.Logf, so reader logs show up
// next to the failing test. Lines logged by background goroutines after the
// test's cleanup has run are dropped instead of panicking.
func NewTestLogger(t testing.TB) types.Logger {
	l := &testLogger{t: t}
	t.Cleanup(func() { l.done.Store(true) })

	return l
}

type testLogger struct {
	t    testing.TB
	done atomic.Bool
}

var _ types.Logger = (*testLogger)(nil)

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	if l.done.Load() {
		return
	}

	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
		}
	}
	l.t.Log(b.String())
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.log("INFO", msg, keysAndValues) }
func (l *testLogger) Warn(msg string, keysAndValues ...any)  { l.log("WARN", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *testLogger) Fatal(msg string, keysAndValues ...any) {
	l.log("FATAL", msg, keysAndValues)
	l.t.FailNow()
}
