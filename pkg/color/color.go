// Package color renders terminal colors for runlog output.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init decides once whether colors are used. NO_COLOR, TERM=dumb and
// noColorFlag all disable them. Enable and Disable override the decision.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		_, noColorEnv := os.LookupEnv("NO_COLOR")
		disabled := noColorEnv || os.Getenv("TERM") == "dumb" || noColorFlag
		state.enabled.Store(!disabled)
	})
}

// Enabled reports whether color output is on.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns color output off.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns color output on.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
)

func wrap(code string) func(string) string {
	return func(s string) string {
		if !Enabled() {
			return s
		}
		return code + s + Reset
	}
}

var (
	Redf    = wrap(Red)
	Greenf  = wrap(Green)
	Yellowf = wrap(Yellow)
	Bluef   = wrap(Blue)
	Cyanf   = wrap(Cyan)
	Boldf   = wrap(Bold)
	Dimf    = wrap(DimCode)
)

// Success formats s in green.
func Success(s string) string { return Greenf(s) }

// Error formats s in red.
func Error(s string) string { return Redf(s) }

// Errorf formats a printf-style message in red.
func Errorf(format string, args ...any) string {
	return Redf(fmt.Sprintf(format, args...))
}

// Warning formats s in yellow.
func Warning(s string) string { return Yellowf(s) }

// ExecutionID formats an execution id in cyan.
func ExecutionID(s string) string { return Cyanf(s) }

// Script formats a script name in blue.
func Script(s string) string { return Bluef(s) }

// Header formats s in bold.
func Header(s string) string { return Boldf(s) }

// Dim formats secondary information.
func Dim(s string) string { return Dimf(s) }

// ExitCode renders an exit code: green for 0, red otherwise, and a dimmed
// "running" when the code is not known yet.
func ExitCode(code *int) string {
	if code == nil {
		return Dim("running")
	}
	s := strconv.Itoa(*code)
	if *code == 0 {
		return Success(s)
	}
	return Error(s)
}

// Code formats a command string.
func Code(s string) string {
	if !Enabled() {
		return s
	}
	return Bold + DimCode + s + Reset
}
