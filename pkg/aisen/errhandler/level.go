// level.go defines error levels, reporting masks and the severity filter.

package errhandler

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the severity of a runtime error signal. Levels are bit flags so
// that a set of them can be expressed as a Mask.
type Level int

const (
	LevelError Level = 1 << iota
	LevelWarning
	LevelParse
	LevelNotice
	LevelCoreError
	LevelCoreWarning
	LevelCompileError
	LevelCompileWarning
	LevelUserError
	LevelUserWarning
	LevelUserNotice
	LevelStrict
	LevelRecoverableError
	LevelDeprecated
	LevelUserDeprecated
)

var levelNames = map[Level]string{
	LevelError:            "E_ERROR",
	LevelWarning:          "E_WARNING",
	LevelParse:            "E_PARSE",
	LevelNotice:           "E_NOTICE",
	LevelCoreError:        "E_CORE_ERROR",
	LevelCoreWarning:      "E_CORE_WARNING",
	LevelCompileError:     "E_COMPILE_ERROR",
	LevelCompileWarning:   "E_COMPILE_WARNING",
	LevelUserError:        "E_USER_ERROR",
	LevelUserWarning:      "E_USER_WARNING",
	LevelUserNotice:       "E_USER_NOTICE",
	LevelStrict:           "E_STRICT",
	LevelRecoverableError: "E_RECOVERABLE_ERROR",
	LevelDeprecated:       "E_DEPRECATED",
	LevelUserDeprecated:   "E_USER_DEPRECATED",
}

// String returns the conventional E_* name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "E_UNKNOWN(" + strconv.Itoa(int(l)) + ")"
}

// IsFatal reports whether l belongs to the fatal class: levels the runtime
// cannot deliver to a live hook and which are only observable afterwards
// through Runtime.LastError.
func (l Level) IsFatal() bool {
	return MaskFatal.Has(l)
}

// Mask is a set of levels.
type Mask int

const (
	// MaskNone contains no levels.
	MaskNone Mask = 0

	// MaskAll contains every level.
	MaskAll Mask = Mask(LevelUserDeprecated<<1) - 1

	// MaskFatal contains the fatal-class levels.
	MaskFatal = Mask(LevelError | LevelParse | LevelCoreError | LevelCoreWarning |
		LevelCompileError | LevelCompileWarning)

	// MaskDefault is a sentinel, not a set: the handler defers to the
	// runtime's reporting mask as it is when the signal fires.
	MaskDefault Mask = 1 << 30
)

// MaskOf builds a mask from levels.
func MaskOf(levels ...Level) Mask {
	var m Mask
	for _, l := range levels {
		m |= Mask(l)
	}
	return m
}

// Has reports whether the mask contains level l.
func (m Mask) Has(l Level) bool {
	if m == MaskDefault {
		return false
	}
	return m&Mask(l) != 0
}

// Without returns m with the given levels removed.
func (m Mask) Without(levels ...Level) Mask {
	return m &^ MaskOf(levels...)
}

// String renders the mask as a pipe-separated list of level names.
func (m Mask) String() string {
	switch m {
	case MaskDefault:
		return "default"
	case MaskNone:
		return "none"
	case MaskAll:
		return "E_ALL"
	}
	var names []string
	for l := LevelError; l <= LevelUserDeprecated; l <<= 1 {
		if m.Has(l) {
			names = append(names, l.String())
		}
	}
	return strings.Join(names, "|")
}

// IsReportable decides whether a signal of the given level is reported.
//
// With configured == MaskDefault the live mask (read by the caller at signal
// time) decides; otherwise the configured mask does. Local suppression at the
// error site is never visible here and is never second-guessed.
func IsReportable(level Level, configured, live Mask) bool {
	if configured == MaskDefault {
		return live.Has(level)
	}
	return configured.Has(level)
}

// ParseMask parses a textual mask.
//
// Accepted forms: "default", "all", "none", "fatal", an integer (negative
// integers mean every level), or a list of level names separated by commas
// or pipes. Names may omit the "E_" prefix and are case-insensitive; a name
// prefixed with "-" or "~" is removed from the set built so far.
//
//	ParseMask("all,-deprecated,-user_deprecated")
//	ParseMask("E_WARNING|E_USER_WARNING")
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "default") {
		return MaskDefault, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return MaskAll, nil
		}
		return Mask(n) & MaskAll, nil
	}

	var m Mask
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == '&' })
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		exclude := false
		if strings.HasPrefix(field, "-") || strings.HasPrefix(field, "~") {
			exclude = true
			field = strings.TrimSpace(field[1:])
		}
		part, err := parseMaskName(field)
		if err != nil {
			return MaskNone, err
		}
		if exclude {
			m &^= part
		} else {
			m |= part
		}
	}
	return m, nil
}

func parseMaskName(name string) (Mask, error) {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "E_") {
		upper = "E_" + upper
	}
	switch upper {
	case "E_ALL":
		return MaskAll, nil
	case "E_NONE":
		return MaskNone, nil
	case "E_FATAL":
		return MaskFatal, nil
	}
	for l, n := range levelNames {
		if n == upper {
			return Mask(l), nil
		}
	}
	return MaskNone, fmt.Errorf("unknown error level %q", name)
}
