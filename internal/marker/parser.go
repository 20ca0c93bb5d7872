// Package marker implements the line-oriented protocol described in
// spec §4.C: a stateless, total translation from one line of child output
// into zero or one marker Event.
package marker

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which marker grammar production matched a line.
type Kind int

const (
	// KindNone: the line carries no marker; it is ordinary output.
	KindNone Kind = iota
	KindStepStart
	KindStepComplete
	KindStepError
	KindArtifact
	KindMeta
)

// Event is the parser's sole output: the recognized marker (if any) plus
// enough of the line to let the caller also record it as a log entry.
type Event struct {
	Kind Kind

	// StepStart / StepComplete / StepError
	StepName string
	Options  map[string]any // unknown STEP_START options, retained in step metadata
	StopOnError *bool        // nil => caller applies the default (true)
	Duration    *int         // STEP_START "duration" option, advisory

	// StepError
	ErrorDescription string

	// Artifact
	ArtifactPath        string
	ArtifactDescription string

	// Meta
	MetaKey   string
	MetaValue string
}

var optionPattern = regexp.MustCompile(`\[([^\]]*)\]\s*$`)

var prefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindStepStart, "STEP_START:"},
	{KindStepComplete, "STEP_COMPLETE:"},
	{KindStepError, "STEP_ERROR:"},
	{KindArtifact, "ARTIFACT:"},
	{KindMeta, "META:"},
}

// Parse translates one line (already decoded, newline stripped) into an
// Event. It never errors: unrecognized or malformed marker-looking lines
// simply yield KindNone, preserving the "total" property of §4.C.
func Parse(line string) Event {
	trimmed := strings.TrimSpace(line)

	for _, p := range prefixes {
		if !strings.HasPrefix(trimmed, p.prefix) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(p.prefix):])
		if rest == "" {
			// e.g. a bare "STEP_START:" is not a marker (§8 invariant 10).
			return Event{Kind: KindNone}
		}
		switch p.kind {
		case KindStepStart:
			return parseStepStart(rest)
		case KindStepComplete:
			return Event{Kind: KindStepComplete, StepName: rest}
		case KindStepError:
			return Event{Kind: KindStepError, ErrorDescription: rest}
		case KindArtifact:
			path, desc := splitFirstColon(rest)
			return Event{Kind: KindArtifact, ArtifactPath: path, ArtifactDescription: desc}
		case KindMeta:
			key, value := splitFirstColon(rest)
			if key == "" {
				return Event{Kind: KindNone}
			}
			return Event{Kind: KindMeta, MetaKey: key, MetaValue: value}
		}
	}
	return Event{Kind: KindNone}
}

// splitFirstColon implements the spec's resolved Open Question: ARTIFACT
// (and META) split on the first ':' after the prefix; everything after
// belongs to the description/value, ":" included.
func splitFirstColon(s string) (first, rest string) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:])
}

// parseStepStart separates the step name from its optional trailing
// "[key=value,...]" option block (spec §4.C grammar).
func parseStepStart(rest string) Event {
	ev := Event{Kind: KindStepStart, Options: map[string]any{}}

	name := rest
	if m := optionPattern.FindStringSubmatchIndex(rest); m != nil {
		name = strings.TrimSpace(rest[:m[0]])
		body := rest[m[2]:m[3]]
		for _, kv := range strings.Split(body, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			eq := strings.Index(kv, "=")
			if eq < 0 {
				continue
			}
			key := strings.TrimSpace(kv[:eq])
			val := strings.TrimSpace(kv[eq+1:])
			applyOption(&ev, key, val)
		}
	}
	ev.StepName = name
	return ev
}

func applyOption(ev *Event, key, val string) {
	switch key {
	case "stop_on_error":
		b := strings.EqualFold(val, "true")
		ev.StopOnError = &b
	case "duration":
		if n, err := strconv.Atoi(val); err == nil {
			ev.Duration = &n
		} else {
			ev.Options[key] = val
		}
	default:
		ev.Options[key] = coerce(val)
	}
}

// coerce converts a bracket-option value into bool/int where unambiguous,
// otherwise leaves it a string — matching the original parser's light type
// inference (see SPEC_FULL.md §5) restricted to the documented bracket form.
func coerce(val string) any {
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return val
}
