package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EntityKind identifies the category of a Wikibase entity identifier.
type EntityKind int

const (
	KindItem         EntityKind = iota // Q…
	KindProperty                       // P…
	KindLexeme                         // L…
	KindMediainfo                      // M…
	KindEntitySchema                   // E…
	KindForm                           // L…-F…
	KindSense                          // L…-S…
	KindAny                            // selector only, never stored
	KindUnknown                        // invalid or unrecognized identifier
)

// BatchedKinds lists every kind that owns a batch queue, in round-robin order.
var BatchedKinds = [...]EntityKind{
	KindItem, KindProperty, KindLexeme, KindMediainfo, KindEntitySchema, KindForm, KindSense,
}

// prefixes is indexed by the first five kinds.
const prefixes = "QPLME"

var kindNames = [...]string{
	KindItem:         "item",
	KindProperty:     "property",
	KindLexeme:       "lexeme",
	KindMediainfo:    "mediainfo",
	KindEntitySchema: "entity_schema",
	KindForm:         "form",
	KindSense:        "sense",
	KindAny:          "any",
	KindUnknown:      "unknown",
}

func (k EntityKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// IsBatchable reports whether k indexes a batch queue.
func (k EntityKind) IsBatchable() bool {
	return k >= KindItem && k <= KindSense
}

// IsConcrete reports whether k names a real identifier kind (not any/unknown).
func (k EntityKind) IsConcrete() bool { return k.IsBatchable() }

// ParseKind is the inverse of String. Matching is case-insensitive.
func ParseKind(s string) (EntityKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return EntityKind(i), nil
		}
	}
	return KindUnknown, NewValidationError("kind", fmt.Sprintf("unknown entity kind %q", s))
}

// RootKind maps form and sense to lexeme; every other kind is returned as is.
func RootKind(k EntityKind) EntityKind {
	if k == KindForm || k == KindSense {
		return KindLexeme
	}
	return k
}

// parseID reads a canonical non-negative integer starting at s[pos].
// The digit run must be non-empty, have no leading zero, and fit int32.
func parseID(s string, pos int) (n int, next int, ok bool) {
	end := pos
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	digits := s[pos:end]
	if digits == "" {
		return 0, pos, false
	}
	v, err := strconv.ParseInt(digits, 10, 32)
	if err != nil {
		return 0, pos, false
	}
	// Rejects leading zeros: "01" re-stringifies to "1".
	if len(strconv.FormatInt(v, 10)) != len(digits) {
		return 0, pos, false
	}
	return int(v), end, true
}

// Identify classifies an identifier string. It never fails: anything that is
// not a canonical identifier yields KindUnknown.
func Identify(s string) EntityKind {
	if len(s) < 2 {
		return KindUnknown
	}
	k := strings.IndexByte(prefixes, s[0])
	if k < 0 {
		return KindUnknown
	}
	_, i, ok := parseID(s, 1)
	if !ok {
		return KindUnknown
	}
	if i == len(s) {
		return EntityKind(k)
	}

	if EntityKind(k) != KindLexeme || s[i] != '-' {
		return KindUnknown
	}
	i++
	if i >= len(s) {
		return KindUnknown
	}
	tag := s[i]
	if tag != 'F' && tag != 'S' {
		return KindUnknown
	}
	_, i, ok = parseID(s, i+1)
	if !ok || i != len(s) {
		return KindUnknown
	}
	if tag == 'F' {
		return KindForm
	}
	return KindSense
}

// Normalize renders a numeric id as a canonical identifier of the given kind.
//
// A bare number cannot describe a form or sense (those need a lexeme number
// and a sub-number), so form and sense are coerced to the lexeme prefix.
// Callers that accept numeric form or sense ids report the coercion.
func Normalize(id int, kind EntityKind) (string, error) {
	if id < 0 || id > math.MaxInt32 {
		return "", NewValidationError("id", fmt.Sprintf("id %d out of range [0, %d]", id, math.MaxInt32))
	}
	if !kind.IsConcrete() {
		return "", NewValidationError("kind", fmt.Sprintf("kind %s is not a concrete entity kind", kind))
	}
	if kind == KindForm || kind == KindSense {
		kind = KindLexeme
	}
	return string(prefixes[kind]) + strconv.Itoa(id), nil
}

// EntityRoot returns the fetchable unit for an identifier: the parent lexeme
// for forms and senses, the identifier itself otherwise.
func EntityRoot(s string) (string, error) {
	switch Identify(s) {
	case KindUnknown, KindAny:
		return "", NewValidationError("id", fmt.Sprintf("invalid entity id %q", s))
	case KindForm, KindSense:
		return s[:strings.IndexByte(s, '-')], nil
	default:
		return s, nil
	}
}
