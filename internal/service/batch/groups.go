package batch

import (
	"slices"
	"strings"
)

const (
	anonymousPrefix = "g_"
	anonymousDigits = 8
	hexDigits       = "0123456789abcdef"
)

// NewGroup creates name (or a fresh anonymous group when name is empty) and
// makes it current. It reports whether a group was created; an existing group
// becomes current with its contents intact.
func (e *Engine) NewGroup(name string) bool {
	if name == "" {
		for {
			name = e.anonymousName()
			if _, taken := e.groups[name]; !taken {
				break
			}
		}
	}
	e.current = name
	if _, ok := e.groups[name]; ok {
		return false
	}
	e.groups[name] = make(idSet)
	return true
}

// SelectGroup makes a group current and returns its name. An empty name keeps
// the current group, creating an anonymous one when there is none.
func (e *Engine) SelectGroup(name string) string {
	if name == "" {
		if e.current == "" {
			e.NewGroup("")
		}
		return e.current
	}
	e.NewGroup(name)
	return name
}

// CurrentGroup returns the current group name, or "" before any group exists.
func (e *Engine) CurrentGroup() string { return e.current }

// GroupMembers returns the verbatim ids of a group in sorted order.
func (e *Engine) GroupMembers(name string) []string {
	g, ok := e.groups[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// GroupSize returns the number of ids in a group; 0 if it does not exist.
func (e *Engine) GroupSize(name string) int { return len(e.groups[name]) }

// Groups returns all group names in sorted order.
func (e *Engine) Groups() []string {
	out := make([]string, 0, len(e.groups))
	for name := range e.groups {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (e *Engine) anonymousName() string {
	var b strings.Builder
	b.Grow(len(anonymousPrefix) + anonymousDigits)
	b.WriteString(anonymousPrefix)
	for range anonymousDigits {
		b.WriteByte(hexDigits[e.rnd.IntN(len(hexDigits))])
	}
	return b.String()
}
