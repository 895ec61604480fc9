package roles

import (
	"fmt"
	"sort"
	"strings"
)

// Roles known to the fan-out and authorization layers.
const (
	Student = "student"
	Faculty = "faculty"
	HOD     = "hod"
	Admin   = "admin"

	// Both is accepted only at input parsing and expands to {Student, Faculty}.
	Both = "both"
)

// All lists every concrete role in a stable order.
var All = []string{Student, Faculty, HOD, Admin}

// Valid reports whether role is one of the concrete roles.
func Valid(role string) bool {
	switch role {
	case Student, Faculty, HOD, Admin:
		return true
	}
	return false
}

// Audience is an explicit set of target roles.
type Audience map[string]struct{}

// NewAudience builds an audience from concrete roles, ignoring unknown ones.
func NewAudience(rs ...string) Audience {
	a := make(Audience, len(rs))
	for _, r := range rs {
		if Valid(r) {
			a[r] = struct{}{}
		}
	}
	return a
}

// ParseAudience turns a comma separated target ("both", "student,hod", "all")
// into a role set.
func ParseAudience(s string) (Audience, error) {
	a := make(Audience)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		switch {
		case part == "":
			continue
		case part == Both:
			a[Student] = struct{}{}
			a[Faculty] = struct{}{}
		case part == "all":
			for _, r := range All {
				a[r] = struct{}{}
			}
		case Valid(part):
			a[part] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown audience role %q", part)
		}
	}
	if len(a) == 0 {
		return nil, fmt.Errorf("empty audience")
	}
	return a, nil
}

// Has reports whether role is part of the audience.
func (a Audience) Has(role string) bool {
	_, ok := a[role]
	return ok
}

// Roles returns the members sorted.
func (a Audience) Roles() []string {
	out := make([]string, 0, len(a))
	for r := range a {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
