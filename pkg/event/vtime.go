package event

import (
	"strconv"
	"strings"
)

// VectorTime is a vector clock value. Missing trailing components are
// treated as zero, so vectors of different length remain comparable.
type VectorTime []int

// ParseVectorTime parses "1,0,2" (or "1|0|2", or "[1 0 2]") into a VectorTime.
func ParseVectorTime(s string) (VectorTime, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == ' '
	})
	vt := make(VectorTime, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		vt = append(vt, n)
	}
	return vt, nil
}

func (v VectorTime) at(i int) int {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func width(a, b VectorTime) int {
	if len(a) > len(b) {
		return len(a)
	}
	return len(b)
}

// Equal reports whether both vectors are component-wise equal.
func (v VectorTime) Equal(o VectorTime) bool {
	for i := 0; i < width(v, o); i++ {
		if v.at(i) != o.at(i) {
			return false
		}
	}
	return true
}

// Less reports whether v happened before o: every component is <= and at
// least one is strictly smaller.
func (v VectorTime) Less(o VectorTime) bool {
	strict := false
	for i := 0; i < width(v, o); i++ {
		a, b := v.at(i), o.at(i)
		if a > b {
			return false
		}
		if a < b {
			strict = true
		}
	}
	return strict
}

// Concurrent reports whether neither vector happened before the other and
// they are not equal.
func (v VectorTime) Concurrent(o VectorTime) bool {
	return !v.Less(o) && !o.Less(v) && !v.Equal(o)
}

// String renders the vector as [a,b,c].
func (v VectorTime) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
