package utils

import (
	"strconv"
)

// ParseID parses a positive numeric id
func ParseID(s string) (uint, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ParseOptionalInt returns def for an empty string, and false when s is not an integer
func ParseOptionalInt(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return i, true
}
