package domain

import (
	"fmt"
	"strings"
)

// NormalizeNodeID trims and rejects placeholder/unknown node ids.
func NormalizeNodeID(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "unknown") || v == "!ffffffff" {
		return ""
	}

	return v
}

// FormatNodeNum renders a numeric node number as the canonical
// "!1234abcd" id.
func FormatNodeNum(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// IsNodeID reports whether the string looks like a canonical node id.
func IsNodeID(v string) bool {
	if len(v) != 9 || v[0] != '!' {
		return false
	}
	for i := 1; i < len(v); i++ {
		if !isHexByte(v[i]) {
			return false
		}
	}

	return true
}

func isHexByte(ch byte) bool {
	switch {
	case ch >= '0' && ch <= '9':
		return true
	case ch >= 'a' && ch <= 'f':
		return true
	case ch >= 'A' && ch <= 'F':
		return true
	default:
		return false
	}
}
