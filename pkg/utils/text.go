// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ShortID returns the first n hex characters of a uuid string, dashes removed.
func ShortID(id string, n int) string {
	id = strings.ReplaceAll(id, "-", "")
	if n <= 0 || len(id) <= n {
		return id
	}
	return id[:n]
}
