package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the trimmed value of key and whether it is set to something
// other than whitespace.
func Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func String(key, fallback string) string {
	if v, ok := Lookup(key); ok {
		return v
	}
	return fallback
}

// Int accepts positive integers only; anything else yields fallback.
func Int(key string, fallback int) int {
	v, ok := Lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func Bool(key string, fallback bool) bool {
	v, ok := Lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Millis reads a positive millisecond count.
func Millis(key string, fallback time.Duration) time.Duration {
	n := Int(key, 0)
	if n == 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

// CSV splits a comma separated value, dropping blanks and duplicates while
// keeping the first-seen order.
func CSV(key string, fallback []string) []string {
	v, ok := Lookup(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	result := DedupeTrim(strings.Split(v, ","))
	if len(result) == 0 {
		return append([]string(nil), fallback...)
	}
	return result
}

func DedupeTrim(items []string) []string {
	result := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
