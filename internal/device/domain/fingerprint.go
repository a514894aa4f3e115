package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives a stable identifier from client attributes such as
// user agent, platform, screen size and timezone. Key order does not matter.
func Fingerprint(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(k))))
		h.Write([]byte{'='})
		h.Write([]byte(strings.TrimSpace(attrs[k])))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResolveFingerprint prefers an explicit fingerprint over derived attributes.
func ResolveFingerprint(raw string, attrs map[string]string) string {
	if fp := strings.TrimSpace(raw); fp != "" {
		return fp
	}
	return Fingerprint(attrs)
}
