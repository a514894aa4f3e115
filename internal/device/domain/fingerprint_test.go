package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := Fingerprint(map[string]string{"user_agent": "Firefox", "platform": "Linux"})
	b := Fingerprint(map[string]string{"platform": "Linux", "user_agent": "Firefox"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintChangesWithAttributes(t *testing.T) {
	a := Fingerprint(map[string]string{"user_agent": "Firefox"})
	b := Fingerprint(map[string]string{"user_agent": "Chrome"})
	assert.NotEqual(t, a, b)
}

func TestResolveFingerprint(t *testing.T) {
	assert.Equal(t, "raw", ResolveFingerprint(" raw ", map[string]string{"x": "y"}))
	assert.Equal(t, "", ResolveFingerprint("", nil))
	assert.Equal(t, "", Fingerprint(map[string]string{"blank": "  "}))
}
