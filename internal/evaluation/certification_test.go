package evaluation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsActiveWithinWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	cert := Certification{ValidFrom: now.Add(-time.Hour), ValidUntil: &until}
	assert.True(t, cert.IsActive(now))
}

func TestIsActiveFalseBeforeValidFrom(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cert := Certification{ValidFrom: now.Add(time.Hour)}
	assert.False(t, cert.IsActive(now))
}

func TestIsActiveFalseAfterValidUntil(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	until := now.Add(-time.Minute)
	cert := Certification{ValidFrom: now.Add(-time.Hour), ValidUntil: &until}
	assert.False(t, cert.IsActive(now))
}

func TestIsActiveTrueWithNoValidUntil(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cert := Certification{ValidFrom: now.Add(-time.Hour)}
	assert.True(t, cert.IsActive(now))
}
