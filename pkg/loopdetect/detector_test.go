package loopdetect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func feed(d *Detector, stream string) (detected bool, consumed int) {
	for i, tok := range strings.Fields(stream) {
		if _, hit := d.Check(tok); hit {
			return true, i + 1
		}
	}
	return false, 0
}

func TestCheck_DetectsAlternatingLoop(t *testing.T) {
	d := New(6, 0.6, 0)

	detected, consumed := feed(d, "a b a b a b a b")
	assert.True(t, detected, "a b a reaches 2/3 repetition once window 6 is half-full, crossing 0.6")
	assert.LessOrEqual(t, consumed, 8)
}

func TestCheck_IgnoresUniqueSequence(t *testing.T) {
	d := New(6, 0.6, 0)

	detected, _ := feed(d, "a b c d e f")
	assert.False(t, detected)
}

func TestCheck_SilentUntilWindowHalfFull(t *testing.T) {
	d := New(50, 0.6, 0)

	// 24 identical tokens, window half-full threshold is 25.
	for i := 0; i < 24; i++ {
		_, hit := d.Check("x")
		assert.False(t, hit)
	}
	_, hit := d.Check("x")
	assert.True(t, hit)
}

func TestCheck_EntropyFloor(t *testing.T) {
	// Distinct tokens over a tiny alphabet: frequency check passes,
	// entropy check catches it.
	d := New(6, 0.99, 2.0)

	detected, _ := feed(d, "aa ab aa ab ba bb aa ab")
	assert.True(t, detected)
}

func TestCheck_ZeroWindowDisables(t *testing.T) {
	d := New(0, 0.6, 0)
	for i := 0; i < 100; i++ {
		_, hit := d.Check("x")
		assert.False(t, hit)
	}
}
