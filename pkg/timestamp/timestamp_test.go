package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse_Numeric(t *testing.T) {
	// Seconds get promoted to milliseconds
	assert.Equal(t, int64(1673784645000), Parse(int64(1673784645)))
	// Milliseconds pass through
	assert.Equal(t, int64(1673784645123), Parse(int64(1673784645123)))
	// float64 is what encoding/json hands us for numbers
	assert.Equal(t, int64(1673784645123), Parse(float64(1673784645123)))
	assert.Equal(t, int64(1673784645000), Parse(float64(1673784645)))
	assert.Equal(t, int64(0), Parse(int64(0)))
}

func TestParse_String(t *testing.T) {
	assert.Equal(t, int64(1673785845000), Parse("2023-01-15T12:30:45Z"))
	assert.Equal(t, int64(1673784645000), Parse("1673784645"))
	assert.Equal(t, int64(0), Parse("not a time"))
	assert.Equal(t, int64(0), Parse(""))
}

func TestParse_TimeAndNil(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.UnixMilli(), Parse(now))
	assert.Equal(t, int64(0), Parse(nil))
	assert.Equal(t, int64(0), Parse(struct{}{}))
}

func TestFromPayload(t *testing.T) {
	assert.Equal(t, int64(1673784645123),
		FromPayload(map[string]any{"timestamp": float64(1673784645123), "v": 1}))
	assert.Equal(t, int64(0), FromPayload(map[string]any{"v": 1}))
	assert.Equal(t, int64(0), FromPayload([]any{1, 2, 3}))
	assert.Equal(t, int64(0), FromPayload(nil))
}

func TestFormat_ZeroSemantics(t *testing.T) {
	assert.Equal(t, "", Format(0))
	assert.Equal(t, "2023-01-15T12:30:45Z", Format(1673785845000))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.True(t, IsZero(0))
	assert.False(t, IsZero(1))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(50, 10, 100))
	assert.True(t, InRange(10, 10, 100)) // inclusive lower bound
	assert.True(t, InRange(100, 10, 100)) // inclusive upper bound
	assert.False(t, InRange(9, 10, 100))
	assert.False(t, InRange(101, 10, 100))
	// Zero bounds are open
	assert.True(t, InRange(5, 0, 100))
	assert.True(t, InRange(500, 10, 0))
}

func TestBetween(t *testing.T) {
	assert.Equal(t, time.Second, Between(1000, 2000))
	assert.Equal(t, time.Duration(0), Between(0, 2000))
	assert.Equal(t, time.Duration(0), Between(1000, 0))
}
