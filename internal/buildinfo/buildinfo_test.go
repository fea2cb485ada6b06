package buildinfo

import (
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
		systemID  string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			version:   UnknownValue,
			buildDate: UnknownValue,
			systemID:  UnknownValue,
		},
		{
			name:      "all set",
			ctx:       NewContext("1.2.0", "2026-10-01", "node-1"),
			version:   "1.2.0",
			buildDate: "2026-10-01",
			systemID:  "node-1",
		},
		{
			name:      "pre-release version",
			ctx:       NewContext("1.2.0-beta.1", "", "node-1"),
			version:   "1.2.0-beta.1",
			buildDate: UnknownValue,
			systemID:  "node-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.Version())
			assert.Equal(t, tt.buildDate, tt.ctx.BuildDate())
			assert.Equal(t, tt.systemID, tt.ctx.SystemID())
		})
	}
}

func TestGeneratedSystemID(t *testing.T) {
	t.Parallel()

	c := NewContext("1.0.0", "", "")
	_, err := uuid.Parse(c.SystemID())
	require.NoError(t, err)
	assert.NotEqual(t, c.SystemID(), NewContext("1.0.0", "", "").SystemID())
}

func TestString(t *testing.T) {
	t.Parallel()

	s := NewContext("1.0.0", "2026-10-01", "x").String()
	assert.Contains(t, s, "1.0.0 (built 2026-10-01")
	assert.Contains(t, s, runtime.GOOS)
}
