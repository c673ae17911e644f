package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToGivenLevel(t *testing.T) {
	l := New(LevelWarn)
	require.NotNil(t, l)
	l.SetLevel(LevelDebug)
	// SetLevel must not panic and must be observable via subsequent calls.
	l.Debug("probe", "k", "v")
}

func TestGlobalLoggerIsUsable(t *testing.T) {
	require.NotNil(t, Global)
	SetGlobalLevel(LevelError)
	Global.Error("boom", "code", 500)
}
