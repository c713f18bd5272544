package fileq

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debugf("d %d", 1)
	l.Infof("i %s", "x")
	l.Warnf("w")
	l.Errorf("e %v", true)

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "d 1", entries[0].Message)
	require.Equal(t, "i x", entries[1].Message)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(t, "e true", entries[3].Message)
}

func TestZapLogger_NilIsNoop(t *testing.T) {
	l := NewZapLogger(nil)
	require.NotPanics(t, func() { l.Infof("nothing %d", 1) })
}

func TestFmtLogger_DoesNotPanic(t *testing.T) {
	var l Logger = NewFmtLogger()
	require.NotPanics(t, func() {
		l.Debugf("a")
		l.Infof("b")
		l.Warnf("c")
		l.Errorf("d")
	})
}
