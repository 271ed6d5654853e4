package logger

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bogus":   logrus.DebugLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestEntryCarriesFields(t *testing.T) {
	l := GetChatLogger()
	prevLevel, prevOut := l.GetLevel(), l.Out
	t.Cleanup(func() {
		l.SetLevel(prevLevel)
		l.SetOutput(prevOut)
	})
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)

	hook := test.NewLocal(l.Logger)
	defer hook.Reset()

	l.WithFields(Fields{"at": "logger.test", "room": "lobby"}).
		WithField("user", "alice").
		WithError(errors.New("boom")).
		Info("user_joined")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "user_joined", entry.Message)
	assert.Equal(t, "lobby", entry.Data["room"])
	assert.Equal(t, "alice", entry.Data["user"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "boom")
}

func TestConfigureWritesRotatedFile(t *testing.T) {
	l := GetChatLogger()
	prevLevel, prevOut, prevFmt := l.GetLevel(), l.Out, l.Formatter
	t.Cleanup(func() {
		l.SetLevel(prevLevel)
		l.SetOutput(prevOut)
		l.SetFormatter(prevFmt)
	})

	path := filepath.Join(t.TempDir(), "chat.log")
	Configure(Options{Level: "warn", Format: "json", File: path, MaxSizeMB: 1})

	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	SetLevel("error")
	assert.Equal(t, logrus.ErrorLevel, l.GetLevel())
}
