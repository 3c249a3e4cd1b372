package logging

import (
	"os"
	"path/filepath"
	"testing"

	mozlog "github.com/mozilla-services/go-mozlogrus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNew(t *testing.T) {
	log, err := New("devproxy", "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = New("devproxy", "warn", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	log, err = New("appserver", "info", "mozlog")
	require.NoError(t, err)
	require.IsType(t, &mozlog.MozLogFormatter{}, log.Formatter)
	assert.Equal(t, "appserver", log.Formatter.(*mozlog.MozLogFormatter).LoggerName)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("devproxy", "loud", "text")
	assert.ErrorContains(t, err, "log level")

	_, err = New("devproxy", "info", "xml")
	assert.ErrorContains(t, err, "unknown log format")
}

func TestOutput(t *testing.T) {
	assert.Equal(t, os.Stderr, Output(""))

	path := filepath.Join(t.TempDir(), "devproxy.log")
	w := Output(path)
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	defer lj.Close()

	log, err := New("devproxy", "info", "json")
	require.NoError(t, err)
	log.SetOutput(w)
	log.WithField("route", "api").Info("dispatch")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"route":"api"`)
}
