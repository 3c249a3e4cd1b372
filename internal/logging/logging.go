// Package logging builds the process logger from the log section of the config.
package logging

import (
	"io"
	"os"

	mozlog "github.com/mozilla-services/go-mozlogrus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr. format is "text", "json" or
// "mozlog"; name is the Logger field of mozlog records.
func New(name, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "mozlog":
		log.SetFormatter(&mozlog.MozLogFormatter{LoggerName: name})
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Output returns stderr, or a size-rotated file when filename is set.
func Output(filename string) io.Writer {
	if filename == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
}
