package logutils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = logrus.StandardLogger()

func SetLoggerLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// SetLogFile tees log output into a rotated JSON file next to stderr.
// An empty filename keeps stderr only. The returned closer flushes the file.
func SetLogFile(filename string) io.Closer {
	if filename == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	rotated := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    64,
		MaxBackups: 7,
		MaxAge:     7,
	}
	log.SetOutput(os.Stderr)
	log.AddHook(&fileHook{w: rotated, formatter: &logrus.JSONFormatter{}})
	return rotated
}

type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}
