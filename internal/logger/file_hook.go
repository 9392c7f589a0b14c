package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// fileHook duplicates every entry into an io.Writer (the lumberjack rotator).
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}
