// Package logging builds the shared logrus logger. Components receive a
// *logrus.Entry tagged with their name instead of the root logger, so
// every line says where it came from.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logrus hands out component-tagged entries of one shared logger.
type Logrus struct {
	logger *logrus.Logger
}

// New builds a logger writing to output at the named level. Unknown
// level names fall back to info.
func New(level string, output io.Writer) *Logrus {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(parsed)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &Logrus{logger: logger}
}

// Get returns an entry tagged with the component name.
func (l *Logrus) Get(component string) *logrus.Entry {
	return l.logger.WithField("component", component)
}
