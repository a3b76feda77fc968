// Package logger configures the process-wide logrus logger and hands out
// component-scoped entries.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

// Setup applies the configured level and format. Unknown values fall back to
// info/text.
func Setup(level, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	root.SetLevel(lvl)
	root.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		root.SetFormatter(&logrus.JSONFormatter{})
	} else {
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// WithComponent returns an entry tagged with the subsystem name.
func WithComponent(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// L returns the root logger.
func L() *logrus.Logger {
	return root
}
