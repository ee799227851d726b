package logging

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger. Unknown levels fall back to info.
func Init(level, format string, out io.Writer) {
	if out != nil {
		log.SetOutput(out)
	}

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	log.Info("[LOGGER] Logger initialized with level: ", lvl)
}
