// Package logging configures logrus for interactive terminals, log collectors and CI runners.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatActions = "actions"
)

// Fields appended to actions output, in this order.
var actionsFields = []string{"step", "service", "volume", "artifact", "outcome", "duration"}

var formatters = map[string]func() log.Formatter{
	FormatText: func() log.Formatter {
		return &log.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			DisableLevelTruncation: true,
		}
	},
	FormatJSON: func() log.Formatter {
		return &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	},
	FormatActions: func() log.Formatter {
		return &ActionsFormatter{}
	},
}

// Setup sends log output to standard error, leaving standard output to command results.
func Setup(level, format string) error {
	formatter, ok := formatters[format]
	if !ok {
		return fmt.Errorf("log format %q is not recognized", format)
	}

	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("while setting log level: %w", err)
	}

	log.SetOutput(os.Stderr)
	log.SetFormatter(formatter())
	log.SetLevel(logLevel)
	return nil
}

// ActionsFormatter prints warnings and errors as GitHub Actions workflow commands,
// so they are annotated on the run summary.
type ActionsFormatter struct{}

func (a *ActionsFormatter) Format(e *log.Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	switch e.Level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		buf.WriteString("::error::")
	case log.WarnLevel:
		buf.WriteString("::warning::")
	default:
		fmt.Fprintf(buf, "[%s] ", e.Time.Format(time.RFC3339Nano))
	}
	buf.WriteString(e.Message)
	for _, key := range actionsFields {
		if value, ok := e.Data[key]; ok {
			fmt.Fprintf(buf, " %s=%v", key, value)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
