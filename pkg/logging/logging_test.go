package logging_test

import (
	"testing"
	"time"

	"github.com/nais/hostops/pkg/logging"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	assert.NoError(t, logging.Setup("info", logging.FormatText))
	assert.NoError(t, logging.Setup("debug", logging.FormatJSON))
	assert.Error(t, logging.Setup("info", "xml"))
	assert.Error(t, logging.Setup("loud", logging.FormatText))
}

func TestActionsFormatter(t *testing.T) {
	f := &logging.ActionsFormatter{}

	out, err := f.Format(&log.Entry{Level: log.ErrorLevel, Message: "deployment rolled back", Data: log.Fields{}})
	assert.NoError(t, err)
	assert.Equal(t, "::error::deployment rolled back\n", string(out))

	out, err = f.Format(&log.Entry{Level: log.WarnLevel, Message: "pull failed", Data: log.Fields{"step": "pull"}})
	assert.NoError(t, err)
	assert.Equal(t, "::warning::pull failed step=pull\n", string(out))

	out, err = f.Format(&log.Entry{Level: log.WarnLevel, Message: "volume skipped", Data: log.Fields{"outcome": "failed", "volume": "app-uploads", "step": "volume"}})
	assert.NoError(t, err)
	assert.Equal(t, "::warning::volume skipped step=volume volume=app-uploads outcome=failed\n", string(out))

	ts := time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)
	out, err = f.Format(&log.Entry{Level: log.InfoLevel, Time: ts, Message: "hello", Data: log.Fields{}})
	assert.NoError(t, err)
	assert.Equal(t, "[2026-10-18T02:00:00Z] hello\n", string(out))
}
