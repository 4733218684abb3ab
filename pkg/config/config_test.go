package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nais/hostops/pkg/config"
)

func valid() *config.Config {
	return &config.Config{
		Deploy: config.Deploy{
			HealthTimeout:  2 * time.Minute,
			HealthInterval: 2 * time.Second,
		},
		Retention: config.Retention{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Deploy.HealthTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), config.DeployHealthTimeout)

	cfg = valid()
	cfg.Deploy.HealthInterval = -time.Second
	assert.ErrorContains(t, cfg.Validate(), config.DeployHealthInterval)

	cfg = valid()
	cfg.Retention.KeepWeekly = -1
	assert.Error(t, cfg.Validate())
}

func TestSecretsAreRedacted(t *testing.T) {
	assert.Contains(t, config.Secrets, config.ResticPassword)
	assert.Contains(t, config.Secrets, config.PostgresURL)
	assert.Contains(t, config.Secrets, config.RedisPassword)
}
