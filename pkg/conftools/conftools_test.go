package conftools_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/hostops/pkg/conftools"
)

type nested struct {
	Password string        `json:"password"`
	Timeout  time.Duration `json:"timeout"`
}

type settings struct {
	Name     string   `json:"name"`
	Prefixes []string `json:"prefixes"`
	Nested   nested   `json:"nested"`
}

func TestFormatRedactsSecrets(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("nested.password", "hunter2")
	viper.Set("name", "shop")

	lines := conftools.Format([]string{"nested.password"})

	assert.Equal(t, []string{
		"name: shop",
		"nested.password: ***REDACTED***",
	}, lines)
}

func TestDecode(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("name", "shop")
	viper.Set("prefixes", "app-,data-")
	viper.Set("nested.timeout", "90s")

	cfg := &settings{}
	err := conftools.Decode(cfg)
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Name)
	assert.Equal(t, []string{"app-", "data-"}, cfg.Prefixes)
	assert.Equal(t, 90*time.Second, cfg.Nested.Timeout)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("nmae", "shop")

	err := conftools.Decode(&settings{})
	assert.Error(t, err)
}
