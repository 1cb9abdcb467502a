package common

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.Server.SettingsInterval)
	assert.Equal(t, "invoicepipe:intake", cfg.Intake.RedisList)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_URL", "postgres://localhost/invoices")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("OCR_DEEP_ARGS", "--lang en --fast")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, []string{"--lang", "en", "--fast"}, cfg.OCR.DeepArgs)
}

func TestValidateCollectsFailures(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	var ue *UserError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "invalid configuration", ue.Op)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "DB_DRIVER")
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestValidatorRules(t *testing.T) {
	v := NewValidator()
	v.Field("tier", 5, IntRange(1, 4))
	v.Field("idle", 10, IntRange(1, 30))
	v.Field("currency", "nzd", CurrencyCode)
	v.Field("name", "  ", Required)

	require.True(t, v.HasErrors())
	fields := []string{}
	for _, e := range v.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"tier", "currency", "name"}, fields)
}
