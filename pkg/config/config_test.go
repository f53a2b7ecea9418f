package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runlog-project/runlog/pkg/errclass"
	"github.com/runlog-project/runlog/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultFilenamePattern, cfg.FilenamePattern)
	assert.Equal(t, DefaultDateFormat, cfg.DateFormat)
	assert.Equal(t, "logs", filepath.Base(cfg.OutputDir))
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Exists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
output_dir: /srv/runlog/logs
filename_pattern: ${ID}_${SCRIPT}
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/runlog/logs", cfg.OutputDir)
	assert.Equal(t, "${ID}_${SCRIPT}", cfg.FilenamePattern)
	assert.Equal(t, DefaultDateFormat, cfg.DateFormat, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: ~/transcripts\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "transcripts"), cfg.OutputDir)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: chatty\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestValidate_EmptyOutputDir(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "  "
	assert.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.OutputDir = "/tmp/runlog-test"
	cfg.Logging.Format = "text"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "/etc/runlog.yaml", ResolvePath("/etc/runlog.yaml"))

	t.Setenv(EnvConfigPath, "/env/runlog.yaml")
	assert.Equal(t, "/env/runlog.yaml", ResolvePath(""))

	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, filepath.Join(HomeDir(), "config.yaml"), ResolvePath(""))
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "warn"
	assert.NotNil(t, cfg.NewLogger())
}

func TestLoad_Webhooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `webhooks:
  retry_delay: 2s
  hooks:
    - url: https://hooks.example.com/runlog
      secret: abc
      events: [execution.finished]
      timeout: 10s
      enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Webhooks.Enabled)
	assert.Equal(t, 3, cfg.Webhooks.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Webhooks.RetryDelay)
	require.Len(t, cfg.Webhooks.Hooks, 1)
	hook := cfg.Webhooks.Hooks[0]
	assert.Equal(t, "https://hooks.example.com/runlog", hook.URL)
	assert.Equal(t, 10*time.Second, hook.Timeout)
	assert.Equal(t, []webhook.EventType{webhook.EventExecutionFinished}, hook.Events)
}

func TestValidate_WebhookURL(t *testing.T) {
	cfg := Default()
	cfg.Webhooks.Hooks = []webhook.HookConfig{{URL: "ftp://example.com", Enabled: true}}
	assert.ErrorIs(t, cfg.Validate(), errclass.ErrConfigInvalid)

	cfg.Webhooks.Hooks[0].URL = "http://localhost:9000/hook"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_FilenamePattern(t *testing.T) {
	for _, pattern := range []string{"runs/${SCRIPT}_${ID}", `runs\${ID}`, "../${ID}", "${ID}..log"} {
		cfg := Default()
		cfg.FilenamePattern = pattern
		err := cfg.Validate()
		require.ErrorIs(t, err, errclass.ErrConfigInvalid, "pattern %s", pattern)
	}

	cfg := Default()
	cfg.FilenamePattern = "${SCRIPT}.${ID}_${DATE}"
	require.NoError(t, cfg.Validate())
}
