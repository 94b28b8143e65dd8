package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateUserConfig points the user config lookup at an empty temp dir.
func isolateUserConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	original := osUserHomeDir
	osUserHomeDir = func() (string, error) { return home, nil }
	t.Cleanup(func() { osUserHomeDir = original })
	return home
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalProject = `
project:
  name: shop
services:
  api:
    command: ./api
    port: 8080
`

func TestDiscover_WalksUpToAncestor(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, filepath.Join(root, "devenv.yaml"), minimalProject)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDiscover_StopsAtFirstMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "devenv.yaml"), minimalProject)
	inner := writeFile(t, filepath.Join(root, "a", "devenv.yml"), minimalProject)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	got, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestDiscover_NotFound(t *testing.T) {
	_, err := Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadConfig_FromWorkingDirectory(t *testing.T) {
	isolateUserConfig(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "devenv.yaml"), minimalProject)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	original := osGetwd
	osGetwd = func() (string, error) { return nested, nil }
	defer func() { osGetwd = original }()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, root, cfg.ProjectDir())
	assert.Equal(t, uint16(8080), cfg.Services["api"].Port)
}

func TestLoadConfigFromPath_AppliesDefaults(t *testing.T) {
	isolateUserConfig(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "custom.yaml"), minimalProject)

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultStopGrace, cfg.Settings.StopGrace.Std())
	assert.Equal(t, DefaultReadyTimeout, cfg.Settings.ReadyTimeout.Std())
	assert.Equal(t, "text", cfg.Settings.LogFormat)
	assert.NotNil(t, cfg.Infra)
}

func TestLoadConfigFromPath_UserSettingsLayer(t *testing.T) {
	home := isolateUserConfig(t)
	writeFile(t, filepath.Join(home, userConfigDir, userConfigFile), `
settings:
  stop_grace: 12s
  log_format: json
`)
	path := writeFile(t, filepath.Join(t.TempDir(), "devenv.yaml"), minimalProject+`
settings:
  stop_grace: 2s
`)

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	// Project wins over user, user wins over defaults.
	assert.Equal(t, 2*time.Second, cfg.Settings.StopGrace.Std())
	assert.Equal(t, "json", cfg.Settings.LogFormat)
}

func TestLoadConfigFromPath_FullDocument(t *testing.T) {
	isolateUserConfig(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "devenv.yaml"), `
project:
  name: shop
services:
  api:
    command: go run ./cmd/api
    dir: ./api
    env:
      LOG_LEVEL: debug
    depends_on: [postgres]
    ready_timeout: 45
infra:
  postgres:
    image: postgres:16
    ports: ["5432:5432"]
    ready: pg_isready -U postgres
    init:
      - psql -U postgres -c 'create database shop'
  kafka:
    compose: ./docker/kafka.yml
    services: [kafka]
    init_service: kafka
`)

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka", "postgres"}, cfg.InfraNames())
	assert.Equal(t, InfraKindContainer, cfg.Infra["postgres"].Kind())
	assert.Equal(t, InfraKindCompose, cfg.Infra["kafka"].Kind())
	assert.Equal(t, 45*time.Second, cfg.ServiceReadyTimeout("api"))
	assert.Equal(t, DefaultReadyTimeout, cfg.InfraReadyTimeout("postgres"))
	assert.Equal(t, filepath.Join(cfg.ProjectDir(), "docker", "kafka.yml"), cfg.ResolvePath(cfg.Infra["kafka"].Compose))
}

func TestLoadConfigFromPath_MalformedYAML(t *testing.T) {
	isolateUserConfig(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "devenv.yaml"), "services: [unclosed")

	_, err := LoadConfigFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProjectConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg: ProjectConfig{
				Services: map[string]ServiceConfig{"api": {Command: "./api", DependsOn: []string{"db"}}},
				Infra:    map[string]InfraConfig{"db": {Image: "postgres:16"}},
			},
		},
		{
			name:    "missing command",
			cfg:     ProjectConfig{Services: map[string]ServiceConfig{"api": {}}},
			wantErr: `service "api": command is required`,
		},
		{
			name: "unknown dependency",
			cfg: ProjectConfig{
				Services: map[string]ServiceConfig{"api": {Command: "x", DependsOn: []string{"redis"}}},
			},
			wantErr: `unknown infra "redis"`,
		},
		{
			name:    "neither image nor compose",
			cfg:     ProjectConfig{Infra: map[string]InfraConfig{"db": {}}},
			wantErr: "one of image or compose is required",
		},
		{
			name:    "both image and compose",
			cfg:     ProjectConfig{Infra: map[string]InfraConfig{"db": {Image: "x", Compose: "y.yml"}}},
			wantErr: "mutually exclusive",
		},
		{
			name:    "init_service without compose",
			cfg:     ProjectConfig{Infra: map[string]InfraConfig{"db": {Image: "x", InitService: "db"}}},
			wantErr: "only valid with compose",
		},
		{
			name:    "bad port mapping",
			cfg:     ProjectConfig{Infra: map[string]InfraConfig{"db": {Image: "x", Ports: []string{"5432"}}}},
			wantErr: "must be host:container",
		},
		{
			name: "name clash",
			cfg: ProjectConfig{
				Services: map[string]ServiceConfig{"db": {Command: "x"}},
				Infra:    map[string]InfraConfig{"db": {Image: "x"}},
			},
			wantErr: "also used by a service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
