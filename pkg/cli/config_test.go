package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserConfig_ActiveProfile(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Host: "http://localhost:8000", Output: "table"},
			"staging": {Host: "https://staging.example.com", Output: "json"},
		},
	}

	tests := []struct {
		name     string
		override string
		wantHost string
		wantErr  string
	}{
		{name: "uses current profile", wantHost: "http://localhost:8000"},
		{name: "override to staging", override: "staging", wantHost: "https://staging.example.com"},
		{name: "nonexistent override", override: "nonexistent", wantErr: `profile "nonexistent" not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := cfg.ActiveProfile(tt.override)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, p.Host)
		})
	}
}

func TestUserConfig_MissingCurrentProfileIsEmpty(t *testing.T) {
	cfg := &UserConfig{CurrentProfile: "gone", Profiles: map[string]Profile{}}
	p, err := cfg.ActiveProfile("")
	require.NoError(t, err)
	assert.Equal(t, Profile{}, p)
	assert.Equal(t, "gone", cfg.ActiveProfileName(""))
	assert.Equal(t, "x", cfg.ActiveProfileName("x"))
	assert.Equal(t, "default", (&UserConfig{}).ActiveProfileName(""))
}

func TestLoadSaveUserConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg := &UserConfig{
		CurrentProfile: "test",
		Profiles: map[string]Profile{
			"test": {Host: "http://test:8000", Token: "tok_test", Email: "admin@example.com"},
		},
	}
	require.NoError(t, SaveUserConfig(cfg))

	configPath := filepath.Join(dir, ".syncloop", "config.yaml")
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "test", loaded.CurrentProfile)
	require.Contains(t, loaded.Profiles, "test")
	assert.Equal(t, "http://test:8000", loaded.Profiles["test"].Host)
	assert.Equal(t, "tok_test", loaded.Profiles["test"].Token)
	assert.Equal(t, "admin@example.com", loaded.Profiles["test"].Email)
}

func TestLoadUserConfig_NotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadUserConfig()
	require.Error(t, err)
}

func TestUpdateProfile_CreatesConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, updateProfile("", func(p *Profile) { p.Token = "abc" }))
	require.NoError(t, updateProfile("staging", func(p *Profile) { p.Host = "https://staging.example.com" }))

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Equal(t, "abc", cfg.Profiles["default"].Token)
	assert.Equal(t, "https://staging.example.com", cfg.Profiles["staging"].Host)
}
