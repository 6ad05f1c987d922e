package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesCallTuning(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20*time.Second, cfg.Call.Expiry)
	assert.Equal(t, 3, cfg.Peer.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Peer.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.Media.LockWait)
	assert.Equal(t, 2*time.Second, cfg.Media.DisconnectWait)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Media.ICEServers)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("user_id: alice\ncall:\n  expiry: 30s\npeer:\n  max_attempts: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("VOICECALL_MEDIA_LOCK_WAIT", "7s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, 30*time.Second, cfg.Call.Expiry)
	assert.Equal(t, 5, cfg.Peer.MaxAttempts)
	assert.Equal(t, 7*time.Second, cfg.Media.LockWait)
}

func TestValidateRejectsMissingUser(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.UserID = "bob"
	assert.NoError(t, cfg.Validate())

	cfg.Media.LockWait = time.Millisecond
	cfg.Media.LockPoll = time.Second
	assert.Error(t, cfg.Validate())
}
