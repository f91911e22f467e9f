//go:build unix

package daemon

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.pid")

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePIDFile(path))
	require.NoError(t, RemovePIDFile(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestIsBackground(t *testing.T) {
	bg, rest := IsBackground([]string{"addresses.txt", "--background"})
	assert.True(t, bg)
	assert.Equal(t, []string{"addresses.txt"}, rest)

	bg, rest = IsBackground([]string{"-d", "addresses.txt"})
	assert.False(t, bg)
	assert.Equal(t, []string{"-d", "addresses.txt"}, rest)
}

func TestWriteBanner(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBanner(&buf, "addrs.txt", time.Date(2025, 1, 4, 14, 32, 1, 0, time.UTC)))
	assert.Contains(t, buf.String(), "=== Daemon started at 2025-01-04 14:32:01 ===")
	assert.Contains(t, buf.String(), "Addresses file: addrs.txt")
}

func TestStart_ChildSurvivesProbe(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	opts := Options{
		Executable: sh,
		Args:       []string{"-c", "sleep 5"},
		PIDFile:    filepath.Join(dir, "monitor.pid"),
		LogFile:    filepath.Join(dir, "monitor.log"),
		ErrorFile:  filepath.Join(dir, "monitor_error.log"),
		ProbeDelay: 100 * time.Millisecond,
	}

	// the appended flag becomes $0 of the shell script
	pid, err := Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
	})

	stored, err := ReadPIDFile(opts.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, pid, stored)
}

func TestStart_ChildExitsEarly(t *testing.T) {
	falseBin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	dir := t.TempDir()
	opts := Options{
		Executable: falseBin,
		PIDFile:    filepath.Join(dir, "monitor.pid"),
		LogFile:    filepath.Join(dir, "monitor.log"),
		ErrorFile:  filepath.Join(dir, "monitor_error.log"),
		ProbeDelay: time.Second,
	}

	_, err = Start(opts)
	assert.ErrorIs(t, err, ErrExited)
	_, statErr := os.Stat(opts.PIDFile)
	assert.True(t, os.IsNotExist(statErr))
}
