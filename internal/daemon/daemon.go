// Package daemon runs the monitor detached from its terminal and manages its pid file.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// BackgroundFlag marks the re-executed child process.
const BackgroundFlag = "--background"

// DefaultProbeDelay is how long Start waits before checking the child is still alive.
const DefaultProbeDelay = 2 * time.Second

// ErrExited is returned by Start when the child dies during the probe delay.
var ErrExited = errors.New("daemon exited during startup")

// Options configures a detached start.
type Options struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are passed to the child before BackgroundFlag.
	Args []string

	PIDFile    string
	LogFile    string
	ErrorFile  string
	ProbeDelay time.Duration
}

// Start re-executes the binary in a new session with BackgroundFlag appended,
// output appended to the log files, and writes the child's pid. It returns
// once the child has survived the probe delay.
func Start(opts Options) (int, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
		opts.Executable = exe
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = DefaultProbeDelay
	}

	if err := RemovePIDFile(opts.PIDFile); err != nil {
		return 0, err
	}

	stdout, err := openAppend(opts.LogFile)
	if err != nil {
		return 0, err
	}
	defer stdout.Close()

	stderr, err := openAppend(opts.ErrorFile)
	if err != nil {
		return 0, err
	}
	defer stderr.Close()

	wd, err := os.Getwd()
	if err != nil {
		return 0, fmt.Errorf("resolve working directory: %w", err)
	}

	cmd := exec.Command(opts.Executable, append(append([]string(nil), opts.Args...), BackgroundFlag)...)
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = wd
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid

	if err := writePID(opts.PIDFile, pid); err != nil {
		_ = cmd.Process.Kill()
		return 0, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		_ = RemovePIDFile(opts.PIDFile)
		if err != nil {
			return pid, fmt.Errorf("%w: %v", ErrExited, err)
		}
		return pid, ErrExited
	case <-time.After(opts.ProbeDelay):
	}
	return pid, nil
}

// IsBackground reports whether args contain BackgroundFlag, and returns args without it.
func IsBackground(args []string) (bool, []string) {
	rest := make([]string, 0, len(args))
	found := false
	for _, a := range args {
		if a == BackgroundFlag {
			found = true
			continue
		}
		rest = append(rest, a)
	}
	return found, rest
}

// WritePIDFile records the current process's pid.
func WritePIDFile(path string) error {
	return writePID(path, os.Getpid())
}

// ReadPIDFile returns the pid stored in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile deletes path; a missing file is not an error.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// WriteBanner appends the start marker the background process writes to its log.
func WriteBanner(w io.Writer, addressesFile string, now time.Time) error {
	_, err := fmt.Fprintf(w, "\n=== Daemon started at %s ===\nPID: %d\nAddresses file: %s\n",
		now.Format("2006-01-02 15:04:05"), os.Getpid(), addressesFile)
	return err
}

func writePID(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
