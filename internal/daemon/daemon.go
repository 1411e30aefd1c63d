// Package daemon detaches the server into the background and manages its
// /tmp artifacts: the PID file, redirected stdout/stderr logs, the config
// copy, and any generated certificate pair.
package daemon

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Artifact paths. The stop procedure removes all of them.
const (
	PIDFile    = "/tmp/server_daemon.pid"
	StdoutLog  = "/tmp/server_stdout.log"
	StderrLog  = "/tmp/server_stderr.log"
	ConfigCopy = "/tmp/config.txt"
	CertFile   = "/tmp/cert.pem"
	KeyFile    = "/tmp/key.pem"
	WorkDir    = "/tmp"
)

// Spawn re-executes the current binary detached in its own session, with
// stdout/stderr appended to the /tmp logs and the config copied to
// /tmp/config.txt. passthrough carries the remaining CLI flags verbatim.
// Returns the child PID.
func Spawn(configPath string, passthrough []string) (int, error) {
	if pid, running := runningPID(); running {
		return 0, fmt.Errorf("daemon already running (pid %d)", pid)
	}

	if err := copyConfig(configPath, ConfigCopy); err != nil {
		return 0, err
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	stdout, err := os.OpenFile(StdoutLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(StderrLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open stderr log: %w", err)
	}
	defer stderr.Close()

	args := append([]string{"--mode", "normal", "--config_path", ConfigCopy}, passthrough...)
	cmd := exec.Command(exe, args...)
	cmd.Dir = WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := os.WriteFile(PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		return 0, fmt.Errorf("write pid file: %w", err)
	}
	// Detach: the child lives in its own session; don't reap it here.
	_ = cmd.Process.Release()
	return pid, nil
}

// copyConfig copies the config file, rewriting a relative linuxpath to an
// absolute one so the detached process, running from /tmp, still finds
// the corpus.
func copyConfig(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer in.Close()

	var out strings.Builder
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if key, val, ok := strings.Cut(trimmed, "="); ok &&
			strings.EqualFold(strings.TrimSpace(key), "linuxpath") {
			val = strings.TrimSpace(val)
			if !filepath.IsAbs(val) {
				abs, err := filepath.Abs(val)
				if err != nil {
					return fmt.Errorf("resolve corpus path: %w", err)
				}
				line = "linuxpath=" + abs
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := os.WriteFile(dst, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("write config copy: %w", err)
	}
	return nil
}

// runningPID reports the PID from the PID file if that process is alive.
func runningPID() (int, bool) {
	data, err := os.ReadFile(PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, unix.Kill(pid, 0) == nil
}

// Stop signals the running daemon with SIGTERM, waits for it to exit, and
// removes every artifact including generated cert/key material.
func Stop() error {
	pid, running := runningPID()
	if !running {
		removeArtifacts()
		return fmt.Errorf("daemon not running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if unix.Kill(pid, 0) != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	removeArtifacts()
	return nil
}

func removeArtifacts() {
	for _, path := range []string{PIDFile, StdoutLog, StderrLog, ConfigCopy, CertFile, KeyFile} {
		_ = os.Remove(path)
	}
}
