//go:build !windows

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// WritePIDFile records the current process for the watchdog
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile deletes the PID file if it still names this process
func RemovePIDFile(path string) {
	if pid, err := readPID(path); err == nil && pid == os.Getpid() {
		_ = os.Remove(path)
	}
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// PIDFileControl manages the supervisor through its PID file
type PIDFileControl struct {
	PIDFile string
	Bin     string
	LogFile string
	Logger  *slog.Logger
}

func (p PIDFileControl) Running() (bool, error) {
	pid, err := readPID(p.PIDFile)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		// Unreadable PID file means nothing we can signal.
		return false, nil
	}
	return processAlive(pid), nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Restart stops a stalled supervisor and starts a fresh, detached one
func (p PIDFileControl) Restart(ctx context.Context) error {
	if pid, err := readPID(p.PIDFile); err == nil && processAlive(pid) {
		p.Logger.Warn("Stopping stalled supervisor", "pid", pid)
		_ = syscall.Kill(pid, syscall.SIGTERM)
		deadline := time.Now().Add(10 * time.Second)
		for processAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(200 * time.Millisecond)
		}
		if processAlive(pid) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}

	cmd := exec.Command(p.Bin)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if p.LogFile != "" {
		logFile, err := os.OpenFile(p.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open supervisor log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Bin, err)
	}
	p.Logger.Info("Supervisor started", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}
