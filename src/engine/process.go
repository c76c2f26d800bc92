package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"
)

// spawnWorker launches one engine worker process for a project. The worker
// opens its control channel on the given local port. Workers run in their
// own process group so a manager crash never takes them down mid-trade and
// a group kill never reaches the manager.
func spawnWorker(cfg *Config, projectID, name string, port int, projectConf map[string]any) (*exec.Cmd, error) {
	if err := os.MkdirAll(cfg.WorkerLogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create worker log dir: %w", err)
	}
	logPath := filepath.Join(cfg.WorkerLogDir, fmt.Sprintf("worker-%s.log", projectID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	confJSON, err := json.Marshal(projectConf)
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("encode project config: %w", err)
	}

	cmd := exec.Command(cfg.WorkerBin,
		"--project", projectID,
		"--name", name,
		"--control-port", fmt.Sprintf("%d", port),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), "ENGINE_PROJECT_CONFIG="+string(confJSON))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	pid := cmd.Process.Pid
	go func() {
		waitErr := cmd.Wait()
		_ = logFile.Close()

		exitCode := 0
		if waitErr != nil {
			var ee *exec.ExitError
			if errors.As(waitErr, &ee) {
				exitCode = ee.ExitCode()
			} else {
				exitCode = 1
			}
		}
		logger.WithFields(map[string]interface{}{
			"project_id": projectID,
			"pid":        pid,
			"exit_code":  exitCode,
		}).Warn("engine worker exited")
	}()

	logger.WithFields(map[string]interface{}{
		"project_id":   projectID,
		"pid":          pid,
		"control_port": port,
	}).Info("engine worker started")

	return cmd, nil
}

// processAlive checks OS-level liveness with signal 0. It says nothing
// about channel health; a live process can still have a wedged channel.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// stopProcessGroup requests a graceful stop with SIGTERM, waits out the
// grace period and escalates to SIGKILL on the whole group.
func stopProcessGroup(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(150 * time.Millisecond)
	}

	logger.WithField("pid", pid).Warn("worker did not stop in time, killing process group")
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

// freePort reserves an ephemeral localhost port for a worker's control
// channel. The listener is closed right before the worker binds it.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
