package autostart

import (
	"fmt"
	"os/exec"
	"runtime"
)

const serviceName = "assurance"

// Service registers the watch daemon to start at login.
type Service interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() (bool, error)
}

func New() Service {
	switch runtime.GOOS {
	case "linux":
		return &systemdService{run: run}
	case "windows":
		return &taskService{run: run}
	default:
		return unsupported{}
	}
}

type unsupported struct{}

func (unsupported) Install(string) error {
	return fmt.Errorf("autostart is not supported on %s", runtime.GOOS)
}

func (unsupported) Uninstall() error {
	return fmt.Errorf("autostart is not supported on %s", runtime.GOOS)
}

func (unsupported) IsInstalled() (bool, error) {
	return false, nil
}

type runner func(name string, args ...string) error

func run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to run %s %v: %w\n%s", name, args, err, out)
	}
	return nil
}
