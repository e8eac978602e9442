package autostart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Assurance tree comparison daemon

[Service]
ExecStart={{.ExecPath}} watch
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))

type systemdService struct {
	dir string
	run runner
}

func (s *systemdService) unitPath() (string, error) {
	dir := s.dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "systemd", "user")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create unit dir: %w", err)
	}

	return filepath.Join(dir, serviceName+".service"), nil
}

func renderUnit(execPath string) (string, error) {
	var b strings.Builder
	if err := unitTemplate.Execute(&b, map[string]string{"ExecPath": execPath}); err != nil {
		return "", fmt.Errorf("failed to render unit: %w", err)
	}
	return b.String(), nil
}

func (s *systemdService) Install(execPath string) error {
	path, err := s.unitPath()
	if err != nil {
		return err
	}

	unit, err := renderUnit(execPath)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", "--now", serviceName + ".service"},
	} {
		if err := s.run("systemctl", args...); err != nil {
			return err
		}
	}

	return nil
}

func (s *systemdService) Uninstall() error {
	_ = s.run("systemctl", "--user", "disable", "--now", serviceName+".service")

	path, err := s.unitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	return s.run("systemctl", "--user", "daemon-reload")
}

func (s *systemdService) IsInstalled() (bool, error) {
	path, err := s.unitPath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	return err == nil, nil
}
