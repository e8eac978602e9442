package autostart

import "fmt"

const taskName = "AssuranceDaemon"

// taskService registers a Windows scheduled task run at logon.
type taskService struct {
	run runner
}

func (t *taskService) Install(execPath string) error {
	return t.run("schtasks", "/Create",
		"/TN", taskName,
		"/TR", fmt.Sprintf(`"%s" watch`, execPath),
		"/SC", "ONLOGON",
		"/F")
}

func (t *taskService) Uninstall() error {
	return t.run("schtasks", "/Delete", "/TN", taskName, "/F")
}

func (t *taskService) IsInstalled() (bool, error) {
	return t.run("schtasks", "/Query", "/TN", taskName) == nil, nil
}
