package autostart

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	fail  bool
}

func (r *recorder) run(name string, args ...string) error {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	if r.fail {
		return errors.New("exit status 1")
	}
	return nil
}

func TestSystemdInstallUninstall(t *testing.T) {
	rec := &recorder{}
	s := &systemdService{dir: t.TempDir(), run: rec.run}

	installed, err := s.IsInstalled()
	require.NoError(t, err)
	assert.False(t, installed)

	require.NoError(t, s.Install("/usr/local/bin/assurance"))

	unit, err := os.ReadFile(filepath.Join(s.dir, "assurance.service"))
	require.NoError(t, err)
	assert.Contains(t, string(unit), "ExecStart=/usr/local/bin/assurance watch")
	assert.Contains(t, string(unit), "[Service]")
	assert.Equal(t, []string{
		"systemctl --user daemon-reload",
		"systemctl --user enable --now assurance.service",
	}, rec.calls)

	installed, err = s.IsInstalled()
	require.NoError(t, err)
	assert.True(t, installed)

	require.NoError(t, s.Uninstall())
	installed, err = s.IsInstalled()
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestSystemdInstallReportsFailure(t *testing.T) {
	s := &systemdService{dir: t.TempDir(), run: (&recorder{fail: true}).run}
	assert.Error(t, s.Install("/bin/assurance"))
}

func TestTaskService(t *testing.T) {
	rec := &recorder{}
	s := &taskService{run: rec.run}

	require.NoError(t, s.Install(`C:\assurance.exe`))
	require.Len(t, rec.calls, 1)
	assert.Contains(t, rec.calls[0], `"C:\assurance.exe" watch`)

	installed, err := s.IsInstalled()
	require.NoError(t, err)
	assert.True(t, installed)

	rec.fail = true
	installed, err = s.IsInstalled()
	require.NoError(t, err)
	assert.False(t, installed)
}
