package merge

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"assurance/internal/model"
	"assurance/internal/util"
)

// Trash keeps entries removed by merges so they can be restored. Items live
// under <dir>/<result id>/<side>/<relative path>.
type Trash struct {
	dir string
}

func NewTrash(dir string) *Trash {
	return &Trash{dir: dir}
}

func (t *Trash) Dir() string {
	return t.dir
}

// Move moves abs into the trash and returns its location there.
func (t *Trash) Move(resultID string, side model.Side, rel, abs string) (string, error) {
	dst := filepath.Join(t.dir, resultID, strings.ToLower(string(side)), filepath.FromSlash(rel))

	exists, err := util.Exists(dst)
	if err != nil {
		return "", fmt.Errorf("failed to check trash: %w", err)
	}
	if exists {
		dst = fmt.Sprintf("%s.%s", dst, time.Now().Format("20060102_150405.000000000"))
	}

	if err := util.Move(abs, dst); err != nil {
		return "", err
	}

	return dst, nil
}

// Restore moves a trashed item back to abs, which must not exist.
func (t *Trash) Restore(trashPath, abs string) error {
	if !strings.HasPrefix(filepath.Clean(trashPath), filepath.Clean(t.dir)+string(filepath.Separator)) {
		return fmt.Errorf("%s is not inside the trash: %w", trashPath, fs.ErrInvalid)
	}

	exists, err := util.Exists(abs)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", abs, err)
	}
	if exists {
		return fmt.Errorf("cannot restore over %s: %w", abs, fs.ErrExist)
	}

	return util.Move(trashPath, abs)
}
