//go:build linux

package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os/user"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"assurance/internal/model"

	"golang.org/x/sys/unix"
)

var aclXattrs = map[string]string{
	"system.posix_acl_access":  "access",
	"system.posix_acl_default": "default",
}

func readPlatformAttrs(abs string, info fs.FileInfo, rec *model.FileAttributeRecord, advanced bool) error {
	uid, gid, err := readTimes(abs, info, rec)
	if err != nil {
		return err
	}

	if !advanced {
		return nil
	}

	rec.Owner = names.user(uid)
	rec.Group = names.group(gid)

	acl, hash, err := readXattrs(abs)
	if err != nil {
		return fmt.Errorf("failed to read extended attributes: %w", err)
	}
	rec.ACL = acl
	rec.XattrHash = hash

	return nil
}

func readTimes(abs string, info fs.FileInfo, rec *model.FileAttributeRecord) (uint32, uint32, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, abs, unix.AT_SYMLINK_NOFOLLOW,
		unix.STATX_BASIC_STATS|unix.STATX_BTIME, &stx)
	if err == nil {
		rec.Accessed = statxTime(stx.Atime)
		rec.Modified = statxTime(stx.Mtime)
		if stx.Mask&unix.STATX_BTIME != 0 {
			rec.Created = statxTime(stx.Btime)
		}
		return stx.Uid, stx.Gid, nil
	}

	// kernels before 4.11 have no statx
	if !errors.Is(err, unix.ENOSYS) {
		return 0, 0, fmt.Errorf("failed to statx: %w", err)
	}

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, nil
	}
	rec.Accessed = time.Unix(st.Atim.Unix())

	return st.Uid, st.Gid, nil
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// readXattrs returns the ACL descriptor and a fingerprint of the remaining
// extended attributes. Both are empty when the entry has none.
func readXattrs(abs string) (string, string, error) {
	attrNames, err := listXattrs(abs)
	if err != nil {
		return "", "", err
	}
	slices.Sort(attrNames)

	var acl []string
	h := sha256.New()
	hashed := 0

	for _, name := range attrNames {
		value, err := getXattr(abs, name)
		if err != nil {
			return "", "", fmt.Errorf("failed to read %s: %w", name, err)
		}

		if kind, ok := aclXattrs[name]; ok {
			sum := sha256.Sum256(value)
			acl = append(acl, kind+":"+hex.EncodeToString(sum[:8]))
			continue
		}

		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(value)
		h.Write([]byte{0})
		hashed++
	}

	hash := ""
	if hashed > 0 {
		hash = hex.EncodeToString(h.Sum(nil))
	}

	return strings.Join(acl, ","), hash, nil
}

func listXattrs(abs string) ([]string, error) {
	size, err := unix.Llistxattr(abs, nil)
	if err != nil {
		if unsupported(err) {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	n, err := unix.Llistxattr(abs, buf)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range strings.Split(string(buf[:n]), "\x00") {
		if name != "" {
			out = append(out, name)
		}
	}

	return out, nil
}

func getXattr(abs, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(abs, name, nil)
	if err != nil {
		if unsupported(err) {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	n, err := unix.Lgetxattr(abs, name, buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

func unsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.ENODATA)
}

type nameCache struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

var names = &nameCache{
	users:  make(map[uint32]string),
	groups: make(map[uint32]string),
}

func (c *nameCache) user(uid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.users[uid]; ok {
		return name
	}

	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if u, err := user.LookupId(id); err == nil {
		name = u.Username
	}
	c.users[uid] = name

	return name
}

func (c *nameCache) group(gid uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.groups[gid]; ok {
		return name
	}

	id := strconv.FormatUint(uint64(gid), 10)
	name := id
	if g, err := user.LookupGroupId(id); err == nil {
		name = g.Name
	}
	c.groups[gid] = name

	return name
}
