package nvmet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultConfigfsDir is where the kernel mounts the nvmet configfs tree.
const DefaultConfigfsDir = "/sys/kernel/config/nvmet"

// Configfs is the real Backend bound to the kernel configfs mount.
type Configfs struct {
	dir string
}

// NewConfigfs opens the configfs hierarchy rooted at dir (DefaultConfigfsDir
// when empty). The nvmet module must already be loaded.
func NewConfigfs(dir string) (*Configfs, error) {
	if dir == "" {
		dir = DefaultConfigfsDir
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("configfs dir %s does not exist (is the nvmet module loaded?)", dir)
	}
	return &Configfs{dir: dir}, nil
}

func (c *Configfs) abs(path string) string {
	return filepath.Join(c.dir, path)
}

func (c *Configfs) IsDir(path string) bool {
	fi, err := os.Lstat(c.abs(path))
	return err == nil && fi.IsDir()
}

func (c *Configfs) Mkdir(path string) error {
	return os.Mkdir(c.abs(path), 0o755)
}

func (c *Configfs) Rmdir(path string) error {
	return os.Remove(c.abs(path))
}

func (c *Configfs) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(c.abs(path))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Type()&os.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Configfs) IsFile(path string) bool {
	fi, err := os.Lstat(c.abs(path))
	return err == nil && fi.Mode().IsRegular()
}

func (c *Configfs) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(c.abs(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Configfs) WriteFile(path, value string) error {
	return os.WriteFile(c.abs(path), []byte(value), 0o644)
}

func (c *Configfs) Writable(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(c.abs(path), &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IWUSR != 0
}

func (c *Configfs) ListFiles(path string) ([]string, error) {
	entries, err := os.ReadDir(c.abs(path))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Configfs) Symlink(target, link string) error {
	return os.Symlink(c.abs(target), c.abs(link))
}

func (c *Configfs) Unlink(link string) error {
	return os.Remove(c.abs(link))
}

func (c *Configfs) IsLink(path string) bool {
	fi, err := os.Lstat(c.abs(path))
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}
