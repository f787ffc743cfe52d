package nvmet

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// memNode is a single directory, attribute file, or link in a MemBackend.
type memNode struct {
	dir      bool
	link     bool
	target   string // link target path
	value    string // attribute file content
	writable bool
	children map[string]*memNode
}

// MemBackend is an in-memory Backend that mimics the kernel nvmet configfs
// behavior: entity directories are populated with their attribute files on
// mkdir, namespaces receive generated NGUIDs/UUIDs, attributes become
// read-only while the owning entity is enabled, and reference links are
// validated against their targets. It backs the test suite and --dry-run.
type MemBackend struct {
	mu   sync.Mutex
	root *memNode
}

// NewMemBackend returns a MemBackend with the three top-level collections
// the kernel module creates on load.
func NewMemBackend() *MemBackend {
	root := newDir()
	root.children["subsystems"] = newDir()
	root.children["ports"] = newDir()
	root.children["hosts"] = newDir()
	return &MemBackend{root: root}
}

func newDir() *memNode {
	return &memNode{dir: true, children: make(map[string]*memNode)}
}

func newAttr(value string, writable bool) *memNode {
	return &memNode{value: value, writable: writable}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (m *MemBackend) lookup(path string) *memNode {
	n := m.root
	for _, part := range splitPath(path) {
		if n == nil || !n.dir {
			return nil
		}
		n = n.children[part]
	}
	return n
}

// entitySlot classifies a path as an entity directory location.
// Returns "" if the path is not a slot where mkdir/rmdir is permitted.
func entitySlot(parts []string) string {
	switch {
	case len(parts) == 2 && parts[0] == "subsystems":
		return "subsystem"
	case len(parts) == 4 && parts[0] == "subsystems" && parts[2] == "namespaces":
		return "namespace"
	case len(parts) == 2 && parts[0] == "ports":
		return "port"
	case len(parts) == 4 && parts[0] == "ports" && parts[2] == "referrals":
		return "referral"
	case len(parts) == 2 && parts[0] == "hosts":
		return "host"
	}
	return ""
}

// linkSlot classifies a path as a reference link location.
func linkSlot(parts []string) bool {
	if len(parts) != 4 {
		return false
	}
	if parts[0] == "subsystems" && parts[2] == "allowed_hosts" {
		return true
	}
	return parts[0] == "ports" && parts[2] == "subsystems"
}

func (m *MemBackend) IsDir(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	return n != nil && n.dir
}

func (m *MemBackend) Mkdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitPath(path)
	kind := entitySlot(parts)
	if kind == "" {
		return fmt.Errorf("mkdir %s: operation not permitted", path)
	}
	parent := m.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil || !parent.dir {
		return fmt.Errorf("mkdir %s: no such directory", path)
	}
	name := parts[len(parts)-1]
	if _, ok := parent.children[name]; ok {
		return fmt.Errorf("mkdir %s: file exists", path)
	}

	n := newDir()
	switch kind {
	case "subsystem":
		n.children["namespaces"] = newDir()
		n.children["allowed_hosts"] = newDir()
		n.children["attr_allow_any_host"] = newAttr("0", true)
		n.children["attr_serial"] = newAttr(genSerial(), true)
		n.children["attr_version"] = newAttr("1.3", false)
	case "namespace":
		n.children["device_path"] = newAttr("", true)
		n.children["device_nguid"] = newAttr(uuid.New().String(), true)
		n.children["device_uuid"] = newAttr(uuid.New().String(), true)
		n.children["enable"] = newAttr("0", true)
	case "port":
		n.children["subsystems"] = newDir()
		n.children["referrals"] = newDir()
		n.children["addr_trtype"] = newAttr("", true)
		n.children["addr_adrfam"] = newAttr("", true)
		n.children["addr_traddr"] = newAttr("", true)
		n.children["addr_trsvcid"] = newAttr("", true)
		n.children["addr_treq"] = newAttr("not specified", true)
		n.children["enable"] = newAttr("0", true)
	case "referral":
		n.children["addr_trtype"] = newAttr("", true)
		n.children["addr_adrfam"] = newAttr("", true)
		n.children["addr_traddr"] = newAttr("", true)
		n.children["addr_trsvcid"] = newAttr("", true)
		n.children["enable"] = newAttr("0", true)
	}
	parent.children[name] = n
	return nil
}

func (m *MemBackend) Rmdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitPath(path)
	if entitySlot(parts) == "" {
		return fmt.Errorf("rmdir %s: operation not permitted", path)
	}
	parent := m.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil {
		return fmt.Errorf("rmdir %s: no such directory", path)
	}
	name := parts[len(parts)-1]
	n, ok := parent.children[name]
	if !ok || !n.dir {
		return fmt.Errorf("rmdir %s: no such directory", path)
	}
	// Attribute files go away with the entity; child entities and links
	// must be removed first, as in the kernel.
	for _, c := range n.children {
		if c.link {
			return fmt.Errorf("rmdir %s: directory not empty", path)
		}
		if !c.dir {
			continue
		}
		for _, gc := range c.children {
			if gc.dir || gc.link {
				return fmt.Errorf("rmdir %s: directory not empty", path)
			}
		}
	}
	delete(parent.children, name)
	return nil
}

func (m *MemBackend) ListDir(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	if n == nil || !n.dir {
		return nil, fmt.Errorf("list %s: no such directory", path)
	}
	var names []string
	for name, c := range n.children {
		if c.dir || c.link {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemBackend) IsFile(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	return n != nil && !n.dir && !n.link
}

func (m *MemBackend) ReadFile(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	if n == nil || n.dir || n.link {
		return "", fmt.Errorf("read %s: no such attribute", path)
	}
	return n.value, nil
}

func (m *MemBackend) WriteFile(path, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("write %s: no such attribute", path)
	}
	parent := m.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil || !parent.dir {
		return fmt.Errorf("write %s: no such attribute", path)
	}
	name := parts[len(parts)-1]
	n, ok := parent.children[name]
	if !ok || n.dir || n.link {
		return fmt.Errorf("write %s: no such attribute", path)
	}
	if !n.writable {
		return fmt.Errorf("write %s: permission denied", path)
	}

	if name == "enable" && value == "1" {
		// The kernel refuses to enable a namespace without a backing
		// device, or a port/referral without a transport type.
		if dev, ok := parent.children["device_path"]; ok && dev.value == "" {
			return fmt.Errorf("write %s: invalid argument", path)
		}
		if tr, ok := parent.children["addr_trtype"]; ok && tr.value == "" {
			return fmt.Errorf("write %s: invalid argument", path)
		}
	}
	if strings.HasPrefix(name, "device_") || strings.HasPrefix(name, "addr_") {
		// Attributes freeze while the entity is enabled.
		if en, ok := parent.children["enable"]; ok && en.value == "1" {
			return fmt.Errorf("write %s: device or resource busy", path)
		}
	}

	n.value = value
	return nil
}

func (m *MemBackend) Writable(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	return n != nil && !n.dir && !n.link && n.writable
}

func (m *MemBackend) ListFiles(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	if n == nil || !n.dir {
		return nil, fmt.Errorf("list %s: no such directory", path)
	}
	var names []string
	for name, c := range n.children {
		if !c.dir && !c.link {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemBackend) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.lookup(target)
	if t == nil || !t.dir {
		return fmt.Errorf("link %s: target %s does not exist", link, target)
	}
	parts := splitPath(link)
	if !linkSlot(parts) {
		return fmt.Errorf("link %s: operation not permitted", link)
	}
	parent := m.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil || !parent.dir {
		return fmt.Errorf("link %s: no such directory", link)
	}
	name := parts[len(parts)-1]
	if _, ok := parent.children[name]; ok {
		return fmt.Errorf("link %s: file exists", link)
	}
	parent.children[name] = &memNode{link: true, target: target}
	return nil
}

func (m *MemBackend) Unlink(link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := splitPath(link)
	if len(parts) == 0 {
		return fmt.Errorf("unlink %s: no such link", link)
	}
	parent := m.lookup(strings.Join(parts[:len(parts)-1], "/"))
	if parent == nil || !parent.dir {
		return fmt.Errorf("unlink %s: no such link", link)
	}
	name := parts[len(parts)-1]
	n, ok := parent.children[name]
	if !ok || !n.link {
		return fmt.Errorf("unlink %s: no such link", link)
	}
	delete(parent.children, name)
	return nil
}

func (m *MemBackend) IsLink(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(path)
	return n != nil && n.link
}

// genSerial produces a kernel-style random serial number.
func genSerial() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}
