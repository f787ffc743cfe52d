package nvmet

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Entity is the surface every configured object exposes: identity via Path,
// existence, and access-controlled attribute groups.
type Entity interface {
	// Path returns the entity's location relative to the hierarchy root.
	Path() string
	// Kind returns the entity kind name ("subsystem", "namespace", ...).
	Kind() string
	// Exists reports whether the backend object is still present.
	Exists() bool
	// AttrGroups returns the attribute group names this entity declares.
	AttrGroups() []string
	// ListAttrs returns the attribute names of a group, sorted.
	ListAttrs(group string) ([]string, error)
	// WritableAttrs returns the writable subset of a group, sorted.
	WritableAttrs(group string) ([]string, error)
	// GetAttr reads one attribute.
	GetAttr(group, name string) (string, error)
	// SetAttr writes one attribute. Non-writable attributes are rejected
	// before the backend is reached.
	SetAttr(group, name, value string) error
}

// Enableable is implemented by entities with a binary enabled state.
type Enableable interface {
	Entity
	GetEnable() (bool, error)
	SetEnable(enable bool) error
}

// entity is the common implementation behind every concrete type.
type entity struct {
	backend Backend
	path    string
	kind    string   // "subsystem", "namespace", ...
	groups  []string // declared attribute groups
}

func (e *entity) Path() string { return e.path }

func (e *entity) Exists() bool { return e.backend.IsDir(e.path) }

func (e *entity) checkSelf() error {
	if !e.Exists() {
		return fmt.Errorf("%s %s: %w", e.kind, e.path, ErrNotFound)
	}
	return nil
}

// bind creates or looks up the backend object according to mode.
func (e *entity) bind(mode Mode) error {
	exists := e.Exists()
	switch mode {
	case ModeCreate:
		if exists {
			return fmt.Errorf("%s %s: %w", e.kind, path.Base(e.path), ErrExists)
		}
	case ModeLookup:
		if !exists {
			return fmt.Errorf("%s %s: %w", e.kind, path.Base(e.path), ErrNotFound)
		}
	case ModeAny:
	default:
		return fmt.Errorf("invalid mode %d", int(mode))
	}
	if exists {
		return nil
	}
	if err := e.backend.Mkdir(e.path); err != nil {
		return fmt.Errorf("create %s %s: %w", e.kind, path.Base(e.path), err)
	}
	return nil
}

func (e *entity) AttrGroups() []string {
	groups := make([]string, len(e.groups))
	copy(groups, e.groups)
	return groups
}

func (e *entity) attrPath(group, name string) string {
	return path.Join(e.path, group+"_"+name)
}

func (e *entity) ListAttrs(group string) ([]string, error) {
	if err := e.checkSelf(); err != nil {
		return nil, err
	}
	files, err := e.backend.ListFiles(e.path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if strings.HasPrefix(f, group+"_") {
			names = append(names, strings.TrimPrefix(f, group+"_"))
		}
	}
	return names, nil
}

func (e *entity) WritableAttrs(group string) ([]string, error) {
	all, err := e.ListAttrs(group)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range all {
		if e.backend.Writable(e.attrPath(group, name)) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (e *entity) GetAttr(group, name string) (string, error) {
	if err := e.checkSelf(); err != nil {
		return "", err
	}
	p := e.attrPath(group, name)
	if !e.backend.IsFile(p) {
		return "", fmt.Errorf("attribute %s/%s: %w", group, name, ErrNotFound)
	}
	return e.backend.ReadFile(p)
}

func (e *entity) SetAttr(group, name, value string) error {
	if err := e.checkSelf(); err != nil {
		return err
	}
	p := e.attrPath(group, name)
	if !e.backend.IsFile(p) {
		return fmt.Errorf("attribute %s/%s: %w", group, name, ErrNotFound)
	}
	if !e.backend.Writable(p) {
		return fmt.Errorf("attribute %s/%s: %w", group, name, ErrNotWritable)
	}
	if DescribeAttr(e.kind, group, name).Type == "number" {
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("attribute %s/%s: %q: %w", group, name, value, ErrBadValue)
		}
	}
	if err := e.backend.WriteFile(p, value); err != nil {
		return fmt.Errorf("set attribute %s/%s: %w", group, name, err)
	}
	return nil
}

// dumpGroups collects the writable attributes of every declared group,
// the persisted shape of an entity's configuration.
func (e *entity) dumpGroups() (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(e.groups))
	for _, group := range e.groups {
		names, err := e.WritableAttrs(group)
		if err != nil {
			return nil, err
		}
		attrs := make(map[string]string, len(names))
		for _, name := range names {
			v, err := e.GetAttr(group, name)
			if err != nil {
				return nil, err
			}
			attrs[name] = v
		}
		out[group] = attrs
	}
	return out, nil
}

// setupGroups applies a persisted attribute map, reporting each failed
// attribute through errFn and continuing.
func (e *entity) setupGroups(attrs map[string]map[string]string, errFn func(error)) {
	for _, group := range e.groups {
		for name, value := range attrs[group] {
			if err := e.SetAttr(group, name, value); err != nil {
				errFn(err)
			}
		}
	}
}

func (e *entity) getEnable() (bool, error) {
	if err := e.checkSelf(); err != nil {
		return false, err
	}
	v, err := e.backend.ReadFile(path.Join(e.path, "enable"))
	if err != nil {
		return false, fmt.Errorf("%s: read enable state: %w", e.kind, err)
	}
	return v == "1", nil
}

func (e *entity) setEnable(enable bool) error {
	if err := e.checkSelf(); err != nil {
		return err
	}
	v := "0"
	if enable {
		v = "1"
	}
	return e.backend.WriteFile(path.Join(e.path, "enable"), v)
}
