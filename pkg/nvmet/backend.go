// Package nvmet implements the object model for the NVMe target
// configuration hierarchy. Entities (subsystems, namespaces, ports, hosts,
// referrals) are thin handles over a Backend, which is either the kernel
// configfs mount or an in-memory simulation of it.
package nvmet

import (
	"errors"
	"fmt"
)

// Errors returned by entity constructors and attribute accessors.
var (
	// ErrExists is returned when creating an entity whose identity is taken.
	ErrExists = errors.New("already exists")
	// ErrNotFound is returned when looking up an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotWritable is returned when setting a read-only attribute.
	ErrNotWritable = errors.New("attribute is not writable")
	// ErrBadValue is returned when an attribute value does not match the
	// attribute's declared type.
	ErrBadValue = errors.New("invalid value")
)

// Backend is the filesystem-shaped collaborator that owns real state.
// Paths are relative to the nvmet hierarchy root ("" is the root itself).
type Backend interface {
	// IsDir reports whether path exists and is a directory.
	IsDir(path string) bool
	// Mkdir creates a directory. The parent must exist.
	Mkdir(path string) error
	// Rmdir removes a directory. It fails if the directory still holds
	// child entities or links.
	Rmdir(path string) error
	// ListDir returns the entry names of a directory, entities and links
	// only (attribute files are not included).
	ListDir(path string) ([]string, error)
	// IsFile reports whether path exists and is a regular attribute file.
	IsFile(path string) bool
	// ReadFile returns the content of an attribute file.
	ReadFile(path string) (string, error)
	// WriteFile replaces the content of an attribute file.
	WriteFile(path, value string) error
	// Writable reports whether the attribute file accepts writes.
	Writable(path string) bool
	// ListFiles returns the attribute file names of a directory.
	ListFiles(path string) ([]string, error)
	// Symlink creates a reference link. The target must exist.
	Symlink(target, link string) error
	// Unlink removes a reference link.
	Unlink(link string) error
	// IsLink reports whether path exists and is a reference link.
	IsLink(path string) bool
}

// Mode selects how an entity constructor binds to backend state.
type Mode int

const (
	// ModeAny looks the entity up, creating it if absent.
	ModeAny Mode = iota
	// ModeLookup requires the entity to already exist.
	ModeLookup
	// ModeCreate requires the entity to not exist yet.
	ModeCreate
)

func (m Mode) String() string {
	switch m {
	case ModeAny:
		return "any"
	case ModeLookup:
		return "lookup"
	case ModeCreate:
		return "create"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}
