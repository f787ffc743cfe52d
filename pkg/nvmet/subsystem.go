package nvmet

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// DiscoveryNQN is reserved by the kernel for the discovery controller.
	DiscoveryNQN = "nqn.2014-08.org.nvmexpress.discovery"

	// maxNQNLen is the NVMe limit on qualified name length.
	maxNQNLen = 223
)

// Subsystem is a storage target identified by its NQN.
type Subsystem struct {
	entity
	root *Root
	nqn  string
}

// NewSubsystem binds a Subsystem according to mode. An empty NQN in create
// or any mode generates a unique one; lookup requires an explicit NQN.
func NewSubsystem(r *Root, nqn string, mode Mode) (*Subsystem, error) {
	if nqn == "" {
		if mode == ModeLookup {
			return nil, fmt.Errorf("subsystem lookup requires an NQN")
		}
		nqn = GenerateNQN()
	}
	if err := validateNQN(nqn); err != nil {
		return nil, err
	}
	s := &Subsystem{
		entity: entity{
			backend: r.backend,
			path:    path.Join("subsystems", nqn),
			kind:    "subsystem",
			groups:  []string{"attr"},
		},
		root: r,
		nqn:  nqn,
	}
	if err := s.bind(mode); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateNQN returns a fresh UUID-based NQN.
func GenerateNQN() string {
	return "nqn.2014-08.org.nvmexpress:NVMf:uuid:" + uuid.New().String()
}

func validateNQN(nqn string) error {
	if nqn == "" {
		return fmt.Errorf("empty NQN")
	}
	if strings.Contains(nqn, "/") {
		return fmt.Errorf("NQN %q must not contain a slash", nqn)
	}
	if len(nqn) > maxNQNLen {
		return fmt.Errorf("NQN longer than %d characters", maxNQNLen)
	}
	if nqn == DiscoveryNQN {
		return fmt.Errorf("NQN %q is reserved", nqn)
	}
	return nil
}

// NQN returns the subsystem's qualified name.
func (s *Subsystem) NQN() string { return s.nqn }

// Namespaces lists the subsystem's namespaces, sorted by NSID.
func (s *Subsystem) Namespaces() ([]*Namespace, error) {
	if err := s.checkSelf(); err != nil {
		return nil, err
	}
	names, err := s.backend.ListDir(path.Join(s.path, "namespaces"))
	if err != nil {
		return nil, fmt.Errorf("subsystem %s: list namespaces: %w", s.nqn, err)
	}
	nss := make([]*Namespace, 0, len(names))
	for _, name := range names {
		nsid, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		ns, err := NewNamespace(s, uint32(nsid), ModeLookup)
		if err != nil {
			return nil, err
		}
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(i, j int) bool { return nss[i].NSID() < nss[j].NSID() })
	return nss, nil
}

// AllowedHosts lists the host NQNs granted access to this subsystem.
func (s *Subsystem) AllowedHosts() ([]string, error) {
	if err := s.checkSelf(); err != nil {
		return nil, err
	}
	nqns, err := s.backend.ListDir(path.Join(s.path, "allowed_hosts"))
	if err != nil {
		return nil, fmt.Errorf("subsystem %s: list allowed hosts: %w", s.nqn, err)
	}
	return nqns, nil
}

// AddAllowedHost grants the given host NQN access to this subsystem.
// The host must exist under the hosts collection.
func (s *Subsystem) AddAllowedHost(nqn string) error {
	if err := s.checkSelf(); err != nil {
		return err
	}
	link := path.Join(s.path, "allowed_hosts", nqn)
	if s.backend.IsLink(link) {
		return fmt.Errorf("allowed host %s: %w", nqn, ErrExists)
	}
	if err := s.backend.Symlink(path.Join("hosts", nqn), link); err != nil {
		return fmt.Errorf("allow host %s: %w", nqn, err)
	}
	return nil
}

// RemoveAllowedHost revokes the given host NQN's access.
func (s *Subsystem) RemoveAllowedHost(nqn string) error {
	if err := s.checkSelf(); err != nil {
		return err
	}
	link := path.Join(s.path, "allowed_hosts", nqn)
	if !s.backend.IsLink(link) {
		return fmt.Errorf("allowed host %s: %w", nqn, ErrNotFound)
	}
	if err := s.backend.Unlink(link); err != nil {
		return fmt.Errorf("remove allowed host %s: %w", nqn, err)
	}
	return nil
}

// Delete removes the subsystem, cascading through its namespaces and
// allowed-host links first.
func (s *Subsystem) Delete() error {
	if err := s.checkSelf(); err != nil {
		return err
	}
	hosts, err := s.AllowedHosts()
	if err != nil {
		return err
	}
	for _, nqn := range hosts {
		if err := s.RemoveAllowedHost(nqn); err != nil {
			return err
		}
	}
	nss, err := s.Namespaces()
	if err != nil {
		return err
	}
	for _, ns := range nss {
		if err := ns.Delete(); err != nil {
			return err
		}
	}
	if err := s.backend.Rmdir(s.path); err != nil {
		return fmt.Errorf("delete subsystem %s: %w", s.nqn, err)
	}
	return nil
}
