package nvmet

import (
	"fmt"
	"path"
	"strconv"
)

// MaxNSID is the highest namespace ID the target accepts.
const MaxNSID = 8192

// Namespace is a block-storage unit under a subsystem, identified by NSID.
type Namespace struct {
	entity
	subsystem *Subsystem
	nsid      uint32
}

// NewNamespace binds a Namespace according to mode. NSID 0 in create or any
// mode selects the lowest unused ID; lookup requires an explicit NSID.
func NewNamespace(s *Subsystem, nsid uint32, mode Mode) (*Namespace, error) {
	if nsid == 0 {
		if mode == ModeLookup {
			return nil, fmt.Errorf("namespace lookup requires an NSID")
		}
		var err error
		nsid, err = lowestFreeNSID(s)
		if err != nil {
			return nil, err
		}
	} else if nsid > MaxNSID {
		return nil, fmt.Errorf("NSID must be 1 to %d", MaxNSID)
	}
	ns := &Namespace{
		entity: entity{
			backend: s.backend,
			path:    path.Join(s.path, "namespaces", strconv.FormatUint(uint64(nsid), 10)),
			kind:    "namespace",
			groups:  []string{"device"},
		},
		subsystem: s,
		nsid:      nsid,
	}
	if err := ns.bind(mode); err != nil {
		return nil, err
	}
	return ns, nil
}

func lowestFreeNSID(s *Subsystem) (uint32, error) {
	existing, err := s.Namespaces()
	if err != nil {
		return 0, err
	}
	used := make(map[uint32]bool, len(existing))
	for _, ns := range existing {
		used[ns.NSID()] = true
	}
	for id := uint32(1); id <= MaxNSID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("all NSIDs 1-%d in use", MaxNSID)
}

// NSID returns the namespace ID.
func (n *Namespace) NSID() uint32 { return n.nsid }

// Subsystem returns the owning subsystem.
func (n *Namespace) Subsystem() *Subsystem { return n.subsystem }

// GetEnable reads the current enabled state from the backend.
func (n *Namespace) GetEnable() (bool, error) { return n.getEnable() }

// SetEnable enables or disables the namespace.
func (n *Namespace) SetEnable(enable bool) error { return n.setEnable(enable) }

// Delete removes the namespace.
func (n *Namespace) Delete() error {
	if err := n.checkSelf(); err != nil {
		return err
	}
	if err := n.backend.Rmdir(n.path); err != nil {
		return fmt.Errorf("delete namespace %d: %w", n.nsid, err)
	}
	return nil
}
