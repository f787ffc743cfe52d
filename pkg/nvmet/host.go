package nvmet

import (
	"fmt"
	"path"
)

// Host is a host identity that subsystems can grant access to.
type Host struct {
	entity
	root *Root
	nqn  string
}

// NewHost binds a Host according to mode. Hosts always require an explicit
// NQN; there is no auto-generation.
func NewHost(r *Root, nqn string, mode Mode) (*Host, error) {
	if nqn == "" {
		return nil, fmt.Errorf("host requires an NQN")
	}
	if err := validateNQN(nqn); err != nil {
		return nil, err
	}
	h := &Host{
		entity: entity{
			backend: r.backend,
			path:    path.Join("hosts", nqn),
			kind:    "host",
		},
		root: r,
		nqn:  nqn,
	}
	if err := h.bind(mode); err != nil {
		return nil, err
	}
	return h, nil
}

// NQN returns the host's qualified name.
func (h *Host) NQN() string { return h.nqn }

// Delete removes the host. Allowed-host links under subsystems referencing
// this host are removed first so the backend does not refuse the removal.
func (h *Host) Delete() error {
	if err := h.checkSelf(); err != nil {
		return err
	}
	subs, err := h.root.Subsystems()
	if err != nil {
		return err
	}
	for _, s := range subs {
		allowed, err := s.AllowedHosts()
		if err != nil {
			return err
		}
		for _, nqn := range allowed {
			if nqn == h.nqn {
				if err := s.RemoveAllowedHost(nqn); err != nil {
					return err
				}
			}
		}
	}
	if err := h.backend.Rmdir(h.path); err != nil {
		return fmt.Errorf("delete host %s: %w", h.nqn, err)
	}
	return nil
}
