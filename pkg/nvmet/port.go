package nvmet

import (
	"fmt"
	"path"
	"sort"
	"strconv"
)

// MaxPortID is the highest port ID the target accepts.
const MaxPortID = 1<<16 - 1

// Port is a transport endpoint identified by a numeric ID.
type Port struct {
	entity
	root *Root
	id   int
}

// NewPort binds a Port according to mode. A negative ID in create or any
// mode selects the lowest unused one; lookup requires an explicit ID.
func NewPort(r *Root, id int, mode Mode) (*Port, error) {
	if id < 0 {
		if mode == ModeLookup {
			return nil, fmt.Errorf("port lookup requires a port ID")
		}
		var err error
		id, err = lowestFreePortID(r)
		if err != nil {
			return nil, err
		}
	} else if id > MaxPortID {
		return nil, fmt.Errorf("port ID must be 0 to %d", MaxPortID)
	}
	p := &Port{
		entity: entity{
			backend: r.backend,
			path:    path.Join("ports", strconv.Itoa(id)),
			kind:    "port",
			groups:  []string{"addr"},
		},
		root: r,
		id:   id,
	}
	if err := p.bind(mode); err != nil {
		return nil, err
	}
	return p, nil
}

func lowestFreePortID(r *Root) (int, error) {
	existing, err := r.Ports()
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(existing))
	for _, p := range existing {
		used[p.ID()] = true
	}
	for id := 0; id <= MaxPortID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("all port IDs 0-%d in use", MaxPortID)
}

func parsePortID(name string) (int, error) {
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid port ID %q", name)
	}
	return id, nil
}

func sortPorts(ports []*Port) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].ID() < ports[j].ID() })
}

// ID returns the port ID.
func (p *Port) ID() int { return p.id }

// Referrals lists the port's referrals, sorted by name.
func (p *Port) Referrals() ([]*Referral, error) {
	if err := p.checkSelf(); err != nil {
		return nil, err
	}
	names, err := p.backend.ListDir(path.Join(p.path, "referrals"))
	if err != nil {
		return nil, fmt.Errorf("port %d: list referrals: %w", p.id, err)
	}
	refs := make([]*Referral, 0, len(names))
	for _, name := range names {
		ref, err := NewReferral(p, name, ModeLookup)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Subsystems lists the subsystem NQNs exported through this port.
func (p *Port) Subsystems() ([]string, error) {
	if err := p.checkSelf(); err != nil {
		return nil, err
	}
	nqns, err := p.backend.ListDir(path.Join(p.path, "subsystems"))
	if err != nil {
		return nil, fmt.Errorf("port %d: list subsystems: %w", p.id, err)
	}
	return nqns, nil
}

// AddSubsystem exports the given subsystem NQN through this port.
// The subsystem must exist under the subsystems collection.
func (p *Port) AddSubsystem(nqn string) error {
	if err := p.checkSelf(); err != nil {
		return err
	}
	link := path.Join(p.path, "subsystems", nqn)
	if p.backend.IsLink(link) {
		return fmt.Errorf("port subsystem %s: %w", nqn, ErrExists)
	}
	if err := p.backend.Symlink(path.Join("subsystems", nqn), link); err != nil {
		return fmt.Errorf("export subsystem %s: %w", nqn, err)
	}
	return nil
}

// RemoveSubsystem stops exporting the given subsystem NQN.
func (p *Port) RemoveSubsystem(nqn string) error {
	if err := p.checkSelf(); err != nil {
		return err
	}
	link := path.Join(p.path, "subsystems", nqn)
	if !p.backend.IsLink(link) {
		return fmt.Errorf("port subsystem %s: %w", nqn, ErrNotFound)
	}
	if err := p.backend.Unlink(link); err != nil {
		return fmt.Errorf("remove subsystem %s: %w", nqn, err)
	}
	return nil
}

// GetEnable reads the current enabled state from the backend.
func (p *Port) GetEnable() (bool, error) { return p.getEnable() }

// SetEnable enables or disables the port.
func (p *Port) SetEnable(enable bool) error { return p.setEnable(enable) }

// Delete removes the port, cascading through its referrals and subsystem
// links first.
func (p *Port) Delete() error {
	if err := p.checkSelf(); err != nil {
		return err
	}
	nqns, err := p.Subsystems()
	if err != nil {
		return err
	}
	for _, nqn := range nqns {
		if err := p.RemoveSubsystem(nqn); err != nil {
			return err
		}
	}
	refs, err := p.Referrals()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := ref.Delete(); err != nil {
			return err
		}
	}
	if err := p.backend.Rmdir(p.path); err != nil {
		return fmt.Errorf("delete port %d: %w", p.id, err)
	}
	return nil
}

// Referral points connecting hosts at another transport endpoint.
// It is scoped to its owning port and identified by name.
type Referral struct {
	entity
	port *Port
	name string
}

// NewReferral binds a Referral according to mode.
func NewReferral(p *Port, name string, mode Mode) (*Referral, error) {
	if name == "" {
		return nil, fmt.Errorf("referral requires a name")
	}
	ref := &Referral{
		entity: entity{
			backend: p.backend,
			path:    path.Join(p.path, "referrals", name),
			kind:    "referral",
			groups:  []string{"addr"},
		},
		port: p,
		name: name,
	}
	if err := ref.bind(mode); err != nil {
		return nil, err
	}
	return ref, nil
}

// Name returns the referral name.
func (r *Referral) Name() string { return r.name }

// Port returns the owning port.
func (r *Referral) Port() *Port { return r.port }

// GetEnable reads the current enabled state from the backend.
func (r *Referral) GetEnable() (bool, error) { return r.getEnable() }

// SetEnable enables or disables the referral.
func (r *Referral) SetEnable(enable bool) error { return r.setEnable(enable) }

// Delete removes the referral.
func (r *Referral) Delete() error {
	if err := r.checkSelf(); err != nil {
		return err
	}
	if err := r.backend.Rmdir(r.path); err != nil {
		return fmt.Errorf("delete referral %s: %w", r.name, err)
	}
	return nil
}
