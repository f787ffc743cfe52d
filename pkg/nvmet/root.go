package nvmet

import "fmt"

// Root is the top of the nvmet hierarchy, owning the subsystem, port, and
// host collections.
type Root struct {
	entity
}

// Open binds a Root to a backend. The top-level collections must exist,
// which the kernel guarantees once the nvmet module is loaded.
func Open(b Backend) (*Root, error) {
	for _, dir := range []string{"subsystems", "ports", "hosts"} {
		if !b.IsDir(dir) {
			return nil, fmt.Errorf("collection %s: %w", dir, ErrNotFound)
		}
	}
	return &Root{entity: entity{backend: b, path: "", kind: "root"}}, nil
}

// Backend returns the backend this root is bound to.
func (r *Root) Backend() Backend { return r.backend }

// Subsystems lists all configured subsystems.
func (r *Root) Subsystems() ([]*Subsystem, error) {
	names, err := r.backend.ListDir("subsystems")
	if err != nil {
		return nil, fmt.Errorf("list subsystems: %w", err)
	}
	subs := make([]*Subsystem, 0, len(names))
	for _, nqn := range names {
		s, err := NewSubsystem(r, nqn, ModeLookup)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// Ports lists all configured ports.
func (r *Root) Ports() ([]*Port, error) {
	names, err := r.backend.ListDir("ports")
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	ports := make([]*Port, 0, len(names))
	for _, name := range names {
		id, err := parsePortID(name)
		if err != nil {
			continue // not a port directory
		}
		p, err := NewPort(r, id, ModeLookup)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	sortPorts(ports)
	return ports, nil
}

// Hosts lists all configured hosts.
func (r *Root) Hosts() ([]*Host, error) {
	names, err := r.backend.ListDir("hosts")
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	hosts := make([]*Host, 0, len(names))
	for _, nqn := range names {
		h, err := NewHost(r, nqn, ModeLookup)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// Clear removes the entire configuration: every subsystem, port, and host,
// cascading through their descendants.
func (r *Root) Clear() error {
	subs, err := r.Subsystems()
	if err != nil {
		return err
	}
	for _, s := range subs {
		if err := s.Delete(); err != nil {
			return err
		}
	}
	ports, err := r.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if err := p.Delete(); err != nil {
			return err
		}
	}
	hosts, err := r.Hosts()
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if err := h.Delete(); err != nil {
			return err
		}
	}
	return nil
}
