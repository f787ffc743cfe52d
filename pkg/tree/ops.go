package tree

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/psaab/nvmetctl/pkg/nvmet"
)

// Create makes a new entity (or link) under a category node and returns its
// child node. identity may be empty where the backend auto-assigns one
// (subsystem NQNs, namespace NSIDs, port ids).
func (n *Node) Create(identity string) (*Node, error) {
	var name string

	switch n.kind {
	case KindSubsystems:
		s, err := nvmet.NewSubsystem(n.ctx.Root, identity, nvmet.ModeCreate)
		if err != nil {
			return nil, err
		}
		name = s.NQN()

	case KindNamespaces:
		var nsid uint32
		if identity != "" {
			id, err := strconv.ParseUint(identity, 10, 32)
			if err != nil || id == 0 {
				return nil, fmt.Errorf("namespace id %q: must be 1 to %d", identity, nvmet.MaxNSID)
			}
			nsid = uint32(id)
		}
		ns, err := nvmet.NewNamespace(n.subsystem(), nsid, nvmet.ModeCreate)
		if err != nil {
			return nil, err
		}
		name = strconv.FormatUint(uint64(ns.NSID()), 10)

	case KindAllowedHosts:
		if identity == "" {
			return nil, fmt.Errorf("allowed host: NQN required")
		}
		if err := n.subsystem().AddAllowedHost(identity); err != nil {
			return nil, err
		}
		name = identity

	case KindPorts:
		id := -1
		if identity != "" {
			v, err := strconv.Atoi(identity)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("port id %q: must be 0 to %d", identity, nvmet.MaxPortID)
			}
			id = v
		}
		p, err := nvmet.NewPort(n.ctx.Root, id, nvmet.ModeCreate)
		if err != nil {
			return nil, err
		}
		name = strconv.Itoa(p.ID())

	case KindPortSubsystems:
		if identity == "" {
			return nil, fmt.Errorf("subsystem export: NQN required")
		}
		if err := n.port().AddSubsystem(identity); err != nil {
			return nil, err
		}
		name = identity

	case KindReferrals:
		if identity == "" {
			return nil, fmt.Errorf("referral: name required")
		}
		r, err := nvmet.NewReferral(n.port(), identity, nvmet.ModeCreate)
		if err != nil {
			return nil, err
		}
		name = r.Name()

	case KindHosts:
		h, err := nvmet.NewHost(n.ctx.Root, identity, nvmet.ModeCreate)
		if err != nil {
			return nil, err
		}
		name = h.NQN()

	default:
		return nil, fmt.Errorf("%s: not a collection", n.Path())
	}

	if err := n.Refresh(); err != nil {
		return nil, err
	}
	child := n.children[name]
	if child == nil {
		return nil, fmt.Errorf("%s: created %q but it did not appear", n.Path(), name)
	}
	return child, nil
}

// Delete removes the named entity (or link) under a category node,
// cascading through the backend, and refreshes the node.
func (n *Node) Delete(identity string) error {
	switch n.kind {
	case KindSubsystems:
		s, err := nvmet.NewSubsystem(n.ctx.Root, identity, nvmet.ModeLookup)
		if err != nil {
			return err
		}
		if err := s.Delete(); err != nil {
			return err
		}

	case KindNamespaces:
		id, err := strconv.ParseUint(identity, 10, 32)
		if err != nil {
			return fmt.Errorf("namespace id %q: %w", identity, err)
		}
		ns, err := nvmet.NewNamespace(n.subsystem(), uint32(id), nvmet.ModeLookup)
		if err != nil {
			return err
		}
		if err := ns.Delete(); err != nil {
			return err
		}

	case KindAllowedHosts:
		if err := n.subsystem().RemoveAllowedHost(identity); err != nil {
			return err
		}

	case KindPorts:
		id, err := strconv.Atoi(identity)
		if err != nil {
			return fmt.Errorf("port id %q: %w", identity, err)
		}
		p, err := nvmet.NewPort(n.ctx.Root, id, nvmet.ModeLookup)
		if err != nil {
			return err
		}
		if err := p.Delete(); err != nil {
			return err
		}

	case KindPortSubsystems:
		if err := n.port().RemoveSubsystem(identity); err != nil {
			return err
		}

	case KindReferrals:
		r, err := nvmet.NewReferral(n.port(), identity, nvmet.ModeLookup)
		if err != nil {
			return err
		}
		if err := r.Delete(); err != nil {
			return err
		}

	case KindHosts:
		h, err := nvmet.NewHost(n.ctx.Root, identity, nvmet.ModeLookup)
		if err != nil {
			return err
		}
		if err := h.Delete(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%s: not a collection", n.Path())
	}

	return n.Refresh()
}

// label names the node for user messages, e.g. "namespace 1".
func (n *Node) label() string {
	return fmt.Sprintf("%s %s", n.kind.label(), n.name)
}

// Enable switches the entity on. Already-enabled entities are reported,
// not re-enabled. A backend failure surfaces as a generic message; the
// cause is only logged.
func (n *Node) Enable() (string, error) {
	return n.setEnabled(true)
}

// Disable switches the entity off, with the same semantics as Enable.
func (n *Node) Disable() (string, error) {
	return n.setEnabled(false)
}

func (n *Node) setEnabled(enable bool) (string, error) {
	verb := "enabled"
	if !enable {
		verb = "disabled"
	}

	switch n.kind {
	case KindNamespace, KindPort, KindReferral:
	default:
		return "", fmt.Errorf("%s cannot be %s", n.label(), verb)
	}

	en := n.entity.(nvmet.Enableable)
	cur, err := en.GetEnable()
	if err != nil {
		slog.Debug("enable state read failed", "node", n.Path(), "error", err)
		return "", fmt.Errorf("%s could not be %s", n.label(), verb)
	}
	if cur == enable {
		return fmt.Sprintf("%s is already %s", n.label(), verb), nil
	}
	if err := en.SetEnable(enable); err != nil {
		slog.Debug("enable state change failed", "node", n.Path(), "error", err)
		return "", fmt.Errorf("%s could not be %s", n.label(), verb)
	}
	return fmt.Sprintf("%s has been %s", n.label(), verb), nil
}

// GetAttr reads one attribute of the bound entity.
func (n *Node) GetAttr(group, name string) (string, error) {
	if !n.hasAttrs() {
		return "", fmt.Errorf("%s has no attributes", n.label())
	}
	return n.entity.GetAttr(group, name)
}

// SetAttr writes one attribute of the bound entity. Non-writable
// attributes are rejected before the backend sees the write.
func (n *Node) SetAttr(group, name, value string) error {
	if !n.hasAttrs() {
		return fmt.Errorf("%s has no attributes", n.label())
	}
	return n.entity.SetAttr(group, name, value)
}

// hasAttrs reports whether this node binds an entity with attribute files.
func (n *Node) hasAttrs() bool {
	switch n.kind {
	case KindSubsystem, KindNamespace, KindPort, KindReferral:
		return n.entity != nil
	}
	return false
}

// SaveConfig persists the whole tree. An empty file uses the default path.
func (n *Node) SaveConfig(file string) error {
	return n.ctx.Store.Save(file)
}

// RestoreConfig loads a saved document, optionally clearing existing
// configuration first. Per-entity restore failures are collapsed into a
// single error naming the count and each message; whatever succeeded
// stays applied. The tree is refreshed either way.
func (n *Node) RestoreConfig(file string, clearExisting bool) error {
	errs, err := n.ctx.Store.Restore(file, clearExisting)
	if refreshErr := n.Root().Refresh(); refreshErr != nil && err == nil {
		err = refreshErr
	}
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore completed with %d errors:\n  %s",
			len(errs), strings.Join(errs, "\n  "))
	}
	return nil
}
