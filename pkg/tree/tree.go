// Package tree maintains an in-memory node hierarchy mirroring the nvmet
// backend and implements the interactive command surface over it.
//
// The tree never caches state across commands: Refresh rebuilds a node's
// child set wholesale from the backend, so after any mutation the tree
// cannot diverge from what the kernel (or the in-memory simulation) holds.
package tree

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/psaab/nvmetctl/pkg/configstore"
	"github.com/psaab/nvmetctl/pkg/logging"
	"github.com/psaab/nvmetctl/pkg/nvmet"
)

// Context carries the shared collaborators every tree operation needs.
// It is passed explicitly so tests can build isolated trees over a
// MemBackend without any process-global state.
type Context struct {
	Root   *nvmet.Root
	Store  *configstore.Store
	LogBuf *logging.Buffer
}

// Kind tags what a node represents.
type Kind int

const (
	KindRoot Kind = iota
	KindSubsystems
	KindSubsystem
	KindNamespaces
	KindNamespace
	KindAllowedHosts
	KindAllowedHost
	KindPorts
	KindPort
	KindPortSubsystems
	KindPortSubsystem
	KindReferrals
	KindReferral
	KindHosts
	KindHost
)

// label returns the human name used in messages, e.g. "namespace 1".
func (k Kind) label() string {
	switch k {
	case KindRoot:
		return "root"
	case KindSubsystems, KindPortSubsystems:
		return "subsystems"
	case KindSubsystem:
		return "subsystem"
	case KindNamespaces:
		return "namespaces"
	case KindNamespace:
		return "namespace"
	case KindAllowedHosts:
		return "allowed_hosts"
	case KindAllowedHost:
		return "allowed host"
	case KindPorts:
		return "ports"
	case KindPort:
		return "port"
	case KindPortSubsystem:
		return "subsystem export"
	case KindReferrals:
		return "referrals"
	case KindReferral:
		return "referral"
	case KindHosts:
		return "hosts"
	case KindHost:
		return "host"
	}
	return "node"
}

// Node is one location in the hierarchy. Category nodes (subsystems,
// namespaces, ...) own a child per backend entity; entity nodes bind the
// entity itself. Link nodes (allowed hosts, port exports) carry only the
// target NQN.
type Node struct {
	ctx      *Context
	kind     Kind
	name     string
	parent   *Node
	children map[string]*Node

	// entity is the bound backend entity for entity nodes, and the owning
	// entity for category nodes nested under one (namespaces and
	// allowed_hosts bind their subsystem, referrals and exports their port).
	entity nvmet.Entity
}

// New builds the root node and populates the full tree from the backend.
func New(ctx *Context) (*Node, error) {
	n := &Node{ctx: ctx, kind: KindRoot, name: "/"}
	if err := n.Refresh(); err != nil {
		return nil, err
	}
	return n, nil
}

func newNode(parent *Node, kind Kind, name string, entity nvmet.Entity) *Node {
	return &Node{
		ctx:    parent.ctx,
		kind:   kind,
		name:   name,
		parent: parent,
		entity: entity,
	}
}

// Name returns the node's component name ("/" for the root).
func (n *Node) Name() string { return n.name }

// Kind returns the node's kind tag.
func (n *Node) Kind() Kind { return n.kind }

// Parent returns the enclosing node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Context returns the shared context the tree was built with.
func (n *Node) Context() *Context { return n.ctx }

// Root walks up to the top of the tree.
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Path returns the absolute path of the node, e.g.
// "/subsystems/testnqn/namespaces/1".
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	var parts []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Refresh discards the node's children and rebuilds the whole subtree from
// the backend. It never mutates the backend and is safe to call repeatedly.
func (n *Node) Refresh() error {
	children := make(map[string]*Node)

	add := func(kind Kind, name string, entity nvmet.Entity) {
		children[name] = newNode(n, kind, name, entity)
	}

	switch n.kind {
	case KindRoot:
		add(KindSubsystems, "subsystems", nil)
		add(KindPorts, "ports", nil)
		add(KindHosts, "hosts", nil)

	case KindSubsystems:
		subs, err := n.ctx.Root.Subsystems()
		if err != nil {
			return err
		}
		for _, s := range subs {
			add(KindSubsystem, s.NQN(), s)
		}

	case KindSubsystem:
		add(KindNamespaces, "namespaces", n.entity)
		add(KindAllowedHosts, "allowed_hosts", n.entity)

	case KindNamespaces:
		nss, err := n.subsystem().Namespaces()
		if err != nil {
			return err
		}
		for _, ns := range nss {
			add(KindNamespace, strconv.FormatUint(uint64(ns.NSID()), 10), ns)
		}

	case KindAllowedHosts:
		nqns, err := n.subsystem().AllowedHosts()
		if err != nil {
			return err
		}
		for _, nqn := range nqns {
			add(KindAllowedHost, nqn, nil)
		}

	case KindPorts:
		ports, err := n.ctx.Root.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			add(KindPort, strconv.Itoa(p.ID()), p)
		}

	case KindPort:
		add(KindPortSubsystems, "subsystems", n.entity)
		add(KindReferrals, "referrals", n.entity)

	case KindPortSubsystems:
		nqns, err := n.port().Subsystems()
		if err != nil {
			return err
		}
		for _, nqn := range nqns {
			add(KindPortSubsystem, nqn, nil)
		}

	case KindReferrals:
		refs, err := n.port().Referrals()
		if err != nil {
			return err
		}
		for _, r := range refs {
			add(KindReferral, r.Name(), r)
		}

	case KindHosts:
		hosts, err := n.ctx.Root.Hosts()
		if err != nil {
			return err
		}
		for _, h := range hosts {
			add(KindHost, h.NQN(), h)
		}
	}

	for _, c := range children {
		if err := c.Refresh(); err != nil {
			return err
		}
	}
	n.children = children
	return nil
}

// subsystem returns the owning subsystem of a nested category node.
func (n *Node) subsystem() *nvmet.Subsystem { return n.entity.(*nvmet.Subsystem) }

// port returns the owning port of a nested category node.
func (n *Node) port() *nvmet.Port { return n.entity.(*nvmet.Port) }

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node { return n.children[name] }

// ChildNames returns the node's child names sorted, numerically where both
// names are numbers so namespace and port ids list in id order.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, errA := strconv.Atoi(names[i])
		b, errB := strconv.Atoi(names[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Status reports the node's short state string. Entities with an enable
// file read it live; everything else reports "None".
func (n *Node) Status() string {
	switch n.kind {
	case KindNamespace, KindPort, KindReferral:
		en, ok := n.entity.(nvmet.Enableable)
		if !ok {
			return "None"
		}
		enabled, err := en.GetEnable()
		if err != nil {
			return "None"
		}
		if enabled {
			return "enabled"
		}
		return "disabled"
	}
	return "None"
}

// Resolve walks a slash-separated path relative to n ("/" and ".."
// supported) and returns the target node. The walk refreshes each visited
// node so lookups reflect current backend state.
func (n *Node) Resolve(p string) (*Node, error) {
	cur := n
	if strings.HasPrefix(p, "/") {
		cur = n.Root()
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if cur.parent != nil {
				cur = cur.parent
			}
			continue
		}
		if err := cur.Refresh(); err != nil {
			return nil, err
		}
		child := cur.children[seg]
		if child == nil {
			return nil, fmt.Errorf("%s: no such node %q", cur.Path(), seg)
		}
		cur = child
	}
	return cur, nil
}

// WriteTree prints the subtree rooted at n, one node per line with
// indentation and live status.
func (n *Node) WriteTree(w io.Writer) {
	n.writeTree(w, 0)
}

func (n *Node) writeTree(w io.Writer, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n.kind {
	case KindSubsystems, KindNamespaces, KindAllowedHosts, KindPorts,
		KindPortSubsystems, KindReferrals, KindHosts:
		fmt.Fprintf(w, "%so- %s [%d]\n", indent, n.name, len(n.children))
	default:
		if status := n.Status(); status != "None" {
			fmt.Fprintf(w, "%so- %s [%s]\n", indent, n.name, status)
		} else {
			fmt.Fprintf(w, "%so- %s\n", indent, n.name)
		}
	}
	for _, name := range n.ChildNames() {
		n.children[name].writeTree(w, depth+1)
	}
}
