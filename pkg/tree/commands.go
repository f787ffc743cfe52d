package tree

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/psaab/nvmetctl/pkg/nvmet"
)

// Command is one command available at a node. Run may return a non-nil
// node to move the shell there (cd). Complete, when set, produces
// candidates for the command's arguments.
type Command struct {
	Name     string
	Desc     string
	Run      func(n *Node, args []string) (*Node, error)
	Complete func(n *Node, args []string, partial string) []Candidate
}

// Candidate holds a completion name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

// Commands returns the command table for this node, sorted by name.
func (n *Node) Commands() []Command {
	cmds := []Command{
		{
			Name: "ls",
			Desc: "List the tree from this node or a given path",
			Run: func(n *Node, args []string) (*Node, error) {
				target := n
				if len(args) > 0 {
					t, err := n.Resolve(args[0])
					if err != nil {
						return nil, err
					}
					target = t
				} else if err := n.Refresh(); err != nil {
					return nil, err
				}
				target.WriteTree(os.Stdout)
				return nil, nil
			},
			Complete: completeChildren,
		},
		{
			Name: "cd",
			Desc: "Change to another node",
			Run: func(n *Node, args []string) (*Node, error) {
				p := "/"
				if len(args) > 0 {
					p = args[0]
				}
				return n.Resolve(p)
			},
			Complete: completeChildren,
		},
		{
			Name: "refresh",
			Desc: "Rebuild this node's subtree from the backend",
			Run: func(n *Node, args []string) (*Node, error) {
				return nil, n.Refresh()
			},
		},
		{
			Name: "status",
			Desc: "Show this node's state",
			Run: func(n *Node, args []string) (*Node, error) {
				fmt.Println(n.Status())
				return nil, nil
			},
		},
		{
			Name: "saveconfig",
			Desc: "Save the full configuration [file]",
			Run: func(n *Node, args []string) (*Node, error) {
				file := ""
				if len(args) > 0 {
					file = args[0]
				}
				if err := n.SaveConfig(file); err != nil {
					return nil, err
				}
				fmt.Println("configuration saved")
				return nil, nil
			},
		},
	}

	switch n.kind {
	case KindSubsystems, KindNamespaces, KindAllowedHosts, KindPorts,
		KindPortSubsystems, KindReferrals, KindHosts:
		cmds = append(cmds, collectionCommands(n.kind)...)
	}

	if n.hasAttrs() {
		cmds = append(cmds, attrCommands()...)
	}

	switch n.kind {
	case KindNamespace, KindPort, KindReferral:
		cmds = append(cmds, enableCommands()...)
	}

	if n.kind == KindRoot {
		cmds = append(cmds, rootCommands()...)
	}

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

func collectionCommands(kind Kind) []Command {
	createDesc := "Create a new entry [identity]"
	switch kind {
	case KindSubsystems:
		createDesc = "Create a subsystem [nqn], auto-generated when omitted"
	case KindNamespaces:
		createDesc = "Create a namespace [nsid], lowest free when omitted"
	case KindAllowedHosts:
		createDesc = "Allow a host NQN access to this subsystem"
	case KindPorts:
		createDesc = "Create a port [id], lowest free when omitted"
	case KindPortSubsystems:
		createDesc = "Export a subsystem NQN through this port"
	case KindReferrals:
		createDesc = "Create a referral <name>"
	case KindHosts:
		createDesc = "Register a host <nqn>"
	}

	return []Command{
		{
			Name: "create",
			Desc: createDesc,
			Run: func(n *Node, args []string) (*Node, error) {
				identity := ""
				if len(args) > 0 {
					identity = args[0]
				}
				child, err := n.Create(identity)
				if err != nil {
					return nil, err
				}
				fmt.Printf("created %s\n", child.label())
				return nil, nil
			},
			Complete: completeCreate,
		},
		{
			Name: "delete",
			Desc: "Delete an entry <identity>",
			Run: func(n *Node, args []string) (*Node, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("usage: delete <identity>")
				}
				if err := n.Delete(args[0]); err != nil {
					return nil, err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil, nil
			},
			Complete: completeChildren,
		},
	}
}

func attrCommands() []Command {
	return []Command{
		{
			Name: "get",
			Desc: "Read an attribute: get <group> <attr>",
			Run: func(n *Node, args []string) (*Node, error) {
				if len(args) != 2 {
					return nil, fmt.Errorf("usage: get <group> <attr>")
				}
				value, err := n.GetAttr(args[0], args[1])
				if err != nil {
					return nil, err
				}
				fmt.Println(value)
				return nil, nil
			},
			Complete: completeAttrs(false),
		},
		{
			Name: "set",
			Desc: "Write an attribute: set <group> <attr>=<value>",
			Run: func(n *Node, args []string) (*Node, error) {
				if len(args) != 2 {
					return nil, fmt.Errorf("usage: set <group> <attr>=<value>")
				}
				attr, value, ok := strings.Cut(args[1], "=")
				if !ok {
					return nil, fmt.Errorf("usage: set <group> <attr>=<value>")
				}
				if err := n.SetAttr(args[0], attr, value); err != nil {
					return nil, err
				}
				return nil, nil
			},
			Complete: completeAttrs(true),
		},
	}
}

func enableCommands() []Command {
	run := func(enable bool) func(n *Node, args []string) (*Node, error) {
		return func(n *Node, args []string) (*Node, error) {
			var msg string
			var err error
			if enable {
				msg, err = n.Enable()
			} else {
				msg, err = n.Disable()
			}
			if err != nil {
				return nil, err
			}
			fmt.Println(msg)
			return nil, nil
		}
	}
	return []Command{
		{Name: "enable", Desc: "Enable this entity", Run: run(true)},
		{Name: "disable", Desc: "Disable this entity", Run: run(false)},
	}
}

func rootCommands() []Command {
	return []Command{
		{
			Name: "restoreconfig",
			Desc: "Restore a saved configuration [file] [clear]",
			Run: func(n *Node, args []string) (*Node, error) {
				file := ""
				clearExisting := false
				if len(args) > 0 {
					file = args[0]
				}
				if len(args) > 1 {
					if args[1] != "clear" {
						return nil, fmt.Errorf("usage: restoreconfig [file] [clear]")
					}
					clearExisting = true
				}
				return nil, n.RestoreConfig(file, clearExisting)
			},
		},
		{
			Name: "clear",
			Desc: "Delete all subsystems, ports and hosts",
			Run: func(n *Node, args []string) (*Node, error) {
				if err := n.ctx.Store.Clear(); err != nil {
					return nil, err
				}
				return nil, n.Refresh()
			},
		},
		{
			Name: "log",
			Desc: "Show recent log records [n]",
			Run: func(n *Node, args []string) (*Node, error) {
				if n.ctx.LogBuf == nil {
					return nil, fmt.Errorf("no log buffer configured")
				}
				count := 0
				if len(args) > 0 {
					v, err := strconv.Atoi(args[0])
					if err != nil {
						return nil, fmt.Errorf("log count %q: %w", args[0], err)
					}
					count = v
				}
				for _, rec := range n.ctx.LogBuf.Last(count) {
					fmt.Printf("%s %-5s %s\n",
						rec.Time.Format("15:04:05"), rec.Level, rec.Msg)
				}
				return nil, nil
			},
		},
	}
}

// Dispatch parses a command line against the node's command table and runs
// it. The returned node is non-nil when the shell should move there.
func (n *Node) Dispatch(line string) (*Node, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	for _, cmd := range n.Commands() {
		if cmd.Name == fields[0] {
			return cmd.Run(n, fields[1:])
		}
	}
	return nil, fmt.Errorf("unknown command: %s", fields[0])
}

// Complete returns candidates for a partially typed command line at this
// node: command names first, argument values once a command is chosen.
func (n *Node) Complete(words []string, partial string) []Candidate {
	if len(words) == 0 {
		var out []Candidate
		for _, cmd := range n.Commands() {
			if strings.HasPrefix(cmd.Name, partial) {
				out = append(out, Candidate{Name: cmd.Name, Desc: cmd.Desc})
			}
		}
		return out
	}
	for _, cmd := range n.Commands() {
		if cmd.Name == words[0] && cmd.Complete != nil {
			return cmd.Complete(n, words[1:], partial)
		}
	}
	return nil
}

// completeChildren offers the node's child names for the first argument.
func completeChildren(n *Node, args []string, partial string) []Candidate {
	if len(args) > 0 {
		return nil
	}
	n.Refresh()
	var out []Candidate
	for _, name := range n.ChildNames() {
		if strings.HasPrefix(name, partial) {
			out = append(out, Candidate{Name: name, Desc: n.children[name].kind.label()})
		}
	}
	return out
}

// completeCreate offers cross-tree identities where they make sense:
// registered host NQNs for allowed-host grants, existing subsystem NQNs
// for port exports.
func completeCreate(n *Node, args []string, partial string) []Candidate {
	if len(args) > 0 {
		return nil
	}
	var out []Candidate
	switch n.kind {
	case KindAllowedHosts:
		hosts, err := n.ctx.Root.Hosts()
		if err != nil {
			return nil
		}
		granted, _ := n.subsystem().AllowedHosts()
		for _, h := range hosts {
			if contains(granted, h.NQN()) || !strings.HasPrefix(h.NQN(), partial) {
				continue
			}
			out = append(out, Candidate{Name: h.NQN(), Desc: "registered host"})
		}
	case KindPortSubsystems:
		subs, err := n.ctx.Root.Subsystems()
		if err != nil {
			return nil
		}
		exported, _ := n.port().Subsystems()
		for _, s := range subs {
			if contains(exported, s.NQN()) || !strings.HasPrefix(s.NQN(), partial) {
				continue
			}
			out = append(out, Candidate{Name: s.NQN(), Desc: "configured subsystem"})
		}
	}
	return out
}

// completeAttrs offers group names, then attribute names within a group.
// For set, only writable attributes are offered.
func completeAttrs(writableOnly bool) func(n *Node, args []string, partial string) []Candidate {
	return func(n *Node, args []string, partial string) []Candidate {
		if n.entity == nil {
			return nil
		}
		var out []Candidate
		switch len(args) {
		case 0:
			for _, group := range n.entity.AttrGroups() {
				if strings.HasPrefix(group, partial) {
					out = append(out, Candidate{Name: group, Desc: "attribute group"})
				}
			}
		case 1:
			var attrs []string
			var err error
			if writableOnly {
				attrs, err = n.entity.WritableAttrs(args[0])
			} else {
				attrs, err = n.entity.ListAttrs(args[0])
			}
			if err != nil {
				return nil
			}
			for _, attr := range attrs {
				if !strings.HasPrefix(attr, partial) {
					continue
				}
				desc := describeAttr(n, args[0], attr)
				out = append(out, Candidate{Name: attr, Desc: desc})
			}
		}
		return out
	}
}

func describeAttr(n *Node, group, attr string) string {
	d := nvmet.DescribeAttr(n.entity.Kind(), group, attr)
	if d.Desc == "" {
		return d.Type
	}
	return fmt.Sprintf("(%s) %s", d.Type, d.Desc)
}

// WriteHelp prints aligned candidates to w, one per line.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given names.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
