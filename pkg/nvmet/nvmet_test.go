package nvmet

import (
	"errors"
	"strings"
	"testing"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := Open(NewMemBackend())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return root
}

func countSubsystems(t *testing.T, r *Root) int {
	t.Helper()
	subs, err := r.Subsystems()
	if err != nil {
		t.Fatalf("Subsystems: %v", err)
	}
	return len(subs)
}

func TestSubsystemModes(t *testing.T) {
	root := newTestRoot(t)

	s1, err := NewSubsystem(root, "testnqn1", ModeCreate)
	if err != nil {
		t.Fatalf("create testnqn1: %v", err)
	}
	if got := countSubsystems(t, root); got != 1 {
		t.Errorf("expected 1 subsystem, got %d", got)
	}

	// any mode creates when absent
	if _, err := NewSubsystem(root, "testnqn2", ModeAny); err != nil {
		t.Fatalf("any testnqn2: %v", err)
	}
	if got := countSubsystems(t, root); got != 2 {
		t.Errorf("expected 2 subsystems, got %d", got)
	}

	// empty NQN generates one
	s3, err := NewSubsystem(root, "", ModeCreate)
	if err != nil {
		t.Fatalf("create generated: %v", err)
	}
	if !strings.HasPrefix(s3.NQN(), "nqn.2014-08.org.nvmexpress:NVMf:uuid:") {
		t.Errorf("generated NQN %q has wrong prefix", s3.NQN())
	}
	if got := countSubsystems(t, root); got != 3 {
		t.Errorf("expected 3 subsystems, got %d", got)
	}

	// duplicate create fails
	if _, err := NewSubsystem(root, "testnqn1", ModeCreate); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create: got %v, want ErrExists", err)
	}

	// any mode looks up when present
	s, err := NewSubsystem(root, "testnqn1", ModeAny)
	if err != nil {
		t.Fatalf("any testnqn1: %v", err)
	}
	if s.Path() != s1.Path() {
		t.Errorf("any returned %s, want %s", s.Path(), s1.Path())
	}
	if got := countSubsystems(t, root); got != 3 {
		t.Errorf("any mode created a subsystem: got %d", got)
	}

	// lookup mode
	if _, err := NewSubsystem(root, "testnqn2", ModeLookup); err != nil {
		t.Errorf("lookup testnqn2: %v", err)
	}
	if _, err := NewSubsystem(root, "absent", ModeLookup); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup absent: got %v, want ErrNotFound", err)
	}
	if _, err := NewSubsystem(root, "", ModeLookup); err == nil {
		t.Error("lookup without NQN should fail")
	}

	subs, err := root.Subsystems()
	if err != nil {
		t.Fatalf("Subsystems: %v", err)
	}
	for _, s := range subs {
		if err := s.Delete(); err != nil {
			t.Fatalf("delete %s: %v", s.NQN(), err)
		}
	}
	if got := countSubsystems(t, root); got != 0 {
		t.Errorf("expected 0 subsystems after delete, got %d", got)
	}
}

func TestInvalidIdentity(t *testing.T) {
	root := newTestRoot(t)

	cases := []string{
		"/",
		"bad/nqn",
		strings.Repeat("a", 257),
		DiscoveryNQN,
	}
	for _, nqn := range cases {
		if _, err := NewSubsystem(root, nqn, ModeCreate); err == nil {
			t.Errorf("NQN %q accepted, want error", nqn)
		}
	}

	if _, err := NewPort(root, 1<<17, ModeCreate); err == nil {
		t.Error("port ID 1<<17 accepted, want error")
	}
}

func TestNamespaceLowestFree(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}

	if _, err := NewNamespace(s, 3, ModeCreate); err != nil {
		t.Fatalf("create nsid 3: %v", err)
	}
	if _, err := NewNamespace(s, 2, ModeAny); err != nil {
		t.Fatalf("any nsid 2: %v", err)
	}

	n3, err := NewNamespace(s, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create auto nsid: %v", err)
	}
	if n3.NSID() != 1 {
		t.Errorf("auto nsid = %d, want 1", n3.NSID())
	}
	n4, err := NewNamespace(s, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create auto nsid: %v", err)
	}
	if n4.NSID() != 4 {
		t.Errorf("auto nsid = %d, want 4", n4.NSID())
	}

	if _, err := NewNamespace(s, 1, ModeCreate); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate nsid: got %v, want ErrExists", err)
	}
	if _, err := NewNamespace(s, 2, ModeLookup); err != nil {
		t.Errorf("lookup nsid 2: %v", err)
	}
	if _, err := NewNamespace(s, 0, ModeLookup); err == nil {
		t.Error("lookup without nsid should fail")
	}

	nss, err := s.Namespaces()
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	if len(nss) != 4 {
		t.Fatalf("expected 4 namespaces, got %d", len(nss))
	}
	for i, want := range []uint32{1, 2, 3, 4} {
		if nss[i].NSID() != want {
			t.Errorf("namespace %d: nsid %d, want %d", i, nss[i].NSID(), want)
		}
	}
}

func TestNamespaceEnable(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}
	n, err := NewNamespace(s, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	if enabled, _ := n.GetEnable(); enabled {
		t.Error("new namespace should be disabled")
	}
	attrs, err := n.ListAttrs("device")
	if err != nil {
		t.Fatalf("ListAttrs: %v", err)
	}
	if !contains(attrs, "path") {
		t.Errorf("device group %v missing path", attrs)
	}

	// no backing device yet
	if err := n.SetEnable(true); err == nil {
		t.Error("enable without device path should fail")
	}

	if err := n.SetAttr("device", "path", "/dev/ram0"); err != nil {
		t.Fatalf("set device path: %v", err)
	}
	if err := n.SetEnable(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if enabled, _ := n.GetEnable(); !enabled {
		t.Error("namespace should be enabled")
	}

	// attrs freeze while enabled
	if err := n.SetAttr("device", "path", "/dev/ram1"); err == nil {
		t.Error("device path writable while enabled")
	}
	if got, _ := n.GetAttr("device", "path"); got != "/dev/ram0" {
		t.Errorf("device path changed to %q", got)
	}

	if err := n.SetEnable(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := n.SetEnable(false); err != nil {
		t.Fatalf("double disable: %v", err)
	}

	// delete while enabled
	if err := n.SetEnable(true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if err := n.Delete(); err != nil {
		t.Fatalf("delete enabled namespace: %v", err)
	}
}

func TestRecursiveDelete(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}
	if _, err := NewNamespace(s, 0, ModeCreate); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := NewNamespace(s, 0, ModeCreate); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := NewHost(root, "hostnqn", ModeCreate); err != nil {
		t.Fatalf("create host: %v", err)
	}
	if err := s.AddAllowedHost("hostnqn"); err != nil {
		t.Fatalf("add allowed host: %v", err)
	}

	if err := s.Delete(); err != nil {
		t.Fatalf("delete subsystem: %v", err)
	}
	if got := countSubsystems(t, root); got != 0 {
		t.Errorf("expected 0 subsystems, got %d", got)
	}
	if _, err := NewNamespace(s, 1, ModeLookup); !errors.Is(err, ErrNotFound) {
		t.Errorf("namespace survived cascade: %v", err)
	}
}

func TestPortModes(t *testing.T) {
	root := newTestRoot(t)

	p1, err := NewPort(root, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create port 0: %v", err)
	}
	if _, err := NewPort(root, 1, ModeAny); err != nil {
		t.Fatalf("any port 1: %v", err)
	}

	p3, err := NewPort(root, -1, ModeCreate)
	if err != nil {
		t.Fatalf("create auto port: %v", err)
	}
	if p3.ID() != 2 {
		t.Errorf("auto port ID = %d, want 2", p3.ID())
	}

	if _, err := NewPort(root, 0, ModeCreate); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate port: got %v, want ErrExists", err)
	}
	p, err := NewPort(root, 0, ModeAny)
	if err != nil {
		t.Fatalf("any port 0: %v", err)
	}
	if p.Path() != p1.Path() {
		t.Errorf("any returned %s, want %s", p.Path(), p1.Path())
	}
	if _, err := NewPort(root, -1, ModeLookup); err == nil {
		t.Error("lookup without port ID should fail")
	}

	ports, err := root.Ports()
	if err != nil {
		t.Fatalf("Ports: %v", err)
	}
	if len(ports) != 3 {
		t.Fatalf("expected 3 ports, got %d", len(ports))
	}
	for _, p := range ports {
		if err := p.Delete(); err != nil {
			t.Fatalf("delete port %d: %v", p.ID(), err)
		}
	}
}

func TestPortEnable(t *testing.T) {
	root := newTestRoot(t)
	p, err := NewPort(root, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create port: %v", err)
	}

	if enabled, _ := p.GetEnable(); enabled {
		t.Error("new port should be disabled")
	}

	// no transport type yet
	if err := p.SetEnable(true); err == nil {
		t.Error("enable without trtype should fail")
	}

	addr := map[string]string{
		"trtype":  "loop",
		"adrfam":  "ipv4",
		"traddr":  "192.168.0.1",
		"treq":    "not required",
		"trsvcid": "1023",
	}
	for name, value := range addr {
		if err := p.SetAttr("addr", name, value); err != nil {
			t.Fatalf("set addr %s: %v", name, err)
		}
	}
	if err := p.SetEnable(true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// transport attrs freeze while enabled
	if err := p.SetAttr("addr", "trtype", "rdma"); err == nil {
		t.Error("trtype writable while enabled")
	}

	if err := p.SetEnable(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	for name, want := range addr {
		if got, _ := p.GetAttr("addr", name); got != want {
			t.Errorf("addr %s = %q, want %q", name, got, want)
		}
	}
}

func TestReferral(t *testing.T) {
	root := newTestRoot(t)
	p, err := NewPort(root, 0, ModeCreate)
	if err != nil {
		t.Fatalf("create port: %v", err)
	}

	ref, err := NewReferral(p, "peer1", ModeCreate)
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if _, err := NewReferral(p, "peer1", ModeCreate); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate referral: got %v, want ErrExists", err)
	}
	if err := ref.SetAttr("addr", "trtype", "tcp"); err != nil {
		t.Fatalf("set referral trtype: %v", err)
	}
	if err := ref.SetEnable(true); err != nil {
		t.Fatalf("enable referral: %v", err)
	}

	refs, err := p.Referrals()
	if err != nil {
		t.Fatalf("Referrals: %v", err)
	}
	if len(refs) != 1 || refs[0].Name() != "peer1" {
		t.Errorf("Referrals = %v, want [peer1]", refs)
	}

	// cascade through the port
	if err := p.Delete(); err != nil {
		t.Fatalf("delete port with referral: %v", err)
	}
}

func TestAllowedHosts(t *testing.T) {
	root := newTestRoot(t)
	if _, err := NewHost(root, "hostnqn", ModeCreate); err != nil {
		t.Fatalf("create host: %v", err)
	}
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}

	if err := s.AddAllowedHost("hostnqn"); err != nil {
		t.Fatalf("add allowed host: %v", err)
	}
	if err := s.AddAllowedHost("hostnqn"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate allowed host: got %v, want ErrExists", err)
	}
	if err := s.AddAllowedHost("invalid"); err == nil {
		t.Error("allowed host without host entity should fail")
	}

	allowed, err := s.AllowedHosts()
	if err != nil {
		t.Fatalf("AllowedHosts: %v", err)
	}
	if len(allowed) != 1 || allowed[0] != "hostnqn" {
		t.Errorf("AllowedHosts = %v, want [hostnqn]", allowed)
	}

	if err := s.RemoveAllowedHost("hostnqn"); err != nil {
		t.Fatalf("remove allowed host: %v", err)
	}
	if err := s.RemoveAllowedHost("hostnqn"); !errors.Is(err, ErrNotFound) {
		t.Errorf("duplicate removal: got %v, want ErrNotFound", err)
	}
	if err := s.RemoveAllowedHost("foobar"); !errors.Is(err, ErrNotFound) {
		t.Errorf("invalid removal: got %v, want ErrNotFound", err)
	}
}

func TestHostDeleteDropsGrants(t *testing.T) {
	root := newTestRoot(t)
	h, err := NewHost(root, "hostnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create host: %v", err)
	}
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}
	if err := s.AddAllowedHost("hostnqn"); err != nil {
		t.Fatalf("add allowed host: %v", err)
	}

	if err := h.Delete(); err != nil {
		t.Fatalf("delete host: %v", err)
	}
	allowed, err := s.AllowedHosts()
	if err != nil {
		t.Fatalf("AllowedHosts: %v", err)
	}
	if len(allowed) != 0 {
		t.Errorf("grant survived host delete: %v", allowed)
	}
}

func TestReadOnlyAttr(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}

	before, err := s.GetAttr("attr", "version")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if err := s.SetAttr("attr", "version", "2.0"); !errors.Is(err, ErrNotWritable) {
		t.Errorf("set read-only attr: got %v, want ErrNotWritable", err)
	}
	after, _ := s.GetAttr("attr", "version")
	if after != before {
		t.Errorf("read-only attr changed from %q to %q", before, after)
	}

	writable, err := s.WritableAttrs("attr")
	if err != nil {
		t.Fatalf("WritableAttrs: %v", err)
	}
	if contains(writable, "version") {
		t.Error("version listed as writable")
	}
	all, _ := s.ListAttrs("attr")
	if !contains(all, "version") {
		t.Error("version missing from full attr list")
	}
}

func TestClear(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}
	if _, err := NewNamespace(s, 0, ModeCreate); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := NewPort(root, 0, ModeCreate); err != nil {
		t.Fatalf("create port: %v", err)
	}
	if _, err := NewHost(root, "hostnqn", ModeCreate); err != nil {
		t.Fatalf("create host: %v", err)
	}

	if err := root.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := countSubsystems(t, root); got != 0 {
		t.Errorf("%d subsystems after clear", got)
	}
	ports, _ := root.Ports()
	if len(ports) != 0 {
		t.Errorf("%d ports after clear", len(ports))
	}
	hosts, _ := root.Hosts()
	if len(hosts) != 0 {
		t.Errorf("%d hosts after clear", len(hosts))
	}
}

func TestNumericAttrValue(t *testing.T) {
	root := newTestRoot(t)
	s, err := NewSubsystem(root, "testnqn", ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}

	if err := s.SetAttr("attr", "allow_any_host", "banana"); !errors.Is(err, ErrBadValue) {
		t.Errorf("set non-numeric value: got %v, want ErrBadValue", err)
	}
	got, err := s.GetAttr("attr", "allow_any_host")
	if err != nil {
		t.Fatalf("get allow_any_host: %v", err)
	}
	if got != "0" {
		t.Errorf("allow_any_host = %q after rejected write, want 0", got)
	}

	if err := s.SetAttr("attr", "allow_any_host", "1"); err != nil {
		t.Fatalf("set numeric value: %v", err)
	}
	if got, _ := s.GetAttr("attr", "allow_any_host"); got != "1" {
		t.Errorf("allow_any_host = %q, want 1", got)
	}
}

func TestDescribeAttr(t *testing.T) {
	d := DescribeAttr("port", "addr", "trtype")
	if d.Type != "string" || d.Desc == "" {
		t.Errorf("trtype description = %+v", d)
	}
	d = DescribeAttr("subsystem", "attr", "allow_any_host")
	if d.Type != "number" {
		t.Errorf("allow_any_host type = %q, want number", d.Type)
	}
	// fallback for undocumented attributes
	d = DescribeAttr("port", "addr", "mystery")
	if d.Type != "string" || d.Desc != "" {
		t.Errorf("fallback description = %+v", d)
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
