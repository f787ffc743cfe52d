package configstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psaab/nvmetctl/pkg/nvmet"
)

// newTestStore creates a Store over a fresh in-memory backend, persisting
// to a temp file.
func newTestStore(t *testing.T) (*Store, *nvmet.Root) {
	t.Helper()
	root, err := nvmet.Open(nvmet.NewMemBackend())
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	return New(root, path), root
}

// buildConfig populates the backend with the reference configuration used
// by the round-trip tests.
func buildConfig(t *testing.T, root *nvmet.Root) {
	t.Helper()

	if _, err := nvmet.NewHost(root, "hostnqn", nvmet.ModeCreate); err != nil {
		t.Fatalf("create host: %v", err)
	}

	s, err := nvmet.NewSubsystem(root, "testnqn", nvmet.ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem: %v", err)
	}
	if err := s.AddAllowedHost("hostnqn"); err != nil {
		t.Fatalf("add allowed host: %v", err)
	}

	s2, err := nvmet.NewSubsystem(root, "testnqn2", nvmet.ModeCreate)
	if err != nil {
		t.Fatalf("create subsystem 2: %v", err)
	}
	if err := s2.SetAttr("attr", "allow_any_host", "1"); err != nil {
		t.Fatalf("set allow_any_host: %v", err)
	}

	ns, err := nvmet.NewNamespace(s, 42, nvmet.ModeCreate)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if err := ns.SetAttr("device", "path", "/dev/ram0"); err != nil {
		t.Fatalf("set device path: %v", err)
	}
	if err := ns.SetEnable(true); err != nil {
		t.Fatalf("enable namespace: %v", err)
	}

	p, err := nvmet.NewPort(root, 66, nvmet.ModeCreate)
	if err != nil {
		t.Fatalf("create port: %v", err)
	}
	for name, value := range map[string]string{
		"trtype": "loop", "adrfam": "ipv4", "traddr": "192.168.0.1",
		"treq": "not required", "trsvcid": "1023",
	} {
		if err := p.SetAttr("addr", name, value); err != nil {
			t.Fatalf("set addr %s: %v", name, err)
		}
	}
	if err := p.AddSubsystem("testnqn"); err != nil {
		t.Fatalf("export subsystem: %v", err)
	}
	ref, err := nvmet.NewReferral(p, "peer1", nvmet.ModeCreate)
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if err := ref.SetAttr("addr", "trtype", "tcp"); err != nil {
		t.Fatalf("set referral trtype: %v", err)
	}
	if err := p.SetEnable(true); err != nil {
		t.Fatalf("enable port: %v", err)
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	store, root := newTestStore(t)
	buildConfig(t, root)

	s, err := nvmet.NewSubsystem(root, "testnqn", nvmet.ModeLookup)
	if err != nil {
		t.Fatalf("lookup subsystem: %v", err)
	}
	ns, err := nvmet.NewNamespace(s, 42, nvmet.ModeLookup)
	if err != nil {
		t.Fatalf("lookup namespace: %v", err)
	}
	nguid, err := ns.GetAttr("device", "nguid")
	if err != nil {
		t.Fatalf("get nguid: %v", err)
	}

	if err := store.Save(""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := os.ReadFile(store.DefaultPath())
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if !bytes.HasSuffix(saved, []byte("\n")) {
		t.Error("saved document missing trailing newline")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	subs, _ := root.Subsystems()
	if len(subs) != 0 {
		t.Fatalf("%d subsystems after clear", len(subs))
	}

	errs, err := store.Restore("", false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("Restore errors: %v", errs)
	}

	// A second save must reproduce the document byte for byte; the NGUID
	// was explicit in the document, so it must survive the round trip.
	second := filepath.Join(t.TempDir(), "config2.json")
	if err := store.Save(second); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	resaved, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read resaved config: %v", err)
	}
	if !bytes.Equal(saved, resaved) {
		t.Errorf("round trip not byte-identical:\n--- before ---\n%s\n--- after ---\n%s", saved, resaved)
	}

	ns, err = nvmet.NewNamespace(s, 42, nvmet.ModeLookup)
	if err != nil {
		t.Fatalf("lookup namespace after restore: %v", err)
	}
	if got, _ := ns.GetAttr("device", "nguid"); got != nguid {
		t.Errorf("nguid changed across round trip: %q != %q", got, nguid)
	}
	if enabled, _ := ns.GetEnable(); !enabled {
		t.Error("namespace not enabled after restore")
	}

	s2, err := nvmet.NewSubsystem(root, "testnqn2", nvmet.ModeLookup)
	if err != nil {
		t.Fatalf("lookup subsystem 2: %v", err)
	}
	if got, _ := s.GetAttr("attr", "allow_any_host"); got != "0" {
		t.Errorf("testnqn allow_any_host = %q, want 0", got)
	}
	if got, _ := s2.GetAttr("attr", "allow_any_host"); got != "1" {
		t.Errorf("testnqn2 allow_any_host = %q, want 1", got)
	}
	allowed, _ := s.AllowedHosts()
	if len(allowed) != 1 || allowed[0] != "hostnqn" {
		t.Errorf("allowed hosts after restore: %v", allowed)
	}

	p, err := nvmet.NewPort(root, 66, nvmet.ModeLookup)
	if err != nil {
		t.Fatalf("lookup port: %v", err)
	}
	if got, _ := p.GetAttr("addr", "traddr"); got != "192.168.0.1" {
		t.Errorf("traddr after restore = %q", got)
	}
	if enabled, _ := p.GetEnable(); !enabled {
		t.Error("port not enabled after restore")
	}
	exports, _ := p.Subsystems()
	if len(exports) != 1 || exports[0] != "testnqn" {
		t.Errorf("port exports after restore: %v", exports)
	}
}

func TestRestoreRefusesOverExisting(t *testing.T) {
	store, root := newTestStore(t)
	buildConfig(t, root)

	if err := store.Save(""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Restore("", false); err == nil {
		t.Error("restore over existing subsystems should fail without clear")
	}
	if _, err := store.Restore("", true); err != nil {
		t.Errorf("forced restore: %v", err)
	}
}

func TestRestoreMissingFile(t *testing.T) {
	store, root := newTestStore(t)
	buildConfig(t, root)

	errs, err := store.Restore(filepath.Join(t.TempDir(), "absent.json"), false)
	if err != nil {
		t.Fatalf("Restore of missing file: %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("Restore of missing file returned errors: %v", errs)
	}
	// existing state untouched
	subs, _ := root.Subsystems()
	if len(subs) != 2 {
		t.Errorf("existing config modified: %d subsystems", len(subs))
	}
}

func TestRestoreBadDocument(t *testing.T) {
	store, _ := newTestStore(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Restore(path, true); err == nil {
		t.Error("restore of malformed document should fail")
	}
}

func TestRestorePartialFailure(t *testing.T) {
	store, root := newTestStore(t)

	id := 1
	doc := &Document{
		Subsystems: []SubsystemDoc{
			{NQN: "nqn1"},
			{NQN: ""}, // entity #2 is broken
			{NQN: "nqn3"},
			{NQN: "nqn4"},
			{NQN: "nqn5"},
		},
		Ports: []PortDoc{{PortID: &id}},
	}

	errs, err := store.RestoreDoc(doc, true)
	if err != nil {
		t.Fatalf("RestoreDoc: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0], "subsystem 1") {
		t.Errorf("error does not name the failed entity: %q", errs[0])
	}

	subs, _ := root.Subsystems()
	if len(subs) != 4 {
		t.Errorf("expected 4 subsystems despite one failure, got %d", len(subs))
	}
	ports, _ := root.Ports()
	if len(ports) != 1 {
		t.Errorf("expected 1 port, got %d", len(ports))
	}
}

func TestRestoreSkipsChildrenOfFailedParent(t *testing.T) {
	store, root := newTestStore(t)

	doc := &Document{
		Subsystems: []SubsystemDoc{
			{
				NQN: nvmet.DiscoveryNQN, // reserved, creation fails
				Namespaces: []NamespaceDoc{
					{NSID: 1, Device: map[string]string{"path": "/dev/ram0"}},
				},
			},
		},
	}

	errs, err := store.RestoreDoc(doc, true)
	if err != nil {
		t.Fatalf("RestoreDoc: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for failed parent only, got %d: %v", len(errs), errs)
	}
	subs, _ := root.Subsystems()
	if len(subs) != 0 {
		t.Errorf("failed subsystem present: %d", len(subs))
	}
}

func TestClearEquivalentToEmptyRestore(t *testing.T) {
	store, root := newTestStore(t)
	buildConfig(t, root)

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	subs, _ := root.Subsystems()
	ports, _ := root.Ports()
	hosts, _ := root.Hosts()
	if len(subs)+len(ports)+len(hosts) != 0 {
		t.Errorf("state after clear: %d subsystems, %d ports, %d hosts",
			len(subs), len(ports), len(hosts))
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store, root := newTestStore(t)
	buildConfig(t, root)

	if err := store.Save(""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(store.DefaultPath() + ".temp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind after save")
	}

	// A save into a nonexistent directory fails without touching the
	// destination.
	bad := filepath.Join(t.TempDir(), "no", "such", "dir", "config.json")
	if err := store.Save(bad); err == nil {
		t.Error("save into missing directory should fail")
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("destination created despite failed save")
	}
}
