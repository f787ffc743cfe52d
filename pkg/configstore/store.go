// Package configstore persists the NVMe target configuration as a JSON
// document and restores a document back onto the backend, collecting
// per-entity errors instead of aborting on the first failure.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/psaab/nvmetctl/pkg/nvmet"
)

// DefaultSaveFile is where the configuration is persisted when no file is
// given.
const DefaultSaveFile = "/etc/nvmet/config.json"

// Store serializes and restores the configuration of one target root.
type Store struct {
	root *nvmet.Root
	path string
}

// New creates a Store. An empty path selects DefaultSaveFile.
func New(root *nvmet.Root, path string) *Store {
	if path == "" {
		path = DefaultSaveFile
	}
	return &Store{root: root, path: path}
}

// DefaultPath returns the file used when save/restore get no argument.
func (s *Store) DefaultPath() string { return s.path }

// Dump walks the full backend tree into a Document.
func (s *Store) Dump() (*Document, error) {
	doc := &Document{
		Hosts:      []string{},
		Ports:      []PortDoc{},
		Subsystems: []SubsystemDoc{},
	}

	hosts, err := s.root.Hosts()
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		doc.Hosts = append(doc.Hosts, h.NQN())
	}
	sort.Strings(doc.Hosts)

	subs, err := s.root.Subsystems()
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		sd, err := dumpSubsystem(sub)
		if err != nil {
			return nil, err
		}
		doc.Subsystems = append(doc.Subsystems, sd)
	}
	sort.Slice(doc.Subsystems, func(i, j int) bool {
		return doc.Subsystems[i].NQN < doc.Subsystems[j].NQN
	})

	ports, err := s.root.Ports()
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		pd, err := dumpPort(p)
		if err != nil {
			return nil, err
		}
		doc.Ports = append(doc.Ports, pd)
	}

	return doc, nil
}

// Save serializes the configuration to file (the default path when empty).
// The document is written to a temporary file and renamed into place so a
// failed save never leaves a partial document behind.
func (s *Store) Save(file string) error {
	file, err := resolvePath(file, s.path)
	if err != nil {
		return err
	}

	doc, err := s.Dump()
	if err != nil {
		return fmt.Errorf("dump config: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	tmp := file + ".temp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write config %s: %w", file, err)
	}
	if err := writeAndSync(f, data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write config %s: %w", file, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config %s: %w", file, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config %s: %w", file, err)
	}

	slog.Info("configuration saved", "file", file,
		"subsystems", len(doc.Subsystems), "ports", len(doc.Ports), "hosts", len(doc.Hosts))
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if err := unix.Fchmod(int(f.Fd()), 0o600); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return unix.Fsync(int(f.Fd()))
}

// Restore reads the document at file (the default path when empty) and
// applies it to the backend. A missing file is a benign no-op. Per-entity
// failures are collected into the returned list; only read/parse failures
// and a refused overwrite are fatal.
func (s *Store) Restore(file string, clearExisting bool) ([]string, error) {
	file, err := resolvePath(file, s.path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no saved configuration", "file", file)
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", file, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", file, err)
	}
	return s.RestoreDoc(&doc, clearExisting)
}

// RestoreDoc applies an in-memory document. Unless clearExisting is set it
// refuses to restore over a populated target.
func (s *Store) RestoreDoc(doc *Document, clearExisting bool) ([]string, error) {
	if clearExisting {
		if err := s.root.Clear(); err != nil {
			return nil, fmt.Errorf("clear existing config: %w", err)
		}
	} else {
		subs, err := s.root.Subsystems()
		if err != nil {
			return nil, err
		}
		if len(subs) > 0 {
			return nil, fmt.Errorf("subsystems present, not restoring")
		}
	}

	var errs []string
	errFn := func(err error) {
		errs = append(errs, fmt.Sprintf("%v, skipped", err))
	}

	// Hosts first: allowed-host links and port exports validate against
	// existing entities.
	for _, nqn := range doc.Hosts {
		if _, err := nvmet.NewHost(s.root, nqn, nvmet.ModeAny); err != nil {
			errFn(err)
		}
	}
	for i, sd := range doc.Subsystems {
		s.restoreSubsystem(i, sd, errFn)
	}
	for i, pd := range doc.Ports {
		s.restorePort(i, pd, errFn)
	}
	return errs, nil
}

// Clear removes the entire current configuration.
func (s *Store) Clear() error {
	return s.root.Clear()
}

func (s *Store) restoreSubsystem(index int, sd SubsystemDoc, errFn func(error)) {
	if sd.NQN == "" {
		errFn(fmt.Errorf("nqn not defined in subsystem %d", index))
		return
	}
	sub, err := nvmet.NewSubsystem(s.root, sd.NQN, nvmet.ModeAny)
	if err != nil {
		errFn(err)
		return
	}
	for group, attrs := range sd.Attributes {
		for name, value := range attrs {
			if err := sub.SetAttr(group, name, value); err != nil {
				errFn(err)
			}
		}
	}
	for _, nqn := range sd.AllowedHosts {
		if err := sub.AddAllowedHost(nqn); err != nil {
			errFn(err)
		}
	}
	for _, nd := range sd.Namespaces {
		restoreNamespace(sub, nd, errFn)
	}
}

func restoreNamespace(sub *nvmet.Subsystem, nd NamespaceDoc, errFn func(error)) {
	if nd.NSID == 0 {
		errFn(fmt.Errorf("nsid not defined for namespace in subsystem %s", sub.NQN()))
		return
	}
	ns, err := nvmet.NewNamespace(sub, nd.NSID, nvmet.ModeAny)
	if err != nil {
		errFn(err)
		return
	}
	for name, value := range nd.Device {
		if err := ns.SetAttr("device", name, value); err != nil {
			errFn(err)
		}
	}
	if nd.Enabled {
		if err := ns.SetEnable(true); err != nil {
			errFn(fmt.Errorf("enable namespace %d: %w", ns.NSID(), err))
		}
	}
}

func (s *Store) restorePort(index int, pd PortDoc, errFn func(error)) {
	if pd.PortID == nil {
		errFn(fmt.Errorf("portid not defined in port %d", index))
		return
	}
	p, err := nvmet.NewPort(s.root, *pd.PortID, nvmet.ModeAny)
	if err != nil {
		errFn(err)
		return
	}
	for name, value := range pd.Addr {
		if err := p.SetAttr("addr", name, value); err != nil {
			errFn(err)
		}
	}
	for _, nqn := range pd.Subsystems {
		if err := p.AddSubsystem(nqn); err != nil {
			errFn(err)
		}
	}
	for _, rd := range pd.Referrals {
		restoreReferral(p, rd, errFn)
	}
	if pd.Enabled {
		if err := p.SetEnable(true); err != nil {
			errFn(fmt.Errorf("enable port %d: %w", p.ID(), err))
		}
	}
}

func restoreReferral(p *nvmet.Port, rd ReferralDoc, errFn func(error)) {
	if rd.Name == "" {
		errFn(fmt.Errorf("name not defined for referral in port %d", p.ID()))
		return
	}
	ref, err := nvmet.NewReferral(p, rd.Name, nvmet.ModeAny)
	if err != nil {
		errFn(err)
		return
	}
	for name, value := range rd.Addr {
		if err := ref.SetAttr("addr", name, value); err != nil {
			errFn(err)
		}
	}
	if rd.Enabled {
		if err := ref.SetEnable(true); err != nil {
			errFn(fmt.Errorf("enable referral %s: %w", ref.Name(), err))
		}
	}
}

// resolvePath picks file or fallback and expands a leading ~.
func resolvePath(file, fallback string) (string, error) {
	if file == "" {
		file = fallback
	}
	if file == "~" || strings.HasPrefix(file, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", file, err)
		}
		file = filepath.Join(home, strings.TrimPrefix(file, "~"))
	}
	return file, nil
}
