package configstore

import "github.com/psaab/nvmetctl/pkg/nvmet"

// Document is the persisted form of the full target configuration.
// Struct fields are declared alphabetically so the encoded document has
// stable, sorted keys.
type Document struct {
	Hosts      []string       `json:"hosts"`
	Ports      []PortDoc      `json:"ports"`
	Subsystems []SubsystemDoc `json:"subsystems"`
}

// SubsystemDoc is one subsystem with its namespaces and access grants.
type SubsystemDoc struct {
	AllowedHosts []string                     `json:"allowed_hosts"`
	Attributes   map[string]map[string]string `json:"attributes"`
	Namespaces   []NamespaceDoc               `json:"namespaces"`
	NQN          string                       `json:"nqn"`
}

// NamespaceDoc is one namespace with its backing-device settings.
type NamespaceDoc struct {
	Device  map[string]string `json:"device"`
	Enabled bool              `json:"enabled"`
	NSID    uint32            `json:"nsid"`
}

// PortDoc is one port with its transport address, referrals, and exports.
// PortID is a pointer so a document missing the field is distinguishable
// from the valid port ID 0.
type PortDoc struct {
	Addr       map[string]string `json:"addr"`
	Enabled    bool              `json:"enabled"`
	PortID     *int              `json:"portid"`
	Referrals  []ReferralDoc     `json:"referrals"`
	Subsystems []string          `json:"subsystems"`
}

// ReferralDoc is one referral under a port.
type ReferralDoc struct {
	Addr    map[string]string `json:"addr"`
	Enabled bool              `json:"enabled"`
	Name    string            `json:"name"`
}

func dumpSubsystem(sub *nvmet.Subsystem) (SubsystemDoc, error) {
	sd := SubsystemDoc{NQN: sub.NQN()}

	attrs := make(map[string]map[string]string)
	for _, group := range sub.AttrGroups() {
		names, err := sub.WritableAttrs(group)
		if err != nil {
			return sd, err
		}
		attrs[group] = make(map[string]string, len(names))
		for _, name := range names {
			v, err := sub.GetAttr(group, name)
			if err != nil {
				return sd, err
			}
			attrs[group][name] = v
		}
	}
	sd.Attributes = attrs

	allowed, err := sub.AllowedHosts()
	if err != nil {
		return sd, err
	}
	sd.AllowedHosts = allowed
	if sd.AllowedHosts == nil {
		sd.AllowedHosts = []string{}
	}

	nss, err := sub.Namespaces()
	if err != nil {
		return sd, err
	}
	sd.Namespaces = make([]NamespaceDoc, 0, len(nss))
	for _, ns := range nss {
		nd, err := dumpNamespace(ns)
		if err != nil {
			return sd, err
		}
		sd.Namespaces = append(sd.Namespaces, nd)
	}
	return sd, nil
}

func dumpNamespace(ns *nvmet.Namespace) (NamespaceDoc, error) {
	nd := NamespaceDoc{NSID: ns.NSID(), Device: make(map[string]string)}

	names, err := ns.WritableAttrs("device")
	if err != nil {
		return nd, err
	}
	for _, name := range names {
		v, err := ns.GetAttr("device", name)
		if err != nil {
			return nd, err
		}
		nd.Device[name] = v
	}

	nd.Enabled, err = ns.GetEnable()
	return nd, err
}

func dumpPort(p *nvmet.Port) (PortDoc, error) {
	id := p.ID()
	pd := PortDoc{PortID: &id, Addr: make(map[string]string)}

	names, err := p.WritableAttrs("addr")
	if err != nil {
		return pd, err
	}
	for _, name := range names {
		v, err := p.GetAttr("addr", name)
		if err != nil {
			return pd, err
		}
		pd.Addr[name] = v
	}

	nqns, err := p.Subsystems()
	if err != nil {
		return pd, err
	}
	pd.Subsystems = nqns
	if pd.Subsystems == nil {
		pd.Subsystems = []string{}
	}

	refs, err := p.Referrals()
	if err != nil {
		return pd, err
	}
	pd.Referrals = make([]ReferralDoc, 0, len(refs))
	for _, ref := range refs {
		rd, err := dumpReferral(ref)
		if err != nil {
			return pd, err
		}
		pd.Referrals = append(pd.Referrals, rd)
	}

	pd.Enabled, err = p.GetEnable()
	return pd, err
}

func dumpReferral(ref *nvmet.Referral) (ReferralDoc, error) {
	rd := ReferralDoc{Name: ref.Name(), Addr: make(map[string]string)}

	names, err := ref.WritableAttrs("addr")
	if err != nil {
		return rd, err
	}
	for _, name := range names {
		v, err := ref.GetAttr("addr", name)
		if err != nil {
			return rd, err
		}
		rd.Addr[name] = v
	}

	rd.Enabled, err = ref.GetEnable()
	return rd, err
}
