package nvmet

// AttrDesc documents one attribute: its semantic type and a short
// human-readable description.
type AttrDesc struct {
	Type string // "string" or "number"
	Desc string
}

// attrDescriptions is the static per-entity-type documentation table.
// Attributes discovered from the backend but absent here fall back to
// an undocumented string.
var attrDescriptions = map[string]map[string]map[string]AttrDesc{
	"subsystem": {
		"attr": {
			"allow_any_host": {Type: "number", Desc: "Accept connections from any host (1) or allowed hosts only (0)"},
			"serial":         {Type: "string", Desc: "Serial number reported to hosts"},
			"version":        {Type: "string", Desc: "NVMe specification version"},
		},
	},
	"namespace": {
		"device": {
			"path":  {Type: "string", Desc: "Backing device path"},
			"nguid": {Type: "string", Desc: "Namespace globally unique identifier"},
			"uuid":  {Type: "string", Desc: "Namespace UUID"},
		},
	},
	"port": {
		"addr": {
			"trtype":  {Type: "string", Desc: "Transport type (loop, rdma, tcp, fc)"},
			"adrfam":  {Type: "string", Desc: "Address family (ipv4, ipv6, ib, fc)"},
			"traddr":  {Type: "string", Desc: "Transport address"},
			"trsvcid": {Type: "string", Desc: "Transport service identifier"},
			"treq":    {Type: "string", Desc: "Secure channel requirement"},
		},
	},
	"referral": {
		"addr": {
			"trtype":  {Type: "string", Desc: "Transport type of the referred endpoint"},
			"adrfam":  {Type: "string", Desc: "Address family of the referred endpoint"},
			"traddr":  {Type: "string", Desc: "Transport address of the referred endpoint"},
			"trsvcid": {Type: "string", Desc: "Transport service identifier of the referred endpoint"},
		},
	},
}

// DescribeAttr returns the documentation of one attribute of an entity kind.
// Undocumented attributes come back as a bare string type.
func DescribeAttr(kind, group, name string) AttrDesc {
	if groups, ok := attrDescriptions[kind]; ok {
		if attrs, ok := groups[group]; ok {
			if d, ok := attrs[name]; ok {
				return d
			}
		}
	}
	return AttrDesc{Type: "string"}
}

// Kind returns the entity kind name used in the documentation table.
func (e *entity) Kind() string { return e.kind }
