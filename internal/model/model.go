// Package model holds the data types shared across the object store, the
// file store and the ACL engine: the permission bitset, the ACL records
// that travel on objects and file descriptors, and the generic JSON
// object document itself.
package model

import (
	"encoding/json"
	"strings"
)

// Perm is a 4-bit read/write/execute triple, shifted into position for
// the user, group or everyone slot of a 12-bit permission word.
type Perm uint16

const (
	PermExecute Perm = 0x1
	PermWrite   Perm = 0x2
	PermRead    Perm = 0x4
)

// Shift amounts for the user/group/everyone triples of a permission word.
const (
	ShiftEveryone = 0
	ShiftGroup    = 4
	ShiftUser     = 8
)

// Test reports whether bit is set in perms at the given shift.
func (p Perm) Test(shift uint, bit Perm) bool {
	return (p>>shift)&bit != 0
}

// ACL is the access-control record stored on an object. State is only
// meaningful when the owning object's Type is "state".
type ACL struct {
	Owner      string `json:"owner,omitempty"`
	OwnerGroup string `json:"ownerGroup,omitempty"`
	Object     Perm   `json:"object,omitempty"`
	State      Perm   `json:"state,omitempty"`
}

// DefaultACL is the template assigned to new or ACL-less objects and
// files. It carries a File component that is stripped before being
// copied onto an object's ACL field, and a State component that is
// stripped for non-state objects.
type DefaultACL struct {
	Owner      string `json:"owner,omitempty"`
	OwnerGroup string `json:"ownerGroup,omitempty"`
	Object     Perm   `json:"object,omitempty"`
	State      Perm   `json:"state,omitempty"`
	File       Perm   `json:"file,omitempty"`
}

// ForObject projects the template onto an object's ACL field, dropping
// File always, and dropping State unless the object is a state object.
func (d DefaultACL) ForObject(isState bool) ACL {
	a := ACL{Owner: d.Owner, OwnerGroup: d.OwnerGroup, Object: d.Object}
	if isState {
		a.State = d.State
	}
	return a
}

// FileACL is the access-control record stored on a file descriptor in
// the sidecar document.
type FileACL struct {
	Owner       string `json:"owner,omitempty"`
	OwnerGroup  string `json:"ownerGroup,omitempty"`
	Permissions Perm   `json:"permissions,omitempty"`
}

// FileDescriptor is the sidecar entry for one blob under an object id.
type FileDescriptor struct {
	MimeType   string  `json:"mimeType"`
	Binary     bool    `json:"binary"`
	CreatedAt  int64   `json:"createdAt"`
	ModifiedAt int64   `json:"modifiedAt"`
	ACL        FileACL `json:"acl"`
}

// Object is a generic JSON-shaped document keyed by a dotted hierarchical
// id. The spec treats the payload as arbitrary JSON with a handful of
// conventional top-level fields (_id, type, common, native, acl); modelling
// it as a map keeps that contract literal instead of forcing a rigid
// struct onto caller-supplied documents.
type Object map[string]interface{}

// ID returns the object's _id field, or "" if absent.
func (o Object) ID() string {
	if o == nil {
		return ""
	}
	if v, ok := o["_id"].(string); ok {
		return v
	}
	return ""
}

// SetID assigns the _id field.
func (o Object) SetID(id string) {
	o["_id"] = id
}

// Type returns the object's type field, or "" if absent.
func (o Object) Type() string {
	if v, ok := o["type"].(string); ok {
		return v
	}
	return ""
}

// IsState reports whether this object's type is "state".
func (o Object) IsState() bool {
	return o.Type() == "state"
}

// Common returns the object's common sub-document, creating it lazily
// is NOT done here: callers that need to write should assign it back.
func (o Object) Common() map[string]interface{} {
	if v, ok := o["common"].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// Name returns common.name, or "" if absent.
func (o Object) Name() string {
	common := o.Common()
	if common == nil {
		return ""
	}
	if v, ok := common["name"].(string); ok {
		return v
	}
	return ""
}

// DontDelete reports whether common.dontDelete is truthy.
func (o Object) DontDelete() bool {
	common := o.Common()
	if common == nil {
		return false
	}
	v, _ := common["dontDelete"].(bool)
	return v
}

// NonEdit reports whether common.nonEdit is truthy.
func (o Object) NonEdit() bool {
	common := o.Common()
	if common == nil {
		return false
	}
	v, _ := common["nonEdit"].(bool)
	return v
}

// ACL extracts the object's acl field into a typed ACL, if present.
func (o Object) ACL() (ACL, bool) {
	raw, ok := o["acl"]
	if !ok {
		return ACL{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ACL{}, false
	}
	var a ACL
	if err := json.Unmarshal(b, &a); err != nil {
		return ACL{}, false
	}
	return a, true
}

// SetACL assigns the object's acl field.
func (o Object) SetACL(a ACL) {
	o["acl"] = a
}

// Clone performs a deep structural copy of the object via a JSON
// round-trip, which is sufficient for the JSON-shaped payloads this
// store deals in and keeps the clone free of shared map/slice backing
// arrays with the original.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		// Payload is always JSON-marshalable by construction (it was
		// either decoded from JSON or built from JSON-compatible
		// values); a marshal failure here means caller-supplied data
		// violated that contract.
		return Object{}
	}
	var clone Object
	if err := json.Unmarshal(b, &clone); err != nil {
		return Object{}
	}
	return clone
}

// idCharset lists the characters that may never appear in an object id.
const idCharset = `][*,;'"` + "`" + `<>?`

// ValidID reports whether id is a non-empty string free of the reserved
// character set.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, idCharset)
}

// Subject is the resolved, per-user effective ACL (§3 "Subject ACL").
type Subject struct {
	User   string
	Groups []string
	ACL    SubjectACL
}

// OpSet is the boolean {list, read, write, create, delete} bundle the
// spec evaluates for both the object and file realms, plus the users
// realm used to gate mutation of system.user.*/system.group.* objects.
type OpSet struct {
	List   bool
	Read   bool
	Write  bool
	Create bool
	Delete bool
}

// Or merges another OpSet into this one with boolean OR, matching the
// "aggregated as the union over all groups" rule.
func (o *OpSet) Or(other OpSet) {
	o.List = o.List || other.List
	o.Read = o.Read || other.Read
	o.Write = o.Write || other.Write
	o.Create = o.Create || other.Create
	o.Delete = o.Delete || other.Delete
}

// AllTrue returns an OpSet with every bit set, used for the admin shortcut.
func AllTrue() OpSet {
	return OpSet{List: true, Read: true, Write: true, Create: true, Delete: true}
}

// SubjectACL is the three realms evaluated for every request.
type SubjectACL struct {
	File   OpSet
	Object OpSet
	Users  OpSet
}

// Or merges another SubjectACL into this one with boolean OR.
func (s *SubjectACL) Or(other SubjectACL) {
	s.File.Or(other.File)
	s.Object.Or(other.Object)
	s.Users.Or(other.Users)
}

// Op names one of the five permission verbs the spec evaluates against
// an OpSet (§4.A).
type Op string

const (
	OpList   Op = "list"
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpCreate Op = "create"
	OpDelete Op = "delete"
)

// Allows reports whether the given verb is granted by this OpSet.
func (o OpSet) Allows(op Op) bool {
	switch op {
	case OpList:
		return o.List
	case OpRead:
		return o.Read
	case OpWrite:
		return o.Write
	case OpCreate:
		return o.Create
	case OpDelete:
		return o.Delete
	}
	return false
}
