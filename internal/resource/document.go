package resource

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexID is a document id as it appears on the wire: clients send numbers
// or numeric strings interchangeably. The zero value means "no id".
type FlexID struct {
	raw     string
	present bool
}

func NewFlexID(id int64) FlexID {
	return FlexID{raw: strconv.FormatInt(id, 10), present: true}
}

func (f FlexID) Present() bool { return f.present }

// Int64 parses the id; ok is false when absent or non-numeric.
func (f FlexID) Int64() (int64, bool) {
	if !f.present {
		return 0, false
	}
	n, err := strconv.ParseInt(f.raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f FlexID) String() string { return f.raw }

// Equals compares against a path id string, tolerating the number-versus-
// string mismatch the wire allows.
func (f FlexID) Equals(id string) bool {
	if !f.present {
		return false
	}
	if f.raw == id {
		return true
	}
	a, aok := f.Int64()
	b, err := strconv.ParseInt(id, 10, 64)
	return aok && err == nil && a == b
}

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = FlexID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID{raw: s, present: s != ""}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID{raw: n.String(), present: true}
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	if !f.present {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(f.raw, 10, 64); err == nil {
		return []byte(f.raw), nil
	}
	return json.Marshal(f.raw)
}

// Identifier is one relationship linkage. A linkage without an id carries
// the attributes of a resource to be created and then linked.
type Identifier struct {
	Type       string         `json:"type,omitempty"`
	ID         FlexID         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RelationshipData is the `data` member of a relationship: null, a single
// linkage or a list of linkages.
type RelationshipData struct {
	One    *Identifier
	Many   []*Identifier
	IsMany bool
}

func (d *RelationshipData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = RelationshipData{}
		return nil
	}
	if data[0] == '[' {
		var many []*Identifier
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*d = RelationshipData{Many: many, IsMany: true}
		return nil
	}
	var one Identifier
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*d = RelationshipData{One: &one}
	return nil
}

func (d *RelationshipData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	if d.IsMany {
		if d.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.Many)
	}
	if d.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.One)
}

// Relationship wraps one named relationship of a document.
type Relationship struct {
	Data *RelationshipData `json:"data"`
}

// Document is one resource on the wire.
type Document struct {
	Type          string                   `json:"type,omitempty"`
	ID            FlexID                   `json:"id,omitempty"`
	Attributes    map[string]any           `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
}

// Clone returns a deep copy so transforms never mutate caller state.
func (doc *Document) Clone() *Document {
	if doc == nil {
		return nil
	}
	out := &Document{Type: doc.Type, ID: doc.ID}
	if doc.Attributes != nil {
		out.Attributes = make(map[string]any, len(doc.Attributes))
		for k, v := range doc.Attributes {
			out.Attributes[k] = deepCopyValue(v)
		}
	}
	if doc.Relationships != nil {
		out.Relationships = make(map[string]*Relationship, len(doc.Relationships))
		for k, r := range doc.Relationships {
			out.Relationships[k] = r.clone()
		}
	}
	return out
}

func (r *Relationship) clone() *Relationship {
	if r == nil {
		return nil
	}
	out := &Relationship{}
	if r.Data == nil {
		return out
	}
	data := &RelationshipData{IsMany: r.Data.IsMany}
	if r.Data.One != nil {
		data.One = r.Data.One.clone()
	}
	for _, m := range r.Data.Many {
		data.Many = append(data.Many, m.clone())
	}
	out.Data = data
	return out
}

func (i *Identifier) clone() *Identifier {
	if i == nil {
		return nil
	}
	out := &Identifier{Type: i.Type, ID: i.ID}
	if i.Attributes != nil {
		out.Attributes = make(map[string]any, len(i.Attributes))
		for k, v := range i.Attributes {
			out.Attributes[k] = deepCopyValue(v)
		}
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = deepCopyValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = deepCopyValue(inner)
		}
		return out
	default:
		return v
	}
}

// PrimaryData is the envelope's `data` member: one document or many.
type PrimaryData struct {
	One    *Document
	Many   []*Document
	IsMany bool
}

func (p *PrimaryData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = PrimaryData{}
		return nil
	}
	if data[0] == '[' {
		var many []*Document
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*p = PrimaryData{Many: many, IsMany: true}
		return nil
	}
	var one Document
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*p = PrimaryData{One: &one}
	return nil
}

func (p *PrimaryData) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	if p.IsMany {
		if p.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.Many)
	}
	if p.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.One)
}

// Documents returns the documents regardless of shape.
func (p *PrimaryData) Documents() []*Document {
	if p == nil {
		return nil
	}
	if p.IsMany {
		return p.Many
	}
	if p.One == nil {
		return nil
	}
	return []*Document{p.One}
}

// Empty reports whether the envelope carries no usable body.
func (p *PrimaryData) Empty() bool {
	return p == nil || (p.One == nil && len(p.Many) == 0)
}

// Envelope is the request/response body shape.
type Envelope struct {
	Data    *PrimaryData   `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Relogin bool           `json:"relogin,omitempty"`
}

// Payload is a successful router outcome, consumed by the handler glue
// before it becomes an HTTP response.
type Payload struct {
	Status int
	Data   *PrimaryData
	Meta   map[string]any
}
