/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type TemplateMetadata struct {
	Name                string            `json:"name,omitempty"`
	TemplateId          uint16            `json:"template_id,omitempty"`
	ObservationDomainId uint32            `json:"observation_domain_id,omitempty"`
	CreationTimestamp   time.Time         `json:"created"`
	Labels              map[string]string `json:"labels,omitempty"`
	Annotations         map[string]string `json:"annotations,omitempty"`
}

type Template struct {
	*TemplateMetadata `json:"metadata,omitempty"`
	Record            templateRecord

	templateCache TemplateCache
	fieldCache    FieldCache

	// immutable is set once a Template has been handed to a Session (via
	// AddInternalTemplate/AddExternalTemplate); AppendField refuses to
	// mutate a Template past that point, since it may already describe
	// records already placed on the wire.
	immutable bool
}

// TmplImmutable reports whether the Template has been attached to a Session
// and must no longer be mutated in place; Copy it first instead.
func (tr *Template) TmplImmutable() bool {
	return tr.immutable
}

// freeze marks a Template immutable; called by Session once a Template is
// registered as an internal or external template.
func (tr *Template) freeze() {
	tr.immutable = true
}

// Fields returns the Template's fields in wire order (scope fields first
// for an Options Template), regardless of which concrete record type backs
// it. This is the position a field's midx/offset are computed against.
func (tr *Template) Fields() []Field {
	return templateFields(tr)
}

// fieldOffset describes where one field sits within a Template: its
// 0-based position, and its midx -- the count of same-(pen,id) fields
// preceding it, used to disambiguate a template carrying the same
// Information Element more than once (spec.md section 4.2).
type fieldOffset struct {
	Position int
	Pen      uint32
	Id       uint16
	Midx     int
	IsScope  bool
}

// offsets computes each field's position/(pen,id)/midx, in wire order. For
// an Options Template, scope fields are numbered first (positions
// 0..scopeCount-1) and carry IsScope=true.
func (tr *Template) offsets() []fieldOffset {
	fields := tr.Fields()
	scopeCount := 0
	if otr, ok := tr.Record.(*OptionsTemplateRecord); ok {
		scopeCount = len(otr.Scopes)
	}

	seen := map[uint64]int{}
	out := make([]fieldOffset, 0, len(fields))
	for i, f := range fields {
		key := uint64(f.PEN())<<16 | uint64(f.Id())
		midx := seen[key]
		seen[key] = midx + 1
		out = append(out, fieldOffset{
			Position: i,
			Pen:      f.PEN(),
			Id:       f.Id(),
			Midx:     midx,
			IsScope:  i < scopeCount,
		})
	}
	return out
}

// SearchByIdent returns the field at (pen,id,midx), and whether one exists.
func (tr *Template) SearchByIdent(pen uint32, id uint16, midx int) (Field, bool) {
	fields := tr.Fields()
	for _, o := range tr.offsets() {
		if o.Pen == pen && o.Id == id && o.Midx == midx {
			return fields[o.Position], true
		}
	}
	return nil, false
}

// SearchByPosition returns the field at a 0-based wire position.
func (tr *Template) SearchByPosition(position int) (Field, bool) {
	fields := tr.Fields()
	if position < 0 || position >= len(fields) {
		return nil, false
	}
	return fields[position], true
}

// SearchByElement returns every field matching an information element name,
// across all its midx occurrences.
func (tr *Template) SearchByElement(name string) []Field {
	out := make([]Field, 0)
	for _, f := range tr.Fields() {
		if f.Name() == name {
			out = append(out, f)
		}
	}
	return out
}

// SearchByType returns every field whose DataType's Type() matches typeName.
func (tr *Template) SearchByType(typeName string) []Field {
	out := make([]Field, 0)
	for _, f := range tr.Fields() {
		if f.Type() == typeName {
			out = append(out, f)
		}
	}
	return out
}

// AppendField appends a field to a TemplateRecord-backed Template by
// example, refusing to mutate a Template already attached to a Session
// (TmplImmutable). Options Templates must be built up via their own
// Scopes/Options slices instead, since appending does not know which side
// of the scope/option split a new field belongs on.
func (tr *Template) AppendField(f Field) error {
	if tr.immutable {
		return TemplateImmutable(tr.TemplateMetadata.TemplateId)
	}
	switch t := tr.Record.(type) {
	case *TemplateRecord:
		t.Fields = append(t.Fields, f)
		t.FieldCount = uint16(len(t.Fields))
		return nil
	default:
		return SetupError(fmt.Sprintf("cannot append a field to a %T by example", t))
	}
}

// Copy returns a deep, mutable copy of the Template: its own record and
// field prototypes are cloned, and the copy's TmplImmutable starts false
// even if the original was frozen. This is the escape hatch spec.md section 4.2
// intends for "derive a new template from an existing, frozen one".
func (tr *Template) Copy() *Template {
	fields := tr.Fields()
	cloned := make([]Field, 0, len(fields))
	for _, f := range fields {
		cloned = append(cloned, f.Clone())
	}

	meta := *tr.TemplateMetadata
	out := &Template{
		TemplateMetadata: &meta,
		templateCache:    tr.templateCache,
		fieldCache:       tr.fieldCache,
	}

	switch t := tr.Record.(type) {
	case *TemplateRecord:
		out.Record = &TemplateRecord{
			TemplateId:    t.TemplateId,
			FieldCount:    uint16(len(cloned)),
			Fields:        cloned,
			fieldCache:    t.fieldCache,
			templateCache: t.templateCache,
		}
	case *OptionsTemplateRecord:
		scopeCount := len(t.Scopes)
		out.Record = &OptionsTemplateRecord{
			TemplateId:      t.TemplateId,
			FieldCount:      uint16(len(cloned)),
			ScopeFieldCount: uint16(scopeCount),
			Scopes:          cloned[:scopeCount],
			Options:         cloned[scopeCount:],
			fieldCache:      t.fieldCache,
			templateCache:   t.templateCache,
		}
	}
	return out
}

// templateCompareResult classifies how two Templates' field sets relate to
// one another, per spec.md section 4.2's SetCompare.
type templateCompareResult int

const (
	CompareEqual templateCompareResult = iota
	CompareSubset
	CompareSuperset
	CompareCommon
	CompareDisjoint
)

func (r templateCompareResult) String() string {
	switch r {
	case CompareEqual:
		return "Equal"
	case CompareSubset:
		return "Subset"
	case CompareSuperset:
		return "Superset"
	case CompareCommon:
		return "Common"
	default:
		return "Disjoint"
	}
}

// identSet is the set of (pen,id,midx) triples a Template carries, used by
// Equal/CompareWithFlags/SetCompare to compare templates independent of
// field order.
func (tr *Template) identSet() map[fieldIdentity]struct{} {
	out := map[fieldIdentity]struct{}{}
	for _, o := range tr.offsets() {
		out[fieldIdentity{pen: o.Pen, id: o.Id, midx: o.Midx}] = struct{}{}
	}
	return out
}

// Equal reports whether tr and other carry exactly the same (pen,id,midx)
// fields, regardless of order.
func (tr *Template) Equal(other *Template) bool {
	return tr.SetCompare(other) == CompareEqual
}

// CompareWithFlags is an alias for SetCompare kept for callers that prefer
// the spec's original name; flags is currently unused (reserved for a
// future scope-only/options-only comparison mode) and accepted for
// interface stability.
func (tr *Template) CompareWithFlags(other *Template, flags int) templateCompareResult {
	return tr.SetCompare(other)
}

// SetCompare classifies the relationship between tr's and other's field
// sets: Equal (identical sets), Subset (tr ⊆ other), Superset (tr ⊇ other),
// Common (they intersect but neither contains the other), or Disjoint (no
// shared fields).
func (tr *Template) SetCompare(other *Template) templateCompareResult {
	a := tr.identSet()
	b := other.identSet()

	common := 0
	for k := range a {
		if _, ok := b[k]; ok {
			common++
		}
	}

	switch {
	case common == len(a) && common == len(b):
		return CompareEqual
	case common == len(a) && common < len(b):
		return CompareSubset
	case common == len(b) && common < len(a):
		return CompareSuperset
	case common > 0:
		return CompareCommon
	default:
		return CompareDisjoint
	}
}

// TemplateRecord is the interface that TemplateRecord and OptionsTemplateRecord need to implement
type templateRecord interface {
	json.Marshaler
	json.Unmarshaler

	Type() string
	Id() uint16

	Encode(io.Writer) (int, error)

	DecodeData(io.Reader) (int, error)
}

func (tr *Template) WithFieldCache(f FieldCache) *Template {
	tr.fieldCache = f
	return tr
}

func (tr *Template) WithTemplateCache(f TemplateCache) *Template {
	tr.templateCache = f
	return tr
}

var _ json.Marshaler = &Template{}
var _ json.Unmarshaler = &Template{}

func (tr Template) MarshalJSON() ([]byte, error) {
	type itr struct {
		Kind     string            `json:"kind"`
		Metadata *TemplateMetadata `json:"metadata,omitempty"`
		Record   json.RawMessage   `json:"record"`
	}

	ot := itr{}

	switch t := tr.Record.(type) {
	case *TemplateRecord, *OptionsTemplateRecord:
		ot.Kind = t.Type()
		b, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		ot.Record = b
		return json.Marshal(ot)
	default:
		return nil, fmt.Errorf("cannot use %T as template for templates.Template", t)
	}
}

func (t *Template) UnmarshalJSON(in []byte) error {
	type itr struct {
		Kind              string `json:"kind"`
		*TemplateMetadata `json:"metadata,omitempty"`
		Record            json.RawMessage `json:"record"`
	}

	it := itr{}

	err := json.Unmarshal(in, &it)
	if err != nil {
		return nil
	}
	// MarshalJSON writes the record's Type() as kind; the "TemplateRecord" and
	// "OptionsTemplateRecord" spellings are accepted as well.
	switch it.Kind {
	case KindTemplateSet, "TemplateRecord":
		tr := TemplateRecord{
			fieldCache:    t.fieldCache,
			templateCache: t.templateCache,
		}
		err := json.Unmarshal(it.Record, &tr)
		if err != nil {
			return err
		}
		t.Record = &tr
	case KindOptionsTemplateSet, "OptionsTemplateRecord":
		otr := OptionsTemplateRecord{
			fieldCache:    t.fieldCache,
			templateCache: t.templateCache,
		}
		err := json.Unmarshal(it.Record, &otr)
		if err != nil {
			return err
		}
		t.Record = &otr
	default:
		return fmt.Errorf("cannot use %v as a template for unmarshaling", it.Record)
	}
	return nil
}
