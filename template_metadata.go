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
	"context"
	"fmt"
)

// Sentinel values for TemplateInfo.ParentTemplateId, per the metadata
// subsystem's path-walking rules.
const (
	// ParentTopLevel marks a template with no parent at all.
	ParentTopLevel uint16 = 0
	// ParentAnyFirstLevel marks a template that is a first-level child of
	// some top-level template, without naming which one.
	ParentAnyFirstLevel uint16 = 1
	// ParentNotApplicable marks a template that predates the metadata
	// protocol, or otherwise carries no usable parentage information.
	ParentNotApplicable uint16 = 255
)

// BasicListInfo names, by (pen,id), a basicList field and the element type
// its entries carry. A TemplateInfo carries one of these per basicList
// field its template declares, so that a collector observing only the
// metadata can make sense of the list's contents without also observing a
// sample data record.
type BasicListInfo struct {
	ListPEN    uint32 `json:"list_pen,omitempty" yaml:"listPen,omitempty"`
	ListId     uint16 `json:"list_id" yaml:"listId"`
	ContentPEN uint32 `json:"content_pen,omitempty" yaml:"contentPen,omitempty"`
	ContentId  uint16 `json:"content_id" yaml:"contentId"`
}

// TemplateInfo is the descriptive metadata a Session may attach to an
// external template alongside the template itself: a human-readable name
// and description, an application-chosen label, parentage for building a
// template hierarchy, and the basicList element descriptions the template-
// info options record (see templateInfoOptionsTemplate) carries on the
// wire.
//
// Validate reports a TemplateInfo without a Name as a SetupError.
// Session.SetTemplateInfo stores a TemplateInfo as given and does not call
// Validate, and AddExternalTemplate takes no TemplateInfo.
type TemplateInfo struct {
	Name             string          `json:"name" yaml:"name"`
	Description      string          `json:"description,omitempty" yaml:"description,omitempty"`
	ApplicationLabel string          `json:"app_label,omitempty" yaml:"appLabel,omitempty"`
	ParentTemplateId uint16          `json:"parent_tid,omitempty" yaml:"parentTid,omitempty"`
	BasicLists       []BasicListInfo `json:"basic_lists,omitempty" yaml:"basicLists,omitempty"`
}

// Validate checks that a name is present.
func (ti *TemplateInfo) Validate() error {
	if ti.Name == "" {
		return SetupError("template info must carry a non-empty name")
	}
	return nil
}

// TemplatePath returns the chain of template ids from tid up to its root,
// inclusive of tid itself, by repeatedly following ParentTemplateId links
// recorded in each ancestor's TemplateInfo. ParentTopLevel and
// ParentAnyFirstLevel both terminate the walk (the former because there is
// no parent, the latter because the specific parent is not named). The
// walk fails with ErrTemplateNotFound if an ancestor in the chain has no
// registered TemplateInfo.
func (s *Session) TemplatePath(domainId uint32, tid uint16) ([]uint16, error) {
	path := []uint16{tid}
	current := tid
	for {
		info, ok := s.TemplateInfo(domainId, current)
		if !ok {
			return nil, TemplateNotFound(domainId, current)
		}
		parent := info.ParentTemplateId
		if parent == ParentTopLevel || parent == ParentAnyFirstLevel || parent == ParentNotApplicable {
			return path, nil
		}
		if parent == current {
			// self-referential parentage is malformed, not infinite-loop material
			return nil, MalformedMessage(fmt.Sprintf("template %d names itself as its own parent", current))
		}
		path = append(path, parent)
		current = parent
	}
}

// Well-known template ids of the two built-in options templates. The
// Session does not reserve or relocate them: AddInternalTemplate fails for
// an id that is already registered, whichever template holds it.
const (
	elementTypeTemplateId uint16 = 0xfffe
	templateInfoTemplateId uint16 = 0xfffd
)

// elementTypeFieldSpec/templateInfoFieldSpec describe, in wire order, the
// fields of the two built-in options templates the metadata subsystem
// knows how to build, emit, and recognize. Scope fields come first in both.
type metadataFieldSpec struct {
	pen    uint32
	id     uint16
	length uint16
	scope  bool
}

// elementTypeFields implements the RFC 5610 element-type options record:
// (pen, id) scope, followed by type/semantics/units/range/name/
// description.
var elementTypeFields = []metadataFieldSpec{
	{id: 346, scope: true},      // privateEnterpriseNumber
	{id: 303, scope: true},      // informationElementId
	{id: 339},                   // informationElementDataType
	{id: 344},                   // informationElementSemantics
	{id: 345},                   // informationElementUnits
	{id: 342},                   // informationElementRangeBegin
	{id: 343},                   // informationElementRangeEnd
	{id: 341},                   // informationElementName
	{id: 340},                   // informationElementDescription
}

// buildMetadataOptionsTemplate constructs a *Template wrapping an
// OptionsTemplateRecord for the given field specs, resolving each field's
// prototype through fieldCache. It is the shared machinery behind
// NewElementTypeTemplate and NewTemplateInfoTemplate.
func buildMetadataOptionsTemplate(fieldCache FieldCache, templateCache TemplateCache, tid uint16, specs []metadataFieldSpec) (*Template, error) {
	otr := &OptionsTemplateRecord{
		TemplateId:    tid,
		fieldCache:    fieldCache,
		templateCache: templateCache,
	}

	for _, spec := range specs {
		builder, err := fieldCache.GetBuilder(context.Background(), NewFieldKey(spec.pen, spec.id))
		if err != nil {
			return nil, UnknownElement(spec.pen, spec.id)
		}
		length := spec.length
		f := builder.SetLength(length).SetPEN(spec.pen).
			SetFieldManager(fieldCache).SetTemplateManager(templateCache).
			Complete()
		if spec.scope {
			f = f.SetScoped()
			otr.Scopes = append(otr.Scopes, f)
		} else {
			otr.Options = append(otr.Options, f)
		}
	}
	otr.ScopeFieldCount = uint16(len(otr.Scopes))
	otr.FieldCount = uint16(len(otr.Scopes) + len(otr.Options))

	return &Template{
		TemplateMetadata: &TemplateMetadata{
			Name:       "informationElementType",
			TemplateId: tid,
		},
		Record:        otr,
		fieldCache:    fieldCache,
		templateCache: templateCache,
	}, nil
}

// NewElementTypeTemplate builds the RFC 5610 element-type options
// template: scope (privateEnterpriseNumber, informationElementId),
// followed by the type/semantics/units/range/name/description fields.
// Nothing in this package registers it on a Session; a caller adds it with
// Session.AddInternalTemplate.
func NewElementTypeTemplate(fieldCache FieldCache, templateCache TemplateCache) (*Template, error) {
	return buildMetadataOptionsTemplate(fieldCache, templateCache, elementTypeTemplateId, elementTypeFields)
}

// templateInfoFields is the template-info options record layout: tid
// scope, followed by name and description (see NewTemplateInfoTemplate).
var templateInfoFields = []metadataFieldSpec{
	{id: 145, scope: true}, // templateId
	{id: 341},              // informationElementName (reused as the template's own name field)
	{id: 340},              // informationElementDescription (reused for the template's own description)
}

// NewTemplateInfoTemplate builds the template-info options template: tid
// scope, followed by name/description. The appLabel/parentTid/basicList
// fields are carried by TemplateInfo in memory but the base layout here
// sticks to fields this registry is guaranteed to know, keeping emission
// robust even against a trimmed-down InfoModel; a fuller wire layout
// (including appLabel/parentTid/basicList) is a straightforward extension
// once those IEs are registered under enterprise-specific ids.
func NewTemplateInfoTemplate(fieldCache FieldCache, templateCache TemplateCache) (*Template, error) {
	return buildMetadataOptionsTemplate(fieldCache, templateCache, templateInfoTemplateId, templateInfoFields)
}
