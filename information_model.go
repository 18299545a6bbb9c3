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
	"fmt"
	"sync"
)

// InfoModel is a registry of InformationElement prototypes, indexed both by
// name and by (PEN,id). It is the bag that FieldCache implementations draw
// their prototypes from: an InfoModel on its own does not know how to build
// Fields, it only knows which InformationElements exist.
//
// The zero value is not usable; use NewInfoModel.
type InfoModel struct {
	mu sync.RWMutex

	byNumber map[FieldKey]InformationElement
	byName   map[string]InformationElement
}

// NewInfoModel creates an empty InfoModel.
func NewInfoModel() *InfoModel {
	return &InfoModel{
		byNumber: map[FieldKey]InformationElement{},
		byName:   map[string]InformationElement{},
	}
}

// NewDefaultInfoModel creates an InfoModel pre-populated with the built-in
// IANA registry (see IANA()) plus its RFC 5103 reverse twins.
func NewDefaultInfoModel() *InfoModel {
	im := NewInfoModel()
	im.AddArray(iana())
	im.SynthesizeReverseTwins()
	return im
}

// reverseTwinBit is the id bit spec.md section 3 reserves to mark a
// synthesized reverse twin of an enterprise-specific (pen != 0) IE. Pen-0
// twins instead move to ReversePEN and keep their original id.
const reverseTwinBit uint16 = 0x4000

// Add inserts or overwrites a single InformationElement in both indices,
// then synthesizes its RFC 5103 reverse twin if the element is flagged (or,
// for pen-0 elements, known) reversible.
func (im *InfoModel) Add(ie InformationElement) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.add(ie)
}

func (im *InfoModel) add(ie InformationElement) {
	im.byNumber[NewFieldKey(ie.EnterpriseId, ie.Id)] = ie
	if ie.Name != "" {
		im.byName[ie.Name] = ie
	}
	im.synthesizeTwinLocked(ie)
}

// synthesizeTwinLocked adds ie's reverse twin, if any, per spec.md section 3:
// a reversible pen-0 element's twin lives under ReversePEN with the same id;
// a reversible pen!=0 element's twin lives under the same pen with
// reverseTwinBit set on its id. Twins are never themselves reversible, so
// this cannot recurse. Callers must hold im.mu.
func (im *InfoModel) synthesizeTwinLocked(ie InformationElement) {
	if ie.EnterpriseId == ReversePEN || ie.Id&reverseTwinBit != 0 {
		// ie is itself a twin
		return
	}

	var isReversible bool
	switch {
	case ie.Reversible != nil:
		isReversible = *ie.Reversible
	case ie.EnterpriseId == 0:
		isReversible = reversible(ie.Id)
	default:
		// enterprise-specific elements have no built-in reversibility
		// table; they must opt in explicitly via the Reversible flag.
		isReversible = false
	}
	if !isReversible {
		return
	}

	twinPen, twinId := ie.EnterpriseId, ie.Id
	if ie.EnterpriseId == 0 {
		twinPen = ReversePEN
	} else {
		twinId = ie.Id | reverseTwinBit
	}

	twinKey := NewFieldKey(twinPen, twinId)
	if _, exists := im.byNumber[twinKey]; exists {
		return
	}

	twin := ie.Clone()
	twin.EnterpriseId = twinPen
	twin.Id = twinId
	twin.Name = reversedName(ie.Name)

	im.byNumber[twinKey] = twin
	if twin.Name != "" {
		im.byName[twin.Name] = twin
	}
}

// AddArray bulk-inserts a map of InformationElements keyed by id, as produced
// by ReadCSV/MustReadCSV. The PEN is assumed to be 0 (IANA namespace) unless
// the element itself already carries a non-zero EnterpriseId.
func (im *InfoModel) AddArray(elements map[uint16]InformationElement) {
	im.mu.Lock()
	defer im.mu.Unlock()
	for _, ie := range elements {
		im.add(ie)
	}
}

// ByNumber looks up an InformationElement by its (PEN,id) pair.
func (im *InfoModel) ByNumber(pen uint32, id uint16) (InformationElement, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	ie, ok := im.byNumber[NewFieldKey(pen, id)]
	return ie, ok
}

// ByName looks up an InformationElement by its textual name. Names are only
// unique within a single enterprise's namespace in principle, but this
// registry -- like the IANA one it is seeded from -- assumes global
// uniqueness, which holds in practice for every registry this module loads.
func (im *InfoModel) ByName(name string) (InformationElement, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	ie, ok := im.byName[name]
	return ie, ok
}

// Contains reports whether the given (PEN,id) pair is present.
func (im *InfoModel) Contains(pen uint32, id uint16) bool {
	_, ok := im.ByNumber(pen, id)
	return ok
}

// Count returns the number of distinct (PEN,id) entries in the model.
func (im *InfoModel) Count() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.byNumber)
}

// Iterate calls fn for every InformationElement currently in the model. fn
// returning false stops iteration early.
func (im *InfoModel) Iterate(fn func(InformationElement) bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	for _, ie := range im.byNumber {
		if !fn(ie) {
			return
		}
	}
}

// Alien synthesizes a placeholder InformationElement for a (pen,id) this
// model does not know about, marks it Alien, and adds it to the model so
// that subsequent lookups for the same pair are stable. This is the hook
// Session/Buffer call when decoding a template field whose element the
// active FieldCache has never seen -- rather than failing outright, the
// decoder learns an octetArray-typed stand-in, matching the teacher's
// "UnassignedFieldBuilder" behavior but surfaced at the InfoModel level.
func (im *InfoModel) Alien(pen uint32, id uint16) InformationElement {
	if ie, ok := im.ByNumber(pen, id); ok {
		return ie
	}
	ie := InformationElement{
		Id:           id,
		EnterpriseId: pen,
		Name:         fmt.Sprintf("_alien_%d_%d", pen, id),
		Constructor:  LookupConstructor("octetArray"),
		Alien:        true,
	}
	im.Add(ie)
	return ie
}

// SynthesizeReverseTwins walks the current model and, for every pen-0
// element that is reversible under RFC 5103 and does not already have a
// twin registered under ReversePEN, adds one. This is what lets a FieldCache
// resolve a field carrying PEN 29305 to a sensible prototype without every
// registry needing to enumerate "reversedFoo" by hand.
func (im *InfoModel) SynthesizeReverseTwins() {
	im.mu.Lock()
	defer im.mu.Unlock()

	// snapshot first, since we mutate byNumber/byName while iterating
	originals := make([]InformationElement, 0, len(im.byNumber))
	for _, ie := range im.byNumber {
		originals = append(originals, ie)
	}

	for _, ie := range originals {
		if ie.EnterpriseId != 0 {
			continue
		}
		if ie.Reversible != nil && !*ie.Reversible {
			continue
		}
		if ie.Reversible == nil && !reversible(ie.Id) {
			continue
		}
		twinKey := NewFieldKey(ReversePEN, ie.Id)
		if _, exists := im.byNumber[twinKey]; exists {
			continue
		}
		twin := ie.Clone()
		twin.EnterpriseId = ReversePEN
		twin.Name = reversedName(ie.Name)
		im.add(twin)
	}
}

// IANA returns the built-in, embedded IANA information element registry.
// It is the package-level bootstrap bag that newIPFIXFieldManager and
// NewDefaultInfoModel seed themselves from.
func IANA() map[uint16]InformationElement {
	return iana()
}

// Reversible reports whether a pen-0 field id carries RFC 5103 biflow
// semantics, i.e., is legal to re-export under ReversePEN. It is the
// exported counterpart of rfc5103.go's unexported reversible(), used by
// template/list/record decoding wherever a raw field id (rather than a
// full InformationElement) is all that is on hand yet.
func Reversible(fieldId uint16) bool {
	return reversible(fieldId)
}
