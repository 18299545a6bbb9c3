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
	"encoding/json"
	"sync"
	"time"
)

// pairUnmapped and pairDisabled are the sentinel internal template ids used
// in a DomainState's template-pair table (see spec.md's Session/Buffer
// component design). An external template id that has no pair entry is
// implicitly pairUnmapped: it decodes fine on its own (the wire Template
// fully describes the record), but Buffer.TranscodeRecord has nothing to
// convert it into, so callers see the record in its external shape only.
const (
	pairUnmapped uint16 = 0
	pairDisabled uint16 = 1

	// firstAutoInternalId is the highest internal template id auto-assignment
	// starts counting down from; firstAutoExternalId is the lowest external
	// (wire) template id auto-assignment starts counting up from. Both avoid
	// the 0-255 reserved range (RFC 7011 section 3.4.1).
	firstAutoInternalId uint16 = 65535
	firstAutoExternalId uint16 = 256
)

// DomainState carries every piece of state an IPFIX Session tracks per
// Observation Domain: the templates an exporter has announced on the wire
// for that domain, the RFC 5610/path metadata attached to them, the
// internal<->external template-pair table, and the domain's own sequence
// number.
type DomainState struct {
	ObservationDomainId uint32

	// externalTemplates holds every Template currently valid for this
	// domain, keyed by its wire (external) template id, exactly as
	// announced/observed in a Template Set or Options Template Set.
	externalTemplates map[uint16]*Template

	// templateInfo holds the spec section 4.5 TemplateInfo metadata (RFC 5610
	// element descriptions, parent/path linkage) attached to a given
	// external template id, if any.
	templateInfo map[uint16]*TemplateInfo

	// pairs maps an external (wire) template id to the internal template id
	// an application wants records transcoded into. pairUnmapped/pairDisabled
	// are reserved sentinels; see their doc comments.
	//
	// A flat [65536]uint16 array costs 128KiB per domain, which spec.md section 9
	// explicitly allows ("a flat array is an acceptable implementation");
	// real deployments rarely run many thousands of concurrent domains.
	pairs      [65536]uint16
	pairCount  int

	sequenceNumber uint32
}

func newDomainState(domainId uint32) *DomainState {
	return &DomainState{
		ObservationDomainId: domainId,
		externalTemplates:   map[uint16]*Template{},
		templateInfo:        map[uint16]*TemplateInfo{},
	}
}

// SetPair establishes that records arriving under externalTid should be
// transcoded into internalTid's shape. Passing pairDisabled explicitly opts
// a template out of transcoding (its records are only ever available in
// their external shape).
func (ds *DomainState) SetPair(externalTid uint16, internalTid uint16) {
	if ds.pairs[externalTid] == pairUnmapped && internalTid != pairUnmapped {
		ds.pairCount++
	}
	if ds.pairs[externalTid] != pairUnmapped && internalTid == pairUnmapped {
		ds.pairCount--
	}
	ds.pairs[externalTid] = internalTid
}

// Pair returns the internal template id paired with an external template
// id, and whether the record should be made available at all, implementing
// spec.md section 4.3's two-tier default:
//
//   - If the domain has no pair entries set at all (pairCount == 0), every
//     external template implicitly pairs with itself: the wire template
//     fully describes the record, so it is used as its own internal
//     template (full decode, no transcoding needed). This is the default an
//     untouched Session starts in.
//   - As soon as any pair has been set in the domain (pairCount > 0), that
//     domain-wide default stops applying: an external template with no
//     explicit entry is unmapped and its records are dropped from the
//     paired/internal view (though still decodable in their external shape).
func (ds *DomainState) Pair(externalTid uint16) (uint16, bool) {
	if ds.pairCount == 0 {
		return externalTid, true
	}
	v := ds.pairs[externalTid]
	return v, v != pairUnmapped
}

// Session is the stateful object a collector or exporter drives: it owns
// the internal template table (the application's own "this is what I want
// to work with" shape), one DomainState per Observation Domain seen on the
// wire, and the FieldCache backing prototype lookups during decode.
//
// Session deliberately does not know how to read or write octets -- that is
// Buffer's job. Session only answers "what template does tid X mean, in
// which domain, and what should it be transcoded to".
type Session struct {
	mu sync.RWMutex

	fieldCache FieldCache

	internalTemplates map[uint16]*Template
	nextInternalId    uint16
	nextExternalId    uint16

	domains         map[uint32]*DomainState
	currentDomainId uint32

	// onNewTemplate, if set, is invoked whenever a new external template is
	// added to a domain (via AddExternalTemplate), for callers that want to
	// react to newly observed templates (e.g. logging, provisioning a
	// matching internal template on the fly).
	onNewTemplate func(domainId uint32, externalTid uint16, tmpl *Template)

	// destructors holds optional per-internal-template cleanup hooks run
	// when RemoveInternalTemplate is called, mirroring the per-template
	// "context" spec.md's Session describes.
	destructors map[uint16]func()
}

// NewSession creates an empty Session backed by the given FieldCache. If
// fieldCache is nil, a fresh EphemeralFieldCache seeded with the built-in
// IANA registry is used.
func NewSession(fieldCache FieldCache) *Session {
	if fieldCache == nil {
		fieldCache = newIPFIXFieldManager(nil)
	}
	s := &Session{
		fieldCache:        fieldCache,
		internalTemplates: map[uint16]*Template{},
		nextInternalId:    firstAutoInternalId,
		nextExternalId:    firstAutoExternalId,
		domains:           map[uint32]*DomainState{},
		destructors:       map[uint16]func(){},
	}
	return s
}

// FieldCache returns the Session's backing FieldCache.
func (s *Session) FieldCache() FieldCache {
	return s.fieldCache
}

// CurrentDomain returns the Observation Domain id a Buffer not given an
// explicit domain should currently address.
func (s *Session) CurrentDomain() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDomainId
}

// SetCurrentDomain switches the Session's active domain, creating its
// DomainState on first use. Per spec.md section 4.3, sequence numbers are tracked
// per domain and are therefore automatically "saved" (they live in the
// DomainState that stays in the domains map) and "restored" (the same
// DomainState is looked up again) across switches -- there is nothing extra
// to persist here.
func (s *Session) SetCurrentDomain(domainId uint32) *DomainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDomainId = domainId
	return s.domainLocked(domainId)
}

func (s *Session) domainLocked(domainId uint32) *DomainState {
	ds, ok := s.domains[domainId]
	if !ok {
		ds = newDomainState(domainId)
		s.domains[domainId] = ds
	}
	return ds
}

// Domain returns the DomainState for a given Observation Domain, creating
// it if this is the first time the domain is addressed.
func (s *Session) Domain(domainId uint32) *DomainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domainLocked(domainId)
}

// Domains returns the set of Observation Domain ids the Session currently
// tracks state for.
func (s *Session) Domains() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.domains))
	for id := range s.domains {
		ids = append(ids, id)
	}
	return ids
}

// OnNewTemplate installs a callback invoked whenever AddExternalTemplate
// registers a template the domain did not previously have under that id.
func (s *Session) OnNewTemplate(fn func(domainId uint32, externalTid uint16, tmpl *Template)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNewTemplate = fn
}

// AddInternalTemplate registers tmpl as an application-side (internal)
// template and returns the id it was assigned. If tmpl already carries a
// non-zero TemplateId, that id is used (and must be free); otherwise one is
// auto-assigned counting down from 65535, mirroring the spec's guidance
// that internal and external id spaces should not collide by construction.
//
// Once attached here, a Template is considered frozen: further field
// appends must go through Template.Copy first (see TemplateImmutable).
func (s *Session) AddInternalTemplate(tmpl *Template) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tmpl.TemplateMetadata == nil {
		tmpl.TemplateMetadata = &TemplateMetadata{}
	}

	tid := tmpl.TemplateMetadata.TemplateId
	if tid == 0 {
		for {
			if _, taken := s.internalTemplates[s.nextInternalId]; !taken {
				tid = s.nextInternalId
				break
			}
			s.nextInternalId--
			if s.nextInternalId < firstAutoExternalId {
				return 0, TemplateFull(0)
			}
		}
		s.nextInternalId--
	} else if _, taken := s.internalTemplates[tid]; taken {
		return 0, TemplateNotFound(0, tid)
	}

	tmpl.TemplateMetadata.TemplateId = tid
	tmpl.TemplateMetadata.CreationTimestamp = time.Now()
	tmpl.templateCache = s.asCache()
	tmpl.fieldCache = s.fieldCache
	tmpl.freeze()

	s.internalTemplates[tid] = tmpl
	return tid, nil
}

// InternalTemplate looks up a previously registered internal template.
func (s *Session) InternalTemplate(tid uint16) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.internalTemplates[tid]
	if !ok {
		return nil, TemplateNotFound(0, tid)
	}
	return t, nil
}

// RemoveInternalTemplate deregisters an internal template and runs its
// destructor, if one was set via SetDestructor.
func (s *Session) RemoveInternalTemplate(tid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.destructors[tid]; ok {
		d()
		delete(s.destructors, tid)
	}
	delete(s.internalTemplates, tid)
}

// SetDestructor installs a cleanup hook run when the internal template tid
// is later removed via RemoveInternalTemplate.
func (s *Session) SetDestructor(tid uint16, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destructors[tid] = fn
}

// AddExternalTemplate registers a template observed on the wire (e.g. from
// a decoded Template Set) for a given domain and external template id. If
// the id is below firstAutoExternalId (256) -- the range holding the set ids
// with special protocol meaning (0, 1, 2, 3 -- NFv9/IPFIX template and
// options-template set ids), none of which can legally name a Data Set --
// the template is relocated to the next free id at or above
// firstAutoExternalId.
func (s *Session) AddExternalTemplate(domainId uint32, tid uint16, tmpl *Template) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.domainLocked(domainId)

	if tid < firstAutoExternalId {
		for {
			if _, taken := ds.externalTemplates[s.nextExternalId]; !taken {
				tid = s.nextExternalId
				break
			}
			s.nextExternalId++
			if s.nextExternalId == 0 {
				return 0, TemplateFull(tid)
			}
		}
	}

	_, existed := ds.externalTemplates[tid]

	if tmpl.TemplateMetadata == nil {
		tmpl.TemplateMetadata = &TemplateMetadata{}
	}
	tmpl.TemplateMetadata.TemplateId = tid
	tmpl.TemplateMetadata.ObservationDomainId = domainId
	tmpl.TemplateMetadata.CreationTimestamp = time.Now()
	tmpl.fieldCache = s.fieldCache
	tmpl.templateCache = s.asCache()
	tmpl.freeze()

	ds.externalTemplates[tid] = tmpl

	if !existed && s.onNewTemplate != nil {
		s.onNewTemplate(domainId, tid, tmpl)
	}

	return tid, nil
}

// ExternalTemplate looks up the template registered for a domain/external
// template id pair.
func (s *Session) ExternalTemplate(domainId uint32, tid uint16) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.domains[domainId]
	if !ok {
		return nil, TemplateNotFound(domainId, tid)
	}
	t, ok := ds.externalTemplates[tid]
	if !ok {
		return nil, TemplateNotFound(domainId, tid)
	}
	return t, nil
}

// RemoveExternalTemplate withdraws a template for a domain, as happens when
// an exporter sends a Template Withdrawal (a Template Record with a field
// count of zero). Per the decision recorded in SPEC_FULL.md section D, this also
// removes any TemplateInfo attached to the same (domainId,tid) pair.
func (s *Session) RemoveExternalTemplate(domainId uint32, tid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.domains[domainId]
	if !ok {
		return
	}
	delete(ds.externalTemplates, tid)
	delete(ds.templateInfo, tid)
	if v, ok := ds.Pair(tid); ok {
		_ = v
		ds.SetPair(tid, pairUnmapped)
	}
}

// Pair establishes a template-pair mapping: records arriving under
// externalTid in domainId should be transcoded into internalTid's shape by
// Buffer.TranscodeRecord. Passing internalId == pairDisabled explicitly
// opts the pairing out (the record is only ever surfaced in its wire
// shape), per spec section 4.3's closing note that multiple external ids may
// validly point at the same internal id.
func (s *Session) Pair(domainId uint32, externalTid uint16, internalTid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.domainLocked(domainId)
	ds.SetPair(externalTid, internalTid)
}

// ResolveTemplatePair returns the external template and, if one is paired,
// the internal template to transcode its records into. ok is false if the
// domain has pairs but none for externalTid, or if externalTid is paired
// with pairDisabled; in both cases callers should treat the record as
// external-only. While a domain has no pairs at all, the external template
// is returned as its own internal template with ok true.
func (s *Session) ResolveTemplatePair(domainId uint32, externalTid uint16) (external *Template, internal *Template, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, exists := s.domains[domainId]
	if !exists {
		return nil, nil, false, TemplateNotFound(domainId, externalTid)
	}
	external, exists = ds.externalTemplates[externalTid]
	if !exists {
		return nil, nil, false, TemplateNotFound(domainId, externalTid)
	}

	internalTid, paired := ds.Pair(externalTid)
	if !paired || internalTid == pairDisabled {
		return external, nil, false, nil
	}
	if internalTid == externalTid {
		// domain-wide default (no pairs defined yet): the external template
		// describes the record fully, use it as its own internal template.
		return external, external, true, nil
	}

	internal, exists = s.internalTemplates[internalTid]
	if !exists {
		return external, nil, false, TemplateNotFound(0, internalTid)
	}
	return external, internal, true, nil
}

// SequenceNumber returns the current export sequence number for a domain.
func (s *Session) SequenceNumber(domainId uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domainLocked(domainId).sequenceNumber
}

// AdvanceSequence increments a domain's sequence number by delta (the
// number of Data Records placed on the wire in a just-emitted Message) and
// returns the value the Message should have carried, i.e. the value prior
// to this increment (RFC 7011 section 3.1: the sequence number is the total
// record count sent *before* this message).
func (s *Session) AdvanceSequence(domainId uint32, delta uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.domainLocked(domainId)
	prev := ds.sequenceNumber
	ds.sequenceNumber += delta
	return prev
}

// TemplateInfo returns the spec section 4.5 metadata attached to an external
// template, if any was recorded (via SetTemplateInfo, typically driven by
// an RFC 5610 options record or a template-info options record).
func (s *Session) TemplateInfo(domainId uint32, tid uint16) (*TemplateInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.domains[domainId]
	if !ok {
		return nil, false
	}
	ti, ok := ds.templateInfo[tid]
	return ti, ok
}

// SetTemplateInfo attaches/overwrites the TemplateInfo for an external
// template.
func (s *Session) SetTemplateInfo(domainId uint32, tid uint16, info *TemplateInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds := s.domainLocked(domainId)
	ds.templateInfo[tid] = info
}

// asCache adapts the Session's internal+external template tables to the
// TemplateCache interface, so that list types (BasicList is the exception --
// it only needs a FieldCache -- but SubTemplateList/SubTemplateMultiList
// decode through a TemplateCache) can resolve templates the same way
// whether they are driven by a Session or a bare cache in isolation.
func (s *Session) asCache() TemplateCache {
	return (*sessionTemplateCacheView)(s)
}

// sessionTemplateCacheView adapts *Session to the TemplateCache interface
// expected by Field/DataType decoding. It searches the current domain
// first, then falls back to the internal template table, so that a
// Template handed a Session-backed TemplateCache resolves sub-templates
// without its caller needing to know whether a given nested tid names an
// external or an internal template.
type sessionTemplateCacheView Session

func (v *sessionTemplateCacheView) s() *Session { return (*Session)(v) }

func (v *sessionTemplateCacheView) GetAll(ctx context.Context) map[TemplateKey]*Template {
	s := v.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[TemplateKey]*Template{}
	for domainId, ds := range s.domains {
		for tid, t := range ds.externalTemplates {
			out[NewKey(domainId, tid)] = t
		}
	}
	for tid, t := range s.internalTemplates {
		out[NewKey(0, tid)] = t
	}
	return out
}

func (v *sessionTemplateCacheView) Get(ctx context.Context, key TemplateKey) (*Template, error) {
	s := v.s()
	if t, err := s.ExternalTemplate(key.ObservationDomainId, key.TemplateId); err == nil {
		return t, nil
	}
	return s.InternalTemplate(key.TemplateId)
}

func (v *sessionTemplateCacheView) Add(ctx context.Context, key TemplateKey, template *Template) error {
	_, err := v.s().AddExternalTemplate(key.ObservationDomainId, key.TemplateId, template)
	return err
}

func (v *sessionTemplateCacheView) Delete(ctx context.Context, key TemplateKey) error {
	v.s().RemoveExternalTemplate(key.ObservationDomainId, key.TemplateId)
	return nil
}

func (v *sessionTemplateCacheView) Name() string { return "session" }
func (v *sessionTemplateCacheView) Type() string { return "Session" }

func (v *sessionTemplateCacheView) MarshalJSON() ([]byte, error) {
	all := v.GetAll(context.Background())
	s := make(map[string]interface{}, len(all))
	for k, t := range all {
		s[k.String()] = t
	}
	return json.Marshal(s)
}

var _ TemplateCache = &sessionTemplateCacheView{}
