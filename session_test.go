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

import "testing"

func simpleTemplate(fieldId uint16) *Template {
	ie := iana()
	return &Template{
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[fieldId]).SetLength(4).Complete(),
			},
		},
	}
}

// TestSessionResolveTemplatePairDefaultsToSelf checks the two-tier default
// spec.md section 4.3 describes: until any Pair is established in a domain,
// every external template implicitly pairs with itself.
func TestSessionResolveTemplatePairDefaultsToSelf(t *testing.T) {
	s := NewSession(nil)
	tid, err := s.AddExternalTemplate(1, 0, simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}

	external, internal, ok, err := s.ResolveTemplatePair(1, tid)
	if err != nil {
		t.Fatalf("ResolveTemplatePair: %v", err)
	}
	if !ok {
		t.Fatalf("expected an untouched domain to default-pair every template with itself")
	}
	if internal != external {
		t.Fatalf("expected the domain-wide default to use the external template as its own internal template")
	}
}

// TestSessionPairOptsOutUnlistedTemplates checks the other half of the
// two-tier default: once any Pair call has been made in a domain, a
// template with no explicit pair entry stops being resolvable, even though
// it is still a perfectly valid external template.
func TestSessionPairOptsOutUnlistedTemplates(t *testing.T) {
	s := NewSession(nil)
	pairedTid, err := s.AddExternalTemplate(1, 0, simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	unlistedTid, err := s.AddExternalTemplate(1, 0, simpleTemplate(12))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}

	internalTid, err := s.AddInternalTemplate(simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddInternalTemplate: %v", err)
	}
	s.Pair(1, pairedTid, internalTid)

	if _, _, ok, err := s.ResolveTemplatePair(1, unlistedTid); err != nil {
		t.Fatalf("ResolveTemplatePair: %v", err)
	} else if ok {
		t.Fatalf("expected the unlisted template to no longer resolve once any pair exists in the domain")
	}

	external, internal, ok, err := s.ResolveTemplatePair(1, pairedTid)
	if err != nil {
		t.Fatalf("ResolveTemplatePair: %v", err)
	}
	if !ok || internal == nil || external == nil {
		t.Fatalf("expected the explicitly paired template to still resolve")
	}
	if internal.TemplateMetadata.TemplateId != internalTid {
		t.Fatalf("expected pairing to resolve to internal template %d, got %d", internalTid, internal.TemplateMetadata.TemplateId)
	}
}

// TestSessionAddExternalTemplateAutoAssignsId checks that requesting id 0
// (or any id below firstAutoExternalId) causes the Session to relocate the
// template to the next free auto-assigned id, counting up from
// firstAutoExternalId, per RFC 7011 section 3.4.1's reserved id range.
func TestSessionAddExternalTemplateAutoAssignsId(t *testing.T) {
	s := NewSession(nil)
	tid, err := s.AddExternalTemplate(1, 0, simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	if tid < firstAutoExternalId {
		t.Fatalf("expected an auto-assigned id >= %d, got %d", firstAutoExternalId, tid)
	}

	second, err := s.AddExternalTemplate(1, 0, simpleTemplate(12))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	if second == tid {
		t.Fatalf("expected the second auto-assigned id to differ from the first")
	}
}

// TestSessionRemoveExternalTemplateClearsPair checks that withdrawing a
// template also clears any pair entry pointing at it, so a stale internal
// id cannot be resolved against a template that no longer exists.
func TestSessionRemoveExternalTemplateClearsPair(t *testing.T) {
	s := NewSession(nil)
	tid, err := s.AddExternalTemplate(1, 0, simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	internalTid, err := s.AddInternalTemplate(simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddInternalTemplate: %v", err)
	}
	s.Pair(1, tid, internalTid)

	s.RemoveExternalTemplate(1, tid)

	if _, err := s.ExternalTemplate(1, tid); err == nil {
		t.Fatalf("expected the template to be gone after removal")
	}
	if _, _, ok, err := s.ResolveTemplatePair(1, tid); err == nil || ok {
		t.Fatalf("expected a removed template to no longer resolve a pair")
	}
}

// TestSessionOnNewTemplateFiresOnce checks that the OnNewTemplate callback
// fires exactly once per newly observed (domain,tid) pair, and not again
// when the same template is re-added (e.g. re-announced on the wire).
func TestSessionOnNewTemplateFiresOnce(t *testing.T) {
	s := NewSession(nil)

	var calls int
	var lastTid uint16
	s.OnNewTemplate(func(domainId uint32, tid uint16, tmpl *Template) {
		calls++
		lastTid = tid
	})

	tid, err := s.AddExternalTemplate(1, 500, simpleTemplate(8))
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 callback invocation, got %d", calls)
	}
	if lastTid != tid {
		t.Fatalf("expected the callback to observe tid %d, got %d", tid, lastTid)
	}

	if _, err := s.AddExternalTemplate(1, 500, simpleTemplate(8)); err != nil {
		t.Fatalf("AddExternalTemplate (re-add): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected re-adding an existing (domain,tid) to not fire the callback again, got %d calls", calls)
	}
}

// TestSessionAdvanceSequence checks that AdvanceSequence returns the
// sequence number a just-built message should carry (the domain's prior
// total), not the value after the increment, per RFC 7011 section 3.1.
func TestSessionAdvanceSequence(t *testing.T) {
	s := NewSession(nil)

	first := s.AdvanceSequence(9, 5)
	if first != 0 {
		t.Fatalf("expected the first message in a fresh domain to carry sequence 0, got %d", first)
	}
	second := s.AdvanceSequence(9, 3)
	if second != 5 {
		t.Fatalf("expected the second message to carry the prior total of 5, got %d", second)
	}
	if got := s.SequenceNumber(9); got != 8 {
		t.Fatalf("expected the domain's running total to be 8, got %d", got)
	}
}
