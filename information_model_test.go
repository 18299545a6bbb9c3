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

// TestInfoModelSynthesizesPenZeroReverseTwin checks RFC 5103's pen-0 case:
// a reversible IANA element's twin lands under ReversePEN with the same id
// and a "reversed"-prefixed name.
func TestInfoModelSynthesizesPenZeroReverseTwin(t *testing.T) {
	im := NewInfoModel()
	im.Add(InformationElement{Id: 8, Name: "sourceIPv4Address", Constructor: NewIPv4Address})

	twin, ok := im.ByNumber(ReversePEN, 8)
	if !ok {
		t.Fatalf("expected a reverse twin to be synthesized under ReversePEN")
	}
	if twin.Name != "reversedSourceIPv4Address" {
		t.Fatalf("unexpected twin name %q", twin.Name)
	}

	if _, ok := im.ByName("reversedSourceIPv4Address"); !ok {
		t.Fatalf("expected the twin to also be indexed by name")
	}
}

// TestInfoModelSkipsNonReversibleField checks that a field listed in
// NonReversibleFields (e.g. ingressInterface) does not get a twin.
func TestInfoModelSkipsNonReversibleField(t *testing.T) {
	im := NewInfoModel()
	im.Add(InformationElement{Id: 10, Name: "ingressInterface", Constructor: NewUnsigned32})

	if _, ok := im.ByNumber(ReversePEN, 10); ok {
		t.Fatalf("expected no reverse twin for a non-reversible field")
	}
}

// TestInfoModelSynthesizesEnterpriseReverseTwin checks RFC 5103's pen!=0
// case: an enterprise-specific element opted into Reversible gets its twin
// under the *same* pen with reverseTwinBit set on the id, per spec.md
// section 3, rather than moving to ReversePEN.
func TestInfoModelSynthesizesEnterpriseReverseTwin(t *testing.T) {
	im := NewInfoModel()
	reversible := true
	im.Add(InformationElement{
		Id:           100,
		EnterpriseId: 12345,
		Name:         "customCounter",
		Constructor:  NewUnsigned64,
		Reversible:   &reversible,
	})

	twin, ok := im.ByNumber(12345, 100|reverseTwinBit)
	if !ok {
		t.Fatalf("expected a reverse twin under the same pen with reverseTwinBit set")
	}
	if twin.Name != "reversedCustomCounter" {
		t.Fatalf("unexpected twin name %q", twin.Name)
	}
	if _, ok := im.ByNumber(ReversePEN, 100); ok {
		t.Fatalf("enterprise-specific twins must not land under ReversePEN")
	}
}

// TestInfoModelEnterpriseFieldDefaultsNonReversible checks that an
// enterprise-specific element with no explicit Reversible flag gets no twin,
// since there is no built-in reversibility table for pen!=0 namespaces.
func TestInfoModelEnterpriseFieldDefaultsNonReversible(t *testing.T) {
	im := NewInfoModel()
	im.Add(InformationElement{Id: 1, EnterpriseId: 12345, Name: "unflagged", Constructor: NewUnsigned32})

	if _, ok := im.ByNumber(12345, 1|reverseTwinBit); ok {
		t.Fatalf("expected no twin for an enterprise field with no explicit Reversible flag")
	}
}

// TestInfoModelTwinIsNotItselfReversed checks that synthesizing a twin does
// not recurse: the twin's own Id carries reverseTwinBit, so adding it
// directly (as AddArray/NewDefaultInfoModel effectively would when iterating
// a map containing both an element and a stray pre-existing twin) does not
// synthesize a twin-of-a-twin.
func TestInfoModelTwinIsNotItselfReversed(t *testing.T) {
	im := NewInfoModel()
	im.Add(InformationElement{Id: 8 | reverseTwinBit, EnterpriseId: 12345, Name: "alreadyATwin", Constructor: NewIPv4Address})

	if _, ok := im.ByNumber(12345, (8|reverseTwinBit)|reverseTwinBit); ok {
		t.Fatalf("a twin must never itself be re-reversed")
	}
}

// TestInfoModelAlienSynthesizesStableStandIn checks the InfoModel.Alien
// contract: an unknown (pen,id) gets an octetArray-typed placeholder that is
// added to the model, so a second lookup for the same pair returns the exact
// same stand-in rather than minting a new one.
func TestInfoModelAlienSynthesizesStableStandIn(t *testing.T) {
	im := NewInfoModel()

	first := im.Alien(99999, 4242)
	if !first.Alien {
		t.Fatalf("expected the synthesized element to be flagged Alien")
	}
	if first.Name != "_alien_99999_4242" {
		t.Fatalf("unexpected alien name %q", first.Name)
	}

	if !im.Contains(99999, 4242) {
		t.Fatalf("expected Alien to register the stand-in in the model")
	}

	second := im.Alien(99999, 4242)
	if second.Name != first.Name {
		t.Fatalf("expected a stable stand-in across repeated Alien calls")
	}
}

// TestInfoModelSynthesizeReverseTwinsBulk checks the AddArray + deferred
// SynthesizeReverseTwins path NewDefaultInfoModel uses: twins are added only
// after the full bulk insert, so every pen-0 element -- regardless of
// insertion order -- gets a twin.
func TestInfoModelSynthesizeReverseTwinsBulk(t *testing.T) {
	im := NewInfoModel()
	im.AddArray(map[uint16]InformationElement{
		8:  {Id: 8, Name: "sourceIPv4Address", Constructor: NewIPv4Address},
		12: {Id: 12, Name: "destinationIPv4Address", Constructor: NewIPv4Address},
	})
	im.SynthesizeReverseTwins()

	if _, ok := im.ByNumber(ReversePEN, 8); !ok {
		t.Fatalf("expected a twin for sourceIPv4Address")
	}
	if _, ok := im.ByNumber(ReversePEN, 12); !ok {
		t.Fatalf("expected a twin for destinationIPv4Address")
	}
	// twins must not themselves grow twins.
	if _, ok := im.ByNumber(ReversePEN, ReversePEN); ok {
		t.Fatalf("did not expect a twin to have its own twin")
	}
}

// TestReversibleExportedMatchesInternal checks that the exported Reversible
// wrapper agrees with the internal reversible() table it delegates to.
func TestReversibleExportedMatchesInternal(t *testing.T) {
	if !Reversible(8) {
		t.Fatalf("expected sourceIPv4Address (8) to be reversible")
	}
	if Reversible(10) {
		t.Fatalf("expected ingressInterface (10) to be non-reversible")
	}
}
