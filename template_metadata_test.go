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

// TestTemplateInfoValidateRequiresName checks the mandatory-name invariant
// SetTemplateInfo/AddExternalTemplate rely on.
func TestTemplateInfoValidateRequiresName(t *testing.T) {
	ti := &TemplateInfo{}
	if err := ti.Validate(); err == nil {
		t.Fatalf("expected an unnamed TemplateInfo to fail validation")
	}
	ti.Name = "flowRecord"
	if err := ti.Validate(); err != nil {
		t.Fatalf("expected a named TemplateInfo to validate, got %v", err)
	}
}

// TestSessionTemplatePathWalksToRoot checks that TemplatePath follows
// ParentTemplateId links up to a ParentTopLevel ancestor, inclusive of the
// starting tid.
func TestSessionTemplatePathWalksToRoot(t *testing.T) {
	s := NewSession(nil)
	s.SetTemplateInfo(1, 300, &TemplateInfo{Name: "root", ParentTemplateId: ParentTopLevel})
	s.SetTemplateInfo(1, 301, &TemplateInfo{Name: "child", ParentTemplateId: 300})
	s.SetTemplateInfo(1, 302, &TemplateInfo{Name: "grandchild", ParentTemplateId: 301})

	path, err := s.TemplatePath(1, 302)
	if err != nil {
		t.Fatalf("TemplatePath: %v", err)
	}
	want := []uint16{302, 301, 300}
	if len(path) != len(want) {
		t.Fatalf("expected path %v, got %v", want, path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("expected path %v, got %v", want, path)
		}
	}
}

// TestSessionTemplatePathStopsAtAnyFirstLevel checks that
// ParentAnyFirstLevel terminates the walk without requiring a registered
// TemplateInfo for a named parent, since no specific parent is named.
func TestSessionTemplatePathStopsAtAnyFirstLevel(t *testing.T) {
	s := NewSession(nil)
	s.SetTemplateInfo(1, 301, &TemplateInfo{Name: "child", ParentTemplateId: ParentAnyFirstLevel})

	path, err := s.TemplatePath(1, 301)
	if err != nil {
		t.Fatalf("TemplatePath: %v", err)
	}
	if len(path) != 1 || path[0] != 301 {
		t.Fatalf("expected the walk to stop immediately at an any-first-level parent, got %v", path)
	}
}

// TestSessionTemplatePathMissingAncestorFails checks that a parent link
// pointing at a tid with no registered TemplateInfo surfaces
// ErrTemplateNotFound rather than silently truncating the path.
func TestSessionTemplatePathMissingAncestorFails(t *testing.T) {
	s := NewSession(nil)
	s.SetTemplateInfo(1, 301, &TemplateInfo{Name: "child", ParentTemplateId: 9999})

	if _, err := s.TemplatePath(1, 301); err == nil {
		t.Fatalf("expected a missing ancestor to fail TemplatePath")
	}
}

// TestSessionTemplatePathRejectsSelfParent checks the self-referential
// parentage guard: a template naming itself as its own parent is malformed,
// not an infinite loop to be walked forever.
func TestSessionTemplatePathRejectsSelfParent(t *testing.T) {
	s := NewSession(nil)
	s.SetTemplateInfo(1, 301, &TemplateInfo{Name: "confused", ParentTemplateId: 301})

	if _, err := s.TemplatePath(1, 301); err == nil {
		t.Fatalf("expected self-referential parentage to be rejected")
	}
}
