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

func fieldByName(fields []Field, name string) Field {
	for _, f := range fields {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// TestTranscodeRecordZeroFillsAbsentField checks spec section 4.4 step 3: a
// field the external template names but the internal record does not carry
// is emitted as a zero value of the external wire length, rather than being
// dropped or erroring.
func TestTranscodeRecordZeroFillsAbsentField(t *testing.T) {
	ie := iana()

	internalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 1},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
			},
		},
	}
	externalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 2},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[12]).SetLength(4).Complete(),
			},
		},
	}

	internal := DataRecord{
		TemplateId: 1,
		FieldCount: 1,
		Fields: []Field{
			NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue("10.0.0.1"),
		},
	}

	out, err := TranscodeRecord(externalTemplate, internalTemplate, internal)
	if err != nil {
		t.Fatalf("TranscodeRecord: %v", err)
	}
	if out.TemplateId != 2 {
		t.Fatalf("expected the transcoded record to carry the external template id, got %d", out.TemplateId)
	}
	if len(out.Fields) != 2 {
		t.Fatalf("expected 2 fields shaped like the external template, got %d", len(out.Fields))
	}

	src := fieldByName(out.Fields, "sourceIPv4Address")
	if src == nil || src.Value() == nil || src.Value().Value() != "10.0.0.1" {
		t.Fatalf("expected sourceIPv4Address to carry the internal record's value, got %+v", src)
	}

	dst := fieldByName(out.Fields, "destinationIPv4Address")
	if dst == nil {
		t.Fatalf("expected a destinationIPv4Address field in the output")
	}
	if dst.Value() == nil {
		t.Fatalf("expected the absent field to still carry a zero-valued DataType, not a nil Value")
	}
}

// TestTranscodeRecordDropsFieldNotOnExternalTemplate checks the converse:
// a field the internal record carries but the external template does not
// name is dropped, since it has nowhere to go on the wire.
func TestTranscodeRecordDropsFieldNotOnExternalTemplate(t *testing.T) {
	ie := iana()

	internalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 1},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[12]).SetLength(4).Complete(),
			},
		},
	}
	externalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 2},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
			},
		},
	}

	internal := DataRecord{
		TemplateId: 1,
		FieldCount: 2,
		Fields: []Field{
			NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue("10.0.0.1"),
			NewFieldBuilder(ie[12]).SetLength(4).Complete().SetValue("10.0.0.2"),
		},
	}

	out, err := TranscodeRecord(externalTemplate, internalTemplate, internal)
	if err != nil {
		t.Fatalf("TranscodeRecord: %v", err)
	}
	if len(out.Fields) != 1 {
		t.Fatalf("expected only the field named on the external template to survive, got %d fields", len(out.Fields))
	}
	if out.Fields[0].Name() != "sourceIPv4Address" {
		t.Fatalf("unexpected surviving field %q", out.Fields[0].Name())
	}
}

// TestTranscodeRecordMatchesRepeatedFieldsByIndex checks fieldIdentity's
// midx component: when the same (pen,id) occurs more than once in a
// template, the nth occurrence in the internal record must transcode to the
// nth occurrence in the external template, not the first match found.
func TestTranscodeRecordMatchesRepeatedFieldsByIndex(t *testing.T) {
	ie := iana()

	internalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 1},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
			},
		},
	}
	externalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 2},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
			},
		},
	}

	internal := DataRecord{
		TemplateId: 1,
		FieldCount: 2,
		Fields: []Field{
			NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue("10.0.0.1"),
			NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue("10.0.0.2"),
		},
	}

	out, err := TranscodeRecord(externalTemplate, internalTemplate, internal)
	if err != nil {
		t.Fatalf("TranscodeRecord: %v", err)
	}
	if len(out.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out.Fields))
	}
	if out.Fields[0].Value().Value() != "10.0.0.1" || out.Fields[1].Value().Value() != "10.0.0.2" {
		t.Fatalf("expected repeated fields to transcode in occurrence order, got %v / %v",
			out.Fields[0].Value().Value(), out.Fields[1].Value().Value())
	}
}

// TestTranscodeRecordToInternalIsSymmetric checks that
// TranscodeRecordToInternal mirrors TranscodeRecord's matching rule for the
// collector's read direction: external -> internal instead of internal ->
// external.
func TestTranscodeRecordToInternalIsSymmetric(t *testing.T) {
	ie := iana()

	externalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 2},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[12]).SetLength(4).Complete(),
			},
		},
	}
	internalTemplate := &Template{
		TemplateMetadata: &TemplateMetadata{TemplateId: 1},
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
			},
		},
	}

	external := DataRecord{
		TemplateId: 2,
		FieldCount: 2,
		Fields: []Field{
			NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue("192.0.2.1"),
			NewFieldBuilder(ie[12]).SetLength(4).Complete().SetValue("192.0.2.2"),
		},
	}

	out, err := TranscodeRecordToInternal(internalTemplate, externalTemplate, external)
	if err != nil {
		t.Fatalf("TranscodeRecordToInternal: %v", err)
	}
	if out.TemplateId != 1 {
		t.Fatalf("expected the transcoded record to carry the internal template id, got %d", out.TemplateId)
	}
	if len(out.Fields) != 1 || out.Fields[0].Name() != "sourceIPv4Address" {
		t.Fatalf("expected only sourceIPv4Address to survive, shaped like the internal template, got %+v", out.Fields)
	}
	if out.Fields[0].Value().Value() != "192.0.2.1" {
		t.Fatalf("unexpected transcoded value %v", out.Fields[0].Value().Value())
	}
}
