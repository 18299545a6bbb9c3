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

// templateFields returns a Template's fields in wire order, regardless of
// whether it is backed by a TemplateRecord or an OptionsTemplateRecord
// (scope fields first, matching the wire layout of both).
func templateFields(t *Template) []Field {
	switch r := t.Record.(type) {
	case *TemplateRecord:
		return r.Fields
	case *OptionsTemplateRecord:
		fields := make([]Field, 0, len(r.Scopes)+len(r.Options))
		fields = append(fields, r.Scopes...)
		fields = append(fields, r.Options...)
		return fields
	default:
		return nil
	}
}

// fieldIdentity is the (pen,id,midx) triple spec section 4.3/4.4 match fields by:
// an IE's private enterprise number and id, plus the count of the same IE's
// prior occurrences within the same template (its repeat index).
type fieldIdentity struct {
	pen  uint32
	id   uint16
	midx int
}

// indexFieldsByIdentity groups fields by (pen,id), assigning each
// occurrence its midx (0 for the first use of an IE in the slice, 1 for
// the next, and so on), and returns a lookup from fieldIdentity to field.
func indexFieldsByIdentity(fields []Field) map[fieldIdentity]Field {
	seen := map[uint64]int{}
	out := make(map[fieldIdentity]Field, len(fields))
	for _, f := range fields {
		key := uint64(f.PEN())<<16 | uint64(f.Id())
		midx := seen[key]
		seen[key] = midx + 1
		out[fieldIdentity{pen: f.PEN(), id: f.Id(), midx: midx}] = f
	}
	return out
}

// transcodeField builds one output field shaped like templateField (the
// external template's prototype for this position) carrying the value of
// internalField if one was found, or a zero value of the correct wire
// length otherwise -- per spec section 4.4 step 3's "if absent, emit zero bytes of
// the external wire length".
func transcodeField(templateField Field, internalField Field) Field {
	out := templateField.Clone()

	if internalField == nil || internalField.Value() == nil {
		zero := out.Constructor()()
		zero.SetLength(out.Length())
		out.SetValue(zero)
		return out
	}

	value := internalField.Value().Clone()
	value.SetLength(out.Length())
	out.SetValue(value)
	return out
}

// TranscodeRecord converts a decoded Data Record described by internalTemplate
// into the wire shape described by externalTemplate, matching fields by
// (pen,id,midx) as spec section 4.4 describes. Fields the external template
// carries but the internal record does not are zero-filled; fields the
// internal record carries but the external template does not name are
// dropped (they have nowhere to go on the wire).
func TranscodeRecord(externalTemplate *Template, internalTemplate *Template, internal DataRecord) (DataRecord, error) {
	externalFields := templateFields(externalTemplate)
	internalByIdentity := indexFieldsByIdentity(internal.Fields)

	seen := map[uint64]int{}
	out := make([]Field, 0, len(externalFields))
	for _, tf := range externalFields {
		key := uint64(tf.PEN())<<16 | uint64(tf.Id())
		midx := seen[key]
		seen[key] = midx + 1

		src := internalByIdentity[fieldIdentity{pen: tf.PEN(), id: tf.Id(), midx: midx}]
		out = append(out, transcodeField(tf, src))
	}

	return DataRecord{
		TemplateId: externalTemplate.TemplateMetadata.TemplateId,
		FieldCount: uint16(len(out)),
		Fields:     out,
		template:   externalTemplate,
	}, nil
}

// TranscodeRecordToInternal is the inverse direction used on the collector
// read path: given a record decoded in its external (wire) shape, produce
// one shaped like internalTemplate. The matching rule is symmetric to
// TranscodeRecord.
func TranscodeRecordToInternal(internalTemplate *Template, externalTemplate *Template, external DataRecord) (DataRecord, error) {
	internalFields := templateFields(internalTemplate)
	externalByIdentity := indexFieldsByIdentity(external.Fields)

	seen := map[uint64]int{}
	out := make([]Field, 0, len(internalFields))
	for _, tf := range internalFields {
		key := uint64(tf.PEN())<<16 | uint64(tf.Id())
		midx := seen[key]
		seen[key] = midx + 1

		src := externalByIdentity[fieldIdentity{pen: tf.PEN(), id: tf.Id(), midx: midx}]
		out = append(out, transcodeField(tf, src))
	}

	return DataRecord{
		TemplateId: internalTemplate.TemplateMetadata.TemplateId,
		FieldCount: uint16(len(out)),
		Fields:     out,
		template:   internalTemplate,
	}, nil
}
