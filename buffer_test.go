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
	"bytes"
	"context"
	"errors"
	"testing"
)

// flowTemplate builds a small, four-field external template (source and
// destination IPv4 address, source and destination port) registered under
// domainId, for use across this file's tests.
func flowTemplate(t *testing.T, session *Session, domainId uint32) uint16 {
	t.Helper()
	ie := iana()

	tid, err := session.AddExternalTemplate(domainId, 0, &Template{
		Record: &TemplateRecord{
			Fields: []Field{
				NewFieldBuilder(ie[8]).SetLength(4).Complete(),
				NewFieldBuilder(ie[12]).SetLength(4).Complete(),
				NewFieldBuilder(ie[7]).SetLength(2).Complete(),
				NewFieldBuilder(ie[11]).SetLength(2).Complete(),
			},
		},
	})
	if err != nil {
		t.Fatalf("AddExternalTemplate: %v", err)
	}
	return tid
}

func flowRecord(t *testing.T, tid uint16, src, dst string) DataRecord {
	t.Helper()
	ie := iana()

	fields := []Field{
		NewFieldBuilder(ie[8]).SetLength(4).Complete().SetValue(src),
		NewFieldBuilder(ie[12]).SetLength(4).Complete().SetValue(dst),
		NewFieldBuilder(ie[7]).SetLength(2).Complete().SetValue(443),
		NewFieldBuilder(ie[11]).SetLength(2).Complete().SetValue(51234),
	}
	return DataRecord{
		TemplateId: tid,
		FieldCount: uint16(len(fields)),
		Fields:     fields,
	}
}

// TestBufferAppendEmitAnnouncesTemplateOnce exercises the Append/Emit path
// comment 4 of the maintainer review asked for: the first Append against a
// fresh external template id must cause Emit to write a Template Set ahead
// of the Data Set, and subsequent Appends against the same id must not
// repeat the announcement.
func TestBufferAppendEmitAnnouncesTemplateOnce(t *testing.T) {
	session := NewSession(nil)
	tid := flowTemplate(t, session, 1)

	buf := NewBuffer(session, 1)

	if err := buf.Append(nil, tid, flowRecord(t, tid, "10.0.0.1", "10.0.0.2")); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := buf.Append(nil, tid, flowRecord(t, tid, "10.0.0.3", "10.0.0.4")); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	var out bytes.Buffer
	if err := buf.Emit(&out); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	decodeSession := NewSession(nil)
	decodeBuf := NewBuffer(decodeSession, 1)
	msg, _, err := decodeBuf.ReadMessage(context.Background(), bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	if len(msg.Sets) != 2 {
		t.Fatalf("expected 2 sets (1 template, 1 data), got %d", len(msg.Sets))
	}
	if msg.Sets[0].Kind != KindTemplateSet {
		t.Fatalf("expected first set to be a Template Set, got %v", msg.Sets[0].Kind)
	}
	if msg.Sets[1].Kind != KindDataSet {
		t.Fatalf("expected second set to be a Data Set, got %v", msg.Sets[1].Kind)
	}
	ds := msg.Sets[1].Set.(*DataSet)
	if len(ds.Records) != 2 {
		t.Fatalf("expected 2 records in the data set, got %d", len(ds.Records))
	}

	// a second message built from the same Buffer must not re-announce the
	// already-announced template.
	if err := buf.Append(nil, tid, flowRecord(t, tid, "10.0.0.5", "10.0.0.6")); err != nil {
		t.Fatalf("third Append: %v", err)
	}
	out.Reset()
	if err := buf.Emit(&out); err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	msg, _, err = decodeBuf.ReadMessage(context.Background(), bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("second ReadMessage: %v", err)
	}
	if len(msg.Sets) != 1 || msg.Sets[0].Kind != KindDataSet {
		t.Fatalf("expected only a Data Set on re-use of an already-announced template, got %d sets", len(msg.Sets))
	}
}

// TestBufferWithdrawTemplate checks that WithdrawTemplate queues a Field
// Count 0 Template Record ahead of any data, and that the Session no longer
// resolves the withdrawn id afterwards.
func TestBufferWithdrawTemplate(t *testing.T) {
	session := NewSession(nil)
	tid := flowTemplate(t, session, 1)
	buf := NewBuffer(session, 1)

	if err := buf.AnnounceTemplate(1, tid); err != nil {
		t.Fatalf("AnnounceTemplate: %v", err)
	}
	var out bytes.Buffer
	if err := buf.Emit(&out); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out.Reset()

	if err := buf.WithdrawTemplate(1, tid); err != nil {
		t.Fatalf("WithdrawTemplate: %v", err)
	}
	if err := buf.Emit(&out); err != nil {
		t.Fatalf("Emit after withdrawal: %v", err)
	}

	if _, err := session.ExternalTemplate(1, tid); err == nil {
		t.Fatalf("expected ExternalTemplate to fail after withdrawal")
	}

	decodeSession := NewSession(nil)
	decodeBuf := NewBuffer(decodeSession, 1)
	// the collector needs to know the template before it can recognize its
	// withdrawal, so prime it first.
	decodeSession.AddExternalTemplate(1, tid, &Template{Record: &TemplateRecord{
		Fields: []Field{NewFieldBuilder(iana()[8]).SetLength(4).Complete()},
	}})
	msg, _, err := decodeBuf.ReadMessage(context.Background(), bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(msg.Sets) != 1 || msg.Sets[0].Kind != KindTemplateSet {
		t.Fatalf("expected a single Template Set carrying the withdrawal, got %d sets", len(msg.Sets))
	}
	ts := msg.Sets[0].Set.(*TemplateSet)
	if len(ts.Records) != 1 || ts.Records[0].FieldCount != 0 {
		t.Fatalf("expected a Field Count 0 withdrawal record, got %+v", ts.Records)
	}
	if _, err := decodeSession.ExternalTemplate(1, tid); err == nil {
		t.Fatalf("expected withdrawal to remove the template from the decoding session")
	}
}

// TestBufferReadMessageFromBytesPartialBuffer exercises comment 6: feeding a
// truncated message must surface BufferTooSmall, and a complete buffer must
// decode and report how many bytes it consumed.
func TestBufferReadMessageFromBytesPartialBuffer(t *testing.T) {
	session := NewSession(nil)
	tid := flowTemplate(t, session, 7)
	buf := NewBuffer(session, 7)

	if err := buf.Append(nil, tid, flowRecord(t, tid, "192.0.2.1", "192.0.2.2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	var out bytes.Buffer
	if err := buf.Emit(&out); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	full := out.Bytes()

	decodeSession := NewSession(nil)
	decodeBuf := NewBuffer(decodeSession, 7)

	if _, _, _, err := decodeBuf.ReadMessageFromBytes(context.Background(), full[:messageHeaderLength-1]); err == nil {
		t.Fatalf("expected an error when fewer than messageHeaderLength bytes are available")
	} else if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected a BufferTooSmall error, got %v", err)
	}

	trailing := []byte("trailing garbage that belongs to the next message")
	padded := append(append([]byte{}, full...), trailing...)

	msg, records, n, err := decodeBuf.ReadMessageFromBytes(context.Background(), padded)
	if err != nil {
		t.Fatalf("ReadMessageFromBytes: %v", err)
	}
	if n != len(full) {
		t.Fatalf("expected to consume exactly %d bytes, consumed %d", len(full), n)
	}
	if msg.ObservationDomainId != 7 {
		t.Fatalf("unexpected observation domain id %d", msg.ObservationDomainId)
	}
	if len(records) == 0 {
		t.Log("no internal-paired records decoded, which is expected: no Pair was established")
	}
}

// TestBufferFlushPullOverMemoryTransport pairs two Buffers over one shared
// MemoryTransport, one bound as Exporter and one as Collector, confirming
// the spec section 6 transport contract end to end without a socket.
func TestBufferFlushPullOverMemoryTransport(t *testing.T) {
	transport := NewMemoryTransport()

	exportSession := NewSession(nil)
	tid := flowTemplate(t, exportSession, 3)
	exportBuf := NewBuffer(exportSession, 3).BindExporter(transport)

	if err := exportBuf.Append(nil, tid, flowRecord(t, tid, "198.51.100.1", "198.51.100.2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := exportBuf.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if transport.Pending() != 1 {
		t.Fatalf("expected 1 message queued on the transport, got %d", transport.Pending())
	}

	collectSession := NewSession(nil)
	collectBuf := NewBuffer(collectSession, 3).BindCollector(transport)

	msg, _, err := collectBuf.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if msg.ObservationDomainId != 3 {
		t.Fatalf("unexpected observation domain id %d", msg.ObservationDomainId)
	}
	if len(msg.Sets) != 2 {
		t.Fatalf("expected template + data set, got %d sets", len(msg.Sets))
	}

	if _, _, err := collectBuf.Pull(context.Background()); err == nil {
		t.Fatalf("expected a second Pull with nothing queued to fail")
	}
}

// TestBufferBindExporterCollectorMutuallyExclusive checks the spec section 3
// invariant that a Buffer owns exactly one transport endpoint at a time.
func TestBufferBindExporterCollectorMutuallyExclusive(t *testing.T) {
	buf := NewBuffer(NewSession(nil), 0)
	transport := NewMemoryTransport()

	buf.BindExporter(transport)
	if buf.collector != nil {
		t.Fatalf("expected BindExporter to clear any bound Collector")
	}
	buf.BindCollector(transport)
	if buf.exporter != nil {
		t.Fatalf("expected BindCollector to clear any bound Exporter")
	}
}
