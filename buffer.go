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
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// maxMessageLength is the largest an IPFIX Message's Length field can
// announce (RFC 7011 section 3.1, a 16 bit octet count covering the message
// header itself).
const maxMessageLength = 65535

// messageHeaderLength is the fixed size of an IPFIX Message header (version,
// length, export time, sequence number, observation domain id).
const messageHeaderLength = 16

// setHeaderLength is the fixed size of a Set header (set id, length).
const setHeaderLength = 4

// Buffer is the stateful object a collector or exporter drives to turn
// appended application-shaped (internal) Data Records into well-formed
// IPFIX Messages, and well-formed IPFIX Messages back into application-shaped
// records, per spec.md section 4.4. It owns a Session (template/sequence state)
// and accumulates one Message's worth of Sets at a time.
//
// A Buffer can hold one bound transport endpoint (see BindExporter and
// BindCollector, driven by Flush and Pull); callers may instead pass an
// io.Writer to Emit and an io.Reader to ReadMessage, so the same Buffer logic
// serves TCP, UDP, the in-memory transport, and the IPFIX File Format reader alike.
type Buffer struct {
	session *Session

	domainId uint32

	// exporter and collector are the mutually exclusive transport endpoints
	// of spec.md section 3; Flush drives exporter, Pull drives collector.
	// Bound through BindExporter/BindCollector, or left nil for callers that
	// drive Emit/ReadMessage against an explicit io.Writer/io.Reader instead.
	exporter  Exporter
	collector Collector

	// autoNextMessage, when true, makes Append silently finalize the current
	// message and start a new one when a record would not fit, instead of
	// surfacing EndOfMessage to the caller.
	autoNextMessage bool

	// autoElementInsert gates RFC 5610 auto-ingest on the read path; see
	// DataRecord.WithAutoElementInsert.
	autoElementInsert bool

	exportTime func() uint32

	pending []pendingSet

	// pendingTemplateSets holds Template/Options Template Sets queued by
	// AnnounceTemplate/WithdrawTemplate, to be written ahead of any Data
	// Sets in the next Emit, per spec.md section 5's ordering guarantee.
	pendingTemplateSets []Set

	// announced tracks, per (domain,external template id), whether this
	// Buffer has already queued a Template Set for it -- so Append only
	// announces a template the first time it sees it, per spec.md section 4.3 step 4.
	announced map[uint64]bool

	recordsSinceEmit uint32
}

// announceKey combines a domain id and external template id into the key
// Buffer.announced is indexed by.
func announceKey(domainId uint32, tid uint16) uint64 {
	return uint64(domainId)<<16 | uint64(tid)
}

// pendingSet accumulates the records destined for one external template id
// within the message currently being built.
type pendingSet struct {
	templateId uint16
	records    []DataRecord
	length     int // octets the records alone would occupy on the wire
}

// NewBuffer creates a Buffer bound to session, addressing the given
// Observation Domain by default.
func NewBuffer(session *Session, domainId uint32) *Buffer {
	if session == nil {
		session = NewSession(nil)
	}
	return &Buffer{
		session:  session,
		domainId: domainId,
		announced: map[uint64]bool{},
		exportTime: func() uint32 {
			return uint32(time.Now().Unix())
		},
	}
}

// Session returns the Buffer's backing Session.
func (b *Buffer) Session() *Session {
	return b.session
}

// WithAutoNextMessage toggles automatic message splitting: when enabled,
// Append never returns EndOfMessage, instead emitting the accumulated
// message to the io.Writer passed to Append and starting a fresh one
// transparently. It is off for a Buffer returned by NewBuffer.
func (b *Buffer) WithAutoNextMessage(enabled bool) *Buffer {
	b.autoNextMessage = enabled
	return b
}

// WithAutoElementInsert toggles RFC 5610 auto-ingest for every record this
// Buffer decodes on the read path.
func (b *Buffer) WithAutoElementInsert(enabled bool) *Buffer {
	b.autoElementInsert = enabled
	return b
}

// WithExportTimeFunc overrides how Emit determines a message's Export Time;
// tests use this to produce deterministic output.
func (b *Buffer) WithExportTimeFunc(fn func() uint32) *Buffer {
	b.exportTime = fn
	return b
}

// Domain switches the Observation Domain subsequent Append/Emit calls
// address, without touching any already-pending records (callers should
// Emit before switching domains if they want a clean split).
func (b *Buffer) Domain(domainId uint32) *Buffer {
	b.domainId = domainId
	return b
}

// recordWireLength is the number of octets a Data Record's fields occupy on
// the wire, matching DataRecord.Length (header bytes live on the Set/Message
// framing, not the record).
func recordWireLength(dr DataRecord) int {
	l := 0
	for _, f := range dr.Fields {
		l += int(f.Length())
	}
	return l
}

// currentLength is the total octet count the message under construction
// would occupy, including the 16-byte message header and one 4-byte set
// header per distinct template id with at least one pending record.
func (b *Buffer) currentLength() int {
	total := messageHeaderLength
	for _, s := range b.pendingTemplateSets {
		total += int(s.SetHeader.Length)
	}
	for _, ps := range b.pending {
		if len(ps.records) == 0 {
			continue
		}
		total += setHeaderLength + ps.length
	}
	return total
}

// Append transcodes internal (the record in the application's own shape, as
// produced against a template registered via Session.AddInternalTemplate)
// into externalTemplateId's wire shape and adds it to the message currently
// being assembled, fit-checking against the 65535-octet message cap per
// spec.md section 4.4 step 2.
//
// If the record does not fit and WithAutoNextMessage was not set, Append
// returns EndOfMessage without adding the record (a first-use Template Set
// for externalTemplateId may already have been queued by then); the caller
// is expected to Emit and retry. With auto-next-message enabled, Append
// instead emits the pending message via w and starts a new one transparently.
func (b *Buffer) Append(w io.Writer, externalTemplateId uint16, internal DataRecord) error {
	externalTemplate, err := b.session.ExternalTemplate(b.domainId, externalTemplateId)
	if err != nil {
		return err
	}

	if err := b.AnnounceTemplate(b.domainId, externalTemplateId); err != nil {
		return err
	}

	internalTemplate := internal.template
	var rec DataRecord
	if internalTemplate != nil {
		rec, err = TranscodeRecord(externalTemplate, internalTemplate, internal)
		if err != nil {
			return err
		}
	} else {
		// no internal shape attached to the record; assume it is already
		// shaped like the external template (e.g. a caller building records
		// directly against the wire template).
		rec = internal
		rec.TemplateId = externalTemplateId
	}

	recLen := recordWireLength(rec)

	idx := -1
	for i, ps := range b.pending {
		if ps.templateId == externalTemplateId {
			idx = i
			break
		}
	}

	extra := recLen
	if idx == -1 {
		extra += setHeaderLength
	}

	if b.currentLength()+extra > maxMessageLength {
		if !b.autoNextMessage {
			return EndOfMessage()
		}
		if err := b.Emit(w); err != nil {
			return err
		}
		BufferMessagesSplit.Inc()
		idx = -1
	}

	if idx == -1 {
		b.pending = append(b.pending, pendingSet{templateId: externalTemplateId})
		idx = len(b.pending) - 1
	}
	b.pending[idx].records = append(b.pending[idx].records, rec)
	b.pending[idx].length += recLen

	BufferRecordsAppended.WithLabelValues(fmt.Sprintf("%d", externalTemplateId)).Inc()
	b.recordsSinceEmit++

	return nil
}

// AnnounceTemplate queues a Template Set (or Options Template Set, depending
// on how domainId/tid is shaped) describing the external template for
// inclusion ahead of any Data Sets in the next Emit, per spec.md section 4.3
// step 4 and section 5's set-ordering guarantee. It is a no-op once a given
// (domain,tid) pair has already been announced through this Buffer. Append
// calls this automatically; exporters that want the announcement to go out
// in its own message, ahead of the first Append, may call it directly.
func (b *Buffer) AnnounceTemplate(domainId uint32, tid uint16) error {
	key := announceKey(domainId, tid)
	if b.announced[key] {
		return nil
	}
	tmpl, err := b.session.ExternalTemplate(domainId, tid)
	if err != nil {
		return err
	}
	set, err := templateAnnounceSet(tmpl)
	if err != nil {
		return err
	}
	b.pendingTemplateSets = append(b.pendingTemplateSets, set)
	b.announced[key] = true
	return nil
}

// WithdrawTemplate queues a Template Withdrawal (a Field Count 0 Template
// Record, RFC 7011 section 8.1) for tid in domainId, and removes the
// template from the Session so that it can no longer be used to Append
// further records. Per spec.md section 8's withdrawal-emission scenario, the
// withdrawal set is written on the next Emit, ahead of any data sets.
func (b *Buffer) WithdrawTemplate(domainId uint32, tid uint16) error {
	tmpl, err := b.session.ExternalTemplate(domainId, tid)
	if err != nil {
		return err
	}
	b.pendingTemplateSets = append(b.pendingTemplateSets, templateWithdrawalSet(tmpl, tid))
	delete(b.announced, announceKey(domainId, tid))
	b.session.RemoveExternalTemplate(domainId, tid)
	BufferTemplatesWithdrawn.Inc()
	return nil
}

// templateAnnounceSet wraps tmpl's own record encoding (Template Record or
// Options Template Record, whichever it was registered as) in a Set ready
// to place ahead of the data it describes.
func templateAnnounceSet(tmpl *Template) (Set, error) {
	var encoded bytes.Buffer
	n, err := tmpl.Record.Encode(&encoded)
	if err != nil {
		return Set{}, err
	}
	switch rec := tmpl.Record.(type) {
	case *OptionsTemplateRecord:
		return Set{
			SetHeader: SetHeader{Id: IPFIXOptions, Length: uint16(setHeaderLength + n)},
			Kind:      KindOptionsTemplateSet,
			Set:       &OptionsTemplateSet{Records: []OptionsTemplateRecord{*rec}},
		}, nil
	case *TemplateRecord:
		return Set{
			SetHeader: SetHeader{Id: IPFIX, Length: uint16(setHeaderLength + n)},
			Kind:      KindTemplateSet,
			Set:       &TemplateSet{Records: []TemplateRecord{*rec}},
		}, nil
	default:
		return Set{}, fmt.Errorf("cannot announce a template backed by %T", rec)
	}
}

// templateWithdrawalSet builds the Field Count 0 withdrawal form of tid's
// template; its shape (Template vs. Options Template) tracks the template
// being withdrawn so a collector that only tracks one Set Id can still
// recognize the withdrawal.
func templateWithdrawalSet(tmpl *Template, tid uint16) Set {
	switch tmpl.Record.(type) {
	case *OptionsTemplateRecord:
		return Set{
			SetHeader: SetHeader{Id: IPFIXOptions, Length: setHeaderLength + 4},
			Kind:      KindOptionsTemplateSet,
			Set:       &OptionsTemplateSet{Records: []OptionsTemplateRecord{{TemplateId: tid, FieldCount: 0}}},
		}
	default:
		return Set{
			SetHeader: SetHeader{Id: IPFIX, Length: setHeaderLength + 4},
			Kind:      KindTemplateSet,
			Set:       &TemplateSet{Records: []TemplateRecord{{TemplateId: tid, FieldCount: 0}}},
		}
	}
}

// Pending reports whether Append has accumulated any records, or
// AnnounceTemplate/WithdrawTemplate have queued any template sets, not yet
// Emit-ed.
func (b *Buffer) Pending() bool {
	if len(b.pendingTemplateSets) > 0 {
		return true
	}
	for _, ps := range b.pending {
		if len(ps.records) > 0 {
			return true
		}
	}
	return false
}

// Emit finalizes the message currently under construction -- computing set
// and message lengths, advancing the domain's sequence number by the number
// of records emitted, and writing the result to w -- then resets the Buffer
// so a fresh message can be assembled. Emitting an empty Buffer is a no-op.
// Any Template/Options Template Sets queued by AnnounceTemplate or
// WithdrawTemplate are written first, per spec.md section 5's ordering
// guarantee that template announcements precede the data sets that rely on
// (or, for a withdrawal, no longer rely on) them.
func (b *Buffer) Emit(w io.Writer) error {
	if !b.Pending() {
		return nil
	}

	sets := make([]Set, 0, len(b.pendingTemplateSets)+len(b.pending))
	sets = append(sets, b.pendingTemplateSets...)
	for _, ps := range b.pending {
		if len(ps.records) == 0 {
			continue
		}
		length := uint16(setHeaderLength + ps.length)
		sets = append(sets, Set{
			SetHeader: SetHeader{Id: ps.templateId, Length: length},
			Kind:      KindDataSet,
			Set:       &DataSet{Records: ps.records},
		})
	}

	msgLength := messageHeaderLength
	for _, s := range sets {
		msgLength += int(s.SetHeader.Length)
	}

	seq := b.session.AdvanceSequence(b.domainId, b.recordsSinceEmit)

	msg := Message{
		Version:             10,
		Length:              uint16(msgLength),
		ExportTime:          b.exportTime(),
		SequenceNumber:      seq,
		ObservationDomainId: b.domainId,
		Sets:                sets,
	}

	if _, err := msg.Encode(w); err != nil {
		return IoError(err)
	}

	BufferMessagesEmitted.Inc()

	b.pending = nil
	b.pendingTemplateSets = nil
	b.recordsSinceEmit = 0
	return nil
}

// Flush emits the current message, if any, to the Exporter bound via
// BindExporter. It is the exporter-handle counterpart to Emit for callers
// that drive a Buffer through spec.md section 6's transport interface
// rather than a raw io.Writer.
func (b *Buffer) Flush() error {
	if b.exporter == nil {
		return SetupError("Flush called on a Buffer with no Exporter bound")
	}
	if !b.Pending() {
		return nil
	}
	var out bytes.Buffer
	if err := b.Emit(&out); err != nil {
		return err
	}
	return b.exporter.WriteMessage(out.Bytes())
}

// ReadMessage decodes one complete IPFIX Message from r, folding its Sets
// into the Buffer's Session: Template/Options Template Sets register or
// withdraw external templates (invoking Session.OnNewTemplate for newly
// seen ones), and Data Sets are matched to their external template, then --
// if a template pair has been established via Session.Pair -- transcoded
// into the paired internal shape. Data Sets naming a template the Session
// does not know about are skipped, matching spec.md section 4.4's guidance that a
// collector cannot decode records whose template it has not seen yet.
//
// ReadMessage returns the decoded Message (in its external/wire shape) and,
// separately, the records successfully resolved to an internal template,
// keyed by the external template id they arrived under.
func (b *Buffer) ReadMessage(ctx context.Context, r io.Reader) (msg *Message, internalByExternal map[uint16][]DataRecord, err error) {
	start := time.Now()
	defer func() {
		DurationMicroseconds.Observe(float64(time.Since(start).Nanoseconds()) / 1000)
		PacketsTotal.Inc()
		if err != nil {
			ErrorsTotal.Inc()
		}
	}()

	msg = &Message{}
	if _, err = msg.Decode(r); err != nil {
		return nil, nil, err
	}

	body := make([]byte, int(msg.Length)-messageHeaderLength)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return msg, nil, IoError(err)
		}
	}
	buf := bytes.NewBuffer(body)

	internalByExternal = map[uint16][]DataRecord{}

	for buf.Len() > 0 {
		h := SetHeader{}
		if _, err := h.Decode(buf); err != nil {
			return msg, internalByExternal, MalformedMessage(err.Error())
		}
		offset := int(h.Length) - setHeaderLength
		if offset < 0 || offset > buf.Len() {
			return msg, internalByExternal, MalformedMessage(fmt.Sprintf("set %d announces length %d beyond message bounds", h.Id, h.Length))
		}
		body := bytes.NewBuffer(buf.Next(offset))

		switch {
		case h.Id == IPFIX:
			ts := &TemplateSet{fieldCache: b.session.FieldCache(), templateCache: b.session.asCache()}
			if _, err := ts.Decode(body); err != nil && err != io.EOF {
				return msg, internalByExternal, err
			}
			for _, tr := range ts.Records {
				tr := tr
				if tr.FieldCount == 0 {
					b.session.RemoveExternalTemplate(msg.ObservationDomainId, tr.TemplateId)
					BufferTemplatesWithdrawn.Inc()
					continue
				}
				_, err := b.session.AddExternalTemplate(msg.ObservationDomainId, tr.TemplateId, &Template{Record: &tr})
				if err != nil {
					return msg, internalByExternal, err
				}
			}
			msg.Sets = append(msg.Sets, Set{SetHeader: h, Kind: KindTemplateSet, Set: ts})
			DecodedSets.WithLabelValues(KindTemplateSet).Inc()

		case h.Id == IPFIXOptions:
			ots := &OptionsTemplateSet{fieldCache: b.session.FieldCache(), templateCache: b.session.asCache()}
			if _, err := ots.Decode(body); err != nil && err != io.EOF {
				return msg, internalByExternal, err
			}
			for _, otr := range ots.Records {
				otr := otr
				if otr.FieldCount == 0 {
					b.session.RemoveExternalTemplate(msg.ObservationDomainId, otr.TemplateId)
					BufferTemplatesWithdrawn.Inc()
					continue
				}
				_, err := b.session.AddExternalTemplate(msg.ObservationDomainId, otr.TemplateId, &Template{Record: &otr})
				if err != nil {
					return msg, internalByExternal, err
				}
			}
			msg.Sets = append(msg.Sets, Set{SetHeader: h, Kind: KindOptionsTemplateSet, Set: ots})
			DecodedSets.WithLabelValues(KindOptionsTemplateSet).Inc()

		case h.Id >= firstAutoExternalId:
			external, internal, paired, err := b.session.ResolveTemplatePair(msg.ObservationDomainId, h.Id)
			if err != nil {
				// unknown template: spec.md section 4.4 says skip, we cannot decode
				// a data set whose template we have not seen
				DroppedRecords.WithLabelValues(KindDataSet).Inc()
				continue
			}

			ds := (&DataSet{fieldCache: b.session.FieldCache(), templateCache: b.session.asCache()}).
				With(external).
				WithAutoElementInsert(b.autoElementInsert)
			if _, err := ds.Decode(body); err != nil && err != io.EOF {
				return msg, internalByExternal, err
			}

			msg.Sets = append(msg.Sets, Set{SetHeader: h, Kind: KindDataSet, Set: ds})
			DecodedSets.WithLabelValues(KindDataSet).Inc()
			DecodedRecords.WithLabelValues(KindDataSet).Add(float64(len(ds.Records)))

			if paired {
				out := make([]DataRecord, 0, len(ds.Records))
				for _, rec := range ds.Records {
					tr, err := TranscodeRecordToInternal(internal, external, rec)
					if err != nil {
						return msg, internalByExternal, err
					}
					out = append(out, tr)
				}
				internalByExternal[h.Id] = append(internalByExternal[h.Id], out...)
			}

		default:
			return msg, internalByExternal, UnknownFlowId(h.Id)
		}
	}

	return msg, internalByExternal, nil
}

// ReadMessageFromBytes decodes a single Message out of data without assuming
// a full-duplex stream behind it: this is the "disconnected" mode of
// spec.md section 6, for callers that feed raw octets from a datagram,
// ring buffer, or other source that does not block for more input. data may
// hold trailing bytes belonging to the next message; the returned int is the
// number of bytes ReadMessageFromBytes actually consumed from the front of
// data. If data does not yet hold a complete message, ReadMessageFromBytes
// returns BufferTooSmall carrying the number of bytes the message needs and
// the number data holds, so the caller knows how much more to accumulate
// before retrying.
func (b *Buffer) ReadMessageFromBytes(ctx context.Context, data []byte) (*Message, map[uint16][]DataRecord, int, error) {
	if len(data) < messageHeaderLength {
		return nil, nil, 0, BufferTooSmall(messageHeaderLength, len(data))
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < messageHeaderLength {
		return nil, nil, 0, MalformedMessage(fmt.Sprintf("message announces length %d below header size", length))
	}
	if len(data) < length {
		return nil, nil, 0, BufferTooSmall(length, len(data))
	}
	msg, records, err := b.ReadMessage(ctx, bytes.NewReader(data[:length]))
	return msg, records, length, err
}

// Pull reads the next complete Message from the Collector bound via
// BindCollector. It is the collector-handle counterpart to ReadMessage for
// callers that drive a Buffer through spec.md section 6's transport
// interface rather than a raw io.Reader.
func (b *Buffer) Pull(ctx context.Context) (*Message, map[uint16][]DataRecord, error) {
	if b.collector == nil {
		return nil, nil, SetupError("Pull called on a Buffer with no Collector bound")
	}
	dst := make([]byte, maxMessageLength)
	n, err := b.collector.ReadMessage(dst)
	if err != nil {
		return nil, nil, err
	}
	return b.ReadMessage(ctx, bytes.NewReader(dst[:n]))
}
