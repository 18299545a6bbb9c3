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

// Exporter is the write-message collaborator of spec.md section 6: given a
// complete, already-framed Message, deliver it to the peer and report
// success or an I/O error. An Exporter may be backed by a file, a socket, or
// a caller-supplied memory buffer (MemoryTransport).
type Exporter interface {
	WriteMessage(message []byte) error
}

// Collector is the read-message collaborator of spec.md section 6: fill dst
// (which holds at most 65535 octets, the IPFIX message size cap) with the
// next complete Message and report how many octets it used. Implementations
// return EndOfStream when the underlying source is exhausted, NoDataReady
// when a non-blocking read found nothing (or was interrupted), and an
// I/O error for any other transport failure.
type Collector interface {
	ReadMessage(dst []byte) (int, error)
}

// ExporterFunc adapts a plain function to the Exporter interface.
type ExporterFunc func(message []byte) error

func (f ExporterFunc) WriteMessage(message []byte) error {
	return f(message)
}

// CollectorFunc adapts a plain function to the Collector interface.
type CollectorFunc func(dst []byte) (int, error)

func (f CollectorFunc) ReadMessage(dst []byte) (int, error) {
	return f(dst)
}

// BindExporter attaches an Exporter to b for use by Flush, and clears any
// previously bound Collector: per spec.md section 3, a Buffer owns a single
// transport endpoint, exporter or collector, mutually exclusive.
func (b *Buffer) BindExporter(e Exporter) *Buffer {
	b.collector = nil
	b.exporter = e
	return b
}

// BindCollector attaches a Collector to b for use by Pull, and clears any
// previously bound Exporter.
func (b *Buffer) BindCollector(c Collector) *Buffer {
	b.exporter = nil
	b.collector = c
	return b
}
