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
	"errors"
	"fmt"

	"github.com/flowforge/ipfix/iana/version"
)

// The Err* sentinels form the closed set of error kinds a Session or Buffer
// operation can fail with. Callers should use errors.Is against these
// sentinels rather than comparing wrapped error strings.
var (
	ErrTemplateNotFound   error = errors.New("template not found")
	ErrTemplateFull       error = errors.New("template is full")
	ErrTemplateImmutable  error = errors.New("template is immutable")
	ErrLaxSize            error = errors.New("field length does not satisfy the information element's size constraints")
	ErrEndOfMessage       error = errors.New("end of message")
	ErrEndOfStream        error = errors.New("end of stream")
	ErrMalformedMessage   error = errors.New("malformed message")
	ErrBufferTooSmall     error = errors.New("buffer too small")
	ErrIoError            error = errors.New("io error")
	ErrNoDataReady        error = errors.New("no data ready")
	ErrPeerClosed         error = errors.New("peer closed")
	ErrUnknownElement     error = errors.New("unknown information element")
	ErrConnectionFailed   error = errors.New("connection failed")
	ErrSetupError         error = errors.New("setup error")
	ErrNotImplemented     error = errors.New("not implemented")

	ErrUnknownVersion error = errors.New("unknown version")
	ErrUnknownFlowId  error = errors.New("unknown flow id")
)

func TemplateNotFound(observationDomainId uint32, templateId uint16) error {
	return fmt.Errorf("%w for %d in observation domain %d", ErrTemplateNotFound, templateId, observationDomainId)
}

// TemplateFull reports that no free template id is left to assign
// automatically (returned by Session.AddInternalTemplate and
// Session.AddExternalTemplate once their id range is exhausted).
func TemplateFull(templateId uint16) error {
	return fmt.Errorf("%w: template %d", ErrTemplateFull, templateId)
}

// TemplateImmutable reports an attempt to mutate a Template that has already
// been registered with a Session (and is thus possibly already on the wire).
func TemplateImmutable(templateId uint16) error {
	return fmt.Errorf("%w: template %d has already been attached to a session", ErrTemplateImmutable, templateId)
}

// LaxSize reports a field length that falls outside of the size constraints
// the underlying information element's data type allows.
func LaxSize(elementId uint16, length uint16) error {
	return fmt.Errorf("%w: element %d with length %d", ErrLaxSize, elementId, length)
}

// EndOfMessage signals to a Buffer's caller that the current message/set
// cannot hold another record and a new message must be started.
func EndOfMessage() error {
	return ErrEndOfMessage
}

// EndOfStream signals the orderly end of an input stream (e.g. an IPFIX
// File Format reader reaching EOF).
func EndOfStream() error {
	return ErrEndOfStream
}

// MalformedMessage wraps a parsing failure encountered while decoding a
// Message, Set, or record with additional context.
func MalformedMessage(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, reason)
}

// BufferTooSmall reports that fewer octets are available than are required
// to decode the next structure; callers should append more data and retry.
func BufferTooSmall(want int, have int) error {
	return fmt.Errorf("%w: need %d octets, have %d", ErrBufferTooSmall, want, have)
}

func IoError(err error) error {
	return fmt.Errorf("%w: %v", ErrIoError, err)
}

func NoDataReady() error {
	return ErrNoDataReady
}

func PeerClosed() error {
	return ErrPeerClosed
}

func UnknownElement(pen uint32, id uint16) error {
	return fmt.Errorf("%w: (%d,%d)", ErrUnknownElement, pen, id)
}

func ConnectionFailed(reason error) error {
	return fmt.Errorf("%w: %v", ErrConnectionFailed, reason)
}

func SetupError(reason string) error {
	return fmt.Errorf("%w: %s", ErrSetupError, reason)
}

func NotImplemented(what string) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, what)
}

func UnknownVersion(version version.ProtocolVersion) error {
	return fmt.Errorf("%w %d, only 9 and 10 are specified", ErrUnknownVersion, version)
}

func UnknownFlowId(id uint16) error {
	return fmt.Errorf("%w %d", ErrUnknownFlowId, id)
}
