// Package cargo implements C4: a structural-recursion codec over
// "visitable" Go values, matching the wire rules of spec §4.4 — fixed-width
// leaves, length-prefixed strings/blobs, the distinguished FileDescriptor
// leaf (transmitted out-of-band over ancillary data), and composite rules
// for sequences, string-keyed maps, oneofs, and records.
//
// A type participates by implementing Visitable. The same Visit method
// serves both encoding and decoding: a Visitor is either an *Encoder or a
// *Decoder, and each leaf method reads from or writes to the pointer it is
// given depending on direction — this is the Go analog of the source's
// visitor-base-class hierarchy (ToFDStoreVisitor, FromFDStoreVisitor, …)
// collapsed into one interface.
package cargo

import "fmt"

// FD is the distinguished FileDescriptor leaf. Equality of a decoded FD to
// the one sent is equality of the underlying open file description (same
// inode), which callers establish by dup'ing immediately on receipt.
type FD int

// Visitable is implemented by every cargo-serializable type.
type Visitable interface {
	CargoVisit(v Visitor) error
}

// Visitor is implemented by Encoder and Decoder. Every leaf method takes a
// pointer: Encoder reads *p, Decoder writes *p.
type Visitor interface {
	Int8(p *int8) error
	Int16(p *int16) error
	Int32(p *int32) error
	Int64(p *int64) error
	Uint8(p *uint8) error
	Uint16(p *uint16) error
	Uint32(p *uint32) error
	Uint64(p *uint64) error
	Bool(p *bool) error
	Double(p *float64) error
	String(p *string) error
	Bytes(p *[]byte) error
	FileDescriptor(p *FD) error

	// BeginSequence visits the element count of a homogeneous ordered
	// sequence: the Encoder writes *n, the Decoder stores the decoded count
	// in *n. The caller then visits each of the *n elements itself.
	BeginSequence(n *int) error
	// BeginMap visits the entry count of a string-keyed mapping the same
	// way; the caller then visits each key and value itself (see
	// VisitStringMap).
	BeginMap(n *int) error
	// Oneof visits a tagged union's discriminant.
	Oneof(tag *uint32) error

	// IsEncoding distinguishes direction for Visitable implementations
	// that must allocate on decode (e.g. sizing a slice before filling it).
	IsEncoding() bool
}

// ErrTruncated is returned by Decoder leaf methods when the buffer runs out
// before a value of the expected width is available.
var ErrTruncated = fmt.Errorf("cargo: truncated input")
