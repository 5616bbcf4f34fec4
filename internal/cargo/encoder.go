package cargo

import (
	"bytes"
	"encoding/binary"
	"math"
	"unsafe"
)

// Encoder serializes a Visitable into the binary wire format, collecting
// any FileDescriptor leaves (in declaration order) for out-of-band
// transmission via SCM_RIGHTS.
type Encoder struct {
	buf bytes.Buffer
	fds []int
}

// Encode serializes v and returns the payload bytes plus the fds that must
// accompany it on the wire, in order.
func Encode(v Visitable) ([]byte, []int, error) {
	e := &Encoder{}
	if err := v.CargoVisit(e); err != nil {
		return nil, nil, err
	}
	return e.buf.Bytes(), e.fds, nil
}

func (e *Encoder) IsEncoding() bool { return true }

func (e *Encoder) Int8(p *int8) error   { return e.Uint8((*uint8)(unsafe.Pointer(p))) }
func (e *Encoder) Int16(p *int16) error { return e.Uint16((*uint16)(unsafe.Pointer(p))) }
func (e *Encoder) Int32(p *int32) error { return e.Uint32((*uint32)(unsafe.Pointer(p))) }
func (e *Encoder) Int64(p *int64) error { return e.Uint64((*uint64)(unsafe.Pointer(p))) }

func (e *Encoder) Uint8(p *uint8) error {
	e.buf.WriteByte(*p)
	return nil
}

func (e *Encoder) Uint16(p *uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], *p)
	e.buf.Write(b[:])
	return nil
}

func (e *Encoder) Uint32(p *uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], *p)
	e.buf.Write(b[:])
	return nil
}

func (e *Encoder) Uint64(p *uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], *p)
	e.buf.Write(b[:])
	return nil
}

func (e *Encoder) Bool(p *bool) error {
	var b uint8
	if *p {
		b = 1
	}
	return e.Uint8(&b)
}

func (e *Encoder) Double(p *float64) error {
	bits := math.Float64bits(*p)
	return e.Uint64(&bits)
}

func (e *Encoder) String(p *string) error {
	b := []byte(*p)
	return e.Bytes(&b)
}

func (e *Encoder) Bytes(p *[]byte) error {
	n := uint64(len(*p))
	if err := e.Uint64(&n); err != nil {
		return err
	}
	e.buf.Write(*p)
	return nil
}

func (e *Encoder) FileDescriptor(p *FD) error {
	e.fds = append(e.fds, int(*p))
	return nil
}

func (e *Encoder) BeginSequence(n *int) error {
	u := uint64(*n)
	return e.Uint64(&u)
}

func (e *Encoder) BeginMap(n *int) error {
	u := uint64(*n)
	return e.Uint64(&u)
}

func (e *Encoder) Oneof(tag *uint32) error {
	return e.Uint32(tag)
}
