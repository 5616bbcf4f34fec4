package cargo

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Decoder deserializes a Visitable from the binary wire format, consuming
// ancillary fds (supplied by the transport in arrival order) for each
// FileDescriptor leaf it encounters.
type Decoder struct {
	buf []byte
	pos int
	fds []int
	fdi int
}

// Decode fills v from payload, resolving FileDescriptor leaves from fds
// (the ancillary fds that accompanied payload on the wire, in order).
func Decode(payload []byte, fds []int, v Visitable) error {
	d := &Decoder{buf: payload, fds: fds}
	return v.CargoVisit(d)
}

func (d *Decoder) IsEncoding() bool { return false }

func (d *Decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) Int8(p *int8) error   { return d.Uint8((*uint8)(unsafe.Pointer(p))) }
func (d *Decoder) Int16(p *int16) error { return d.Uint16((*uint16)(unsafe.Pointer(p))) }
func (d *Decoder) Int32(p *int32) error { return d.Uint32((*uint32)(unsafe.Pointer(p))) }
func (d *Decoder) Int64(p *int64) error { return d.Uint64((*uint64)(unsafe.Pointer(p))) }

func (d *Decoder) Uint8(p *uint8) error {
	b, err := d.take(1)
	if err != nil {
		return err
	}
	*p = b[0]
	return nil
}

func (d *Decoder) Uint16(p *uint16) error {
	b, err := d.take(2)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint16(b)
	return nil
}

func (d *Decoder) Uint32(p *uint32) error {
	b, err := d.take(4)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint32(b)
	return nil
}

func (d *Decoder) Uint64(p *uint64) error {
	b, err := d.take(8)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint64(b)
	return nil
}

func (d *Decoder) Bool(p *bool) error {
	var b uint8
	if err := d.Uint8(&b); err != nil {
		return err
	}
	*p = b != 0
	return nil
}

func (d *Decoder) Double(p *float64) error {
	var bits uint64
	if err := d.Uint64(&bits); err != nil {
		return err
	}
	*p = math.Float64frombits(bits)
	return nil
}

func (d *Decoder) String(p *string) error {
	var b []byte
	if err := d.Bytes(&b); err != nil {
		return err
	}
	*p = string(b)
	return nil
}

func (d *Decoder) Bytes(p *[]byte) error {
	var n uint64
	if err := d.Uint64(&n); err != nil {
		return err
	}
	b, err := d.take(int(n))
	if err != nil {
		return err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	*p = cp
	return nil
}

func (d *Decoder) FileDescriptor(p *FD) error {
	if d.fdi >= len(d.fds) {
		return ErrTruncated
	}
	*p = FD(d.fds[d.fdi])
	d.fdi++
	return nil
}

func (d *Decoder) BeginSequence(n *int) error {
	var u uint64
	if err := d.Uint64(&u); err != nil {
		return err
	}
	*n = int(u)
	return nil
}

func (d *Decoder) BeginMap(n *int) error {
	var u uint64
	if err := d.Uint64(&u); err != nil {
		return err
	}
	*n = int(u)
	return nil
}

func (d *Decoder) Oneof(tag *uint32) error {
	return d.Uint32(tag)
}
