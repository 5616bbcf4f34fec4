package cargo

import (
	"testing"
)

// record exercises every leaf kind plus the sequence/map/oneof composites,
// the way a generated zone-config message would.
type record struct {
	Flag    bool
	Count   int32
	Ratio   float64
	Name    string
	Raw     []byte
	Tags    []string
	Labels  map[string]string
	Variant uint32
}

func (r *record) CargoVisit(v Visitor) error {
	if err := v.Bool(&r.Flag); err != nil {
		return err
	}
	if err := v.Int32(&r.Count); err != nil {
		return err
	}
	if err := v.Double(&r.Ratio); err != nil {
		return err
	}
	if err := v.String(&r.Name); err != nil {
		return err
	}
	if err := v.Bytes(&r.Raw); err != nil {
		return err
	}
	if err := VisitStrings(v, &r.Tags); err != nil {
		return err
	}
	if err := VisitStringMap(v, &r.Labels); err != nil {
		return err
	}
	return v.Oneof(&r.Variant)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &record{
		Flag:    true,
		Count:   -7,
		Ratio:   3.5,
		Name:    "web",
		Raw:     []byte{0xde, 0xad, 0xbe, 0xef},
		Tags:    []string{"a", "b", "c"},
		Labels:  map[string]string{"env": "prod"},
		Variant: 2,
	}

	payload, fds, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(fds) != 0 {
		t.Errorf("fds = %v, want none", fds)
	}

	out := &record{}
	if err := Decode(payload, nil, out); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.Flag != in.Flag {
		t.Errorf("Flag = %v, want %v", out.Flag, in.Flag)
	}
	if out.Count != in.Count {
		t.Errorf("Count = %d, want %d", out.Count, in.Count)
	}
	if out.Ratio != in.Ratio {
		t.Errorf("Ratio = %v, want %v", out.Ratio, in.Ratio)
	}
	if out.Name != in.Name {
		t.Errorf("Name = %q, want %q", out.Name, in.Name)
	}
	if string(out.Raw) != string(in.Raw) {
		t.Errorf("Raw = %v, want %v", out.Raw, in.Raw)
	}
	if len(out.Tags) != len(in.Tags) {
		t.Fatalf("Tags = %v, want %v", out.Tags, in.Tags)
	}
	for i := range in.Tags {
		if out.Tags[i] != in.Tags[i] {
			t.Errorf("Tags[%d] = %q, want %q", i, out.Tags[i], in.Tags[i])
		}
	}
	if out.Labels["env"] != "prod" {
		t.Errorf("Labels[env] = %q, want prod", out.Labels["env"])
	}
	if out.Variant != in.Variant {
		t.Errorf("Variant = %d, want %d", out.Variant, in.Variant)
	}
}

type fdRecord struct {
	Pre  string
	F    FD
	Post string
}

func (r *fdRecord) CargoVisit(v Visitor) error {
	if err := v.String(&r.Pre); err != nil {
		return err
	}
	if err := v.FileDescriptor(&r.F); err != nil {
		return err
	}
	return v.String(&r.Post)
}

func TestEncodeDecode_FileDescriptor(t *testing.T) {
	in := &fdRecord{Pre: "before", F: FD(99), Post: "after"}

	payload, fds, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(fds) != 1 || fds[0] != 99 {
		t.Fatalf("fds = %v, want [99]", fds)
	}

	out := &fdRecord{}
	// The transport hands the decoder whatever fd the receiving side ended
	// up with after SCM_RIGHTS, not the sender's original number.
	if err := Decode(payload, []int{42}, out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.F != FD(42) {
		t.Errorf("F = %d, want 42", out.F)
	}
	if out.Pre != "before" || out.Post != "after" {
		t.Errorf("Pre/Post = %q/%q, want before/after", out.Pre, out.Post)
	}
}

func TestDecode_Truncated(t *testing.T) {
	out := &record{}
	if err := Decode([]byte{1}, nil, out); err != ErrTruncated {
		t.Errorf("Decode on truncated payload = %v, want ErrTruncated", err)
	}
}

func TestDecode_FileDescriptor_NoFDsSupplied(t *testing.T) {
	in := &fdRecord{Pre: "x", F: FD(1), Post: "y"}
	payload, _, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := &fdRecord{}
	if err := Decode(payload, nil, out); err != ErrTruncated {
		t.Errorf("Decode with no fds supplied = %v, want ErrTruncated", err)
	}
}

func TestVisitStrings_EmptySlice(t *testing.T) {
	in := []string{}
	payload, _, err := Encode(stringsWrapper{&in})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out []string
	if err := Decode(payload, nil, stringsWrapper{&out}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("out = %v, want empty", out)
	}
}

type stringsWrapper struct{ p *[]string }

func (w stringsWrapper) CargoVisit(v Visitor) error { return VisitStrings(v, w.p) }

func TestIsEncoding(t *testing.T) {
	e := &Encoder{}
	if !e.IsEncoding() {
		t.Error("Encoder.IsEncoding() = false, want true")
	}
	d := &Decoder{}
	if d.IsEncoding() {
		t.Error("Decoder.IsEncoding() = true, want false")
	}
}
