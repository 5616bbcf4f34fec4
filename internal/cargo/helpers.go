package cargo

// VisitStrings visits an ordered sequence of strings, matching spec §4.4's
// "ordered sequence of T" composite rule.
func VisitStrings(v Visitor, p *[]string) error {
	n := len(*p)
	if err := v.BeginSequence(&n); err != nil {
		return err
	}
	if !v.IsEncoding() {
		*p = make([]string, n)
	}
	for i := 0; i < n; i++ {
		if err := v.String(&(*p)[i]); err != nil {
			return err
		}
	}
	return nil
}

// VisitStringMap visits a string-keyed mapping of strings, matching spec
// §4.4's "mapping K→V where K is string" composite rule. Entries are
// encoded in Go's map iteration order, which is unspecified; decode reads
// them in wire order.
func VisitStringMap(v Visitor, p *map[string]string) error {
	if v.IsEncoding() {
		n := len(*p)
		if err := v.BeginMap(&n); err != nil {
			return err
		}
		for k, val := range *p {
			kk, vv := k, val
			if err := v.String(&kk); err != nil {
				return err
			}
			if err := v.String(&vv); err != nil {
				return err
			}
		}
		return nil
	}

	var n int
	if err := v.BeginMap(&n); err != nil {
		return err
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		var k, val string
		if err := v.String(&k); err != nil {
			return err
		}
		if err := v.String(&val); err != nil {
			return err
		}
		m[k] = val
	}
	*p = m
	return nil
}

// VisitEach visits a sequence of n items whose element type cannot be
// expressed as a Go slice-of-Visitable directly (e.g. records containing
// further composites); fn is called once per index with the Visitor to
// drive that element's own CargoVisit.
func VisitEach(v Visitor, n *int, fn func(i int) error) error {
	if err := v.BeginSequence(n); err != nil {
		return err
	}
	for i := 0; i < *n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}
