package codec

// Record is one structured row: an ordered set of field name → value pairs.
// A field can hold a value, or be explicitly null, which is distinct from the
// field being absent from the record altogether. Field order is preserved as
// fields are set and drives header derivation when encoding.
type Record struct {
	names  []string
	values map[string]fieldValue
}

type fieldValue struct {
	str  string
	null bool
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]fieldValue)}
}

// Set assigns a value to the named field, appending the field to the record's
// order if it is new.
func (r *Record) Set(name, value string) *Record {
	r.put(name, fieldValue{str: value})
	return r
}

// SetNull marks the named field as explicitly null.
func (r *Record) SetNull(name string) *Record {
	r.put(name, fieldValue{null: true})
	return r
}

// SetBool assigns the textual form of a boolean to the named field.
func (r *Record) SetBool(name string, value bool) *Record {
	if value {
		return r.Set(name, "true")
	}
	return r.Set(name, "false")
}

func (r *Record) put(name string, v fieldValue) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Get returns the value of the named field. The second result is false when
// the field is absent or explicitly null.
func (r *Record) Get(name string) (string, bool) {
	v, ok := r.values[name]
	if !ok || v.null {
		return "", false
	}
	return v.str, true
}

// Has reports whether the field is present, null or not.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// IsNull reports whether the field is present and explicitly null.
func (r *Record) IsNull(name string) bool {
	v, ok := r.values[name]
	return ok && v.null
}

// Delete removes the named field from the record.
func (r *Record) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of fields in the record.
func (r *Record) Len() int {
	return len(r.names)
}
