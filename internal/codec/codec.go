// Package codec transforms structured records to and from the delimited text
// wire format used by the bulk endpoints. Encoding and decoding are
// header-driven: the first row names the fields and fixes their order.
// Explicit nulls travel as a sentinel token so that a cleared field can be
// told apart from an omitted one.
package codec

// DefaultSentinel is the literal substituted for explicitly null values.
const DefaultSentinel = "#N/A"

type options struct {
	sentinel string
	header   []string
}

// Option configures an Encoder or Decoder.
type Option func(*options)

// WithSentinel overrides the null sentinel token.
func WithSentinel(s string) Option {
	return func(o *options) { o.sentinel = s }
}

// WithHeader fixes the header instead of deriving it from the first record
// (Encoder) or reading it from the first row (Decoder).
func WithHeader(names []string) Option {
	return func(o *options) {
		o.header = make([]string, len(names))
		copy(o.header, names)
	}
}

func applyOptions(opts []Option) options {
	o := options{sentinel: DefaultSentinel}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
