package export

// ResponseKind discriminates RawResponse variants.
type ResponseKind int

const (
	ResponseText ResponseKind = iota + 1
	ResponseStructured
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseText:
		return "text"
	case ResponseStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// RawResponse is the payload returned by an export transport: either text
// (CSV, or JSON that arrived as a string) or an already decoded value.
// The shape is decided once by the transport.
type RawResponse struct {
	kind       ResponseKind
	text       string
	structured any
}

// TextResponse wraps a text payload.
func TextResponse(text string) RawResponse {
	return RawResponse{kind: ResponseText, text: text}
}

// StructuredResponse wraps a decoded payload such as []tabular.Record.
func StructuredResponse(v any) RawResponse {
	return RawResponse{kind: ResponseStructured, structured: v}
}

// Kind returns the variant of r. The zero RawResponse has kind 0.
func (r RawResponse) Kind() ResponseKind { return r.kind }

// Text returns the text payload and whether r is a text response.
func (r RawResponse) Text() (string, bool) {
	return r.text, r.kind == ResponseText
}

// Structured returns the decoded payload and whether r is a structured response.
func (r RawResponse) Structured() (any, bool) {
	return r.structured, r.kind == ResponseStructured
}
