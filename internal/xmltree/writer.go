// Package xmltree builds ordered XML documents through append-only
// Open/Leaf/Close calls with strict stack discipline.
package xmltree

import (
	"github.com/beevik/etree"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// Attr is an attribute set on an opened element
type Attr struct {
	Key   string
	Value string
}

// Writer appends elements to a single-rooted etree document.
// The first structural error is sticky: later calls are ignored and
// Bytes/Document report it.
type Writer struct {
	doc         *etree.Document
	stack       []*etree.Element
	rootClosed  bool
	declaration bool
	err         error
}

// Option configures a Writer
type Option func(*Writer)

// WithoutDeclaration omits the <?xml ...?> header
func WithoutDeclaration() Option {
	return func(w *Writer) {
		w.declaration = false
	}
}

// New creates an empty writer
func New(opts ...Option) *Writer {
	w := &Writer{
		doc:         etree.NewDocument(),
		declaration: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.declaration {
		w.doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	}
	return w
}

// Open starts a nested group
func (w *Writer) Open(tag string, attrs ...Attr) *Writer {
	if w.err != nil {
		return w
	}
	if tag == "" {
		w.err = model.NewStructuralAssemblyError(tag, "", "empty tag name")
		return w
	}

	var el *etree.Element
	if len(w.stack) == 0 {
		if w.rootClosed || w.doc.Root() != nil {
			w.err = model.NewStructuralAssemblyError(tag, "", "second root element")
			return w
		}
		el = w.doc.CreateElement(tag)
	} else {
		el = w.top().CreateElement(tag)
	}
	for _, a := range attrs {
		el.CreateAttr(a.Key, a.Value)
	}
	w.stack = append(w.stack, el)
	return w
}

// Leaf appends a text element to the innermost open group
func (w *Writer) Leaf(tag, value string) *Writer {
	if w.err != nil {
		return w
	}
	if len(w.stack) == 0 {
		w.err = model.NewStructuralAssemblyError(tag, "", "leaf outside of any open element")
		return w
	}
	w.top().CreateElement(tag).SetText(value)
	return w
}

// LeafIf appends the leaf only when include is true
func (w *Writer) LeafIf(include bool, tag, value string) *Writer {
	if !include {
		return w
	}
	return w.Leaf(tag, value)
}

// Close ends the innermost open group, which must be named tag
func (w *Writer) Close(tag string) *Writer {
	if w.err != nil {
		return w
	}
	if len(w.stack) == 0 {
		w.err = model.NewStructuralAssemblyError(tag, "", "close without matching open")
		return w
	}
	if top := w.top(); top.Tag != tag {
		w.err = model.NewStructuralAssemblyError(tag, top.Tag, "close does not match innermost open element")
		return w
	}
	w.stack = w.stack[:len(w.stack)-1]
	if len(w.stack) == 0 {
		w.rootClosed = true
	}
	return w
}

// Depth returns the number of currently open groups
func (w *Writer) Depth() int {
	return len(w.stack)
}

// Err returns the first structural error, if any
func (w *Writer) Err() error {
	return w.err
}

// Document returns the finished tree
func (w *Writer) Document() (*etree.Document, error) {
	if w.err != nil {
		return nil, w.err
	}
	if len(w.stack) > 0 {
		top := w.top()
		return nil, model.NewStructuralAssemblyError(top.Tag, top.Tag, "element left open")
	}
	if w.doc.Root() == nil {
		return nil, model.NewStructuralAssemblyError("", "", "document has no root element")
	}
	return w.doc, nil
}

// Bytes serializes the finished tree without indentation
func (w *Writer) Bytes() ([]byte, error) {
	doc, err := w.Document()
	if err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

func (w *Writer) top() *etree.Element {
	return w.stack[len(w.stack)-1]
}
