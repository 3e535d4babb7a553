package xmltree_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/xmltree"
)

// op is one writer call used to drive round-trip checks
type op struct {
	kind  string // open, leaf, close
	tag   string
	value string
}

func apply(w *xmltree.Writer, ops []op) {
	for _, o := range ops {
		switch o.kind {
		case "open":
			w.Open(o.tag)
		case "leaf":
			w.Leaf(o.tag, o.value)
		case "close":
			w.Close(o.tag)
		}
	}
}

// expectedTree renders the ops as an indented tag listing
func expectedTree(ops []op) []string {
	var out []string
	depth := 0
	for _, o := range ops {
		switch o.kind {
		case "open":
			out = append(out, strings.Repeat(" ", depth)+o.tag)
			depth++
		case "leaf":
			out = append(out, strings.Repeat(" ", depth)+o.tag+"="+o.value)
		case "close":
			depth--
		}
	}
	return out
}

// parsedTree re-parses serialized XML into the same listing format
func parsedTree(t *testing.T, data []byte) []string {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))

	var out []string
	var walk func(el *etree.Element, depth int)
	walk = func(el *etree.Element, depth int) {
		children := el.ChildElements()
		if len(children) == 0 && el.Text() != "" {
			out = append(out, strings.Repeat(" ", depth)+el.Tag+"="+el.Text())
			return
		}
		out = append(out, strings.Repeat(" ", depth)+el.Tag)
		for _, c := range children {
			walk(c, depth+1)
		}
	}
	walk(doc.Root(), 0)
	return out
}

func TestWriter_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ops  []op
	}{
		{
			name: "single leaf",
			ops: []op{
				{"open", "root", ""},
				{"leaf", "a", "1"},
				{"close", "root", ""},
			},
		},
		{
			name: "nested groups keep order",
			ops: []op{
				{"open", "DPS", ""},
				{"open", "infDPS", ""},
				{"leaf", "tpAmb", "2"},
				{"open", "prest", ""},
				{"leaf", "CNPJ", "11222333000181"},
				{"open", "regTrib", ""},
				{"leaf", "opSimpNac", "1"},
				{"leaf", "regEspTrib", "0"},
				{"close", "regTrib", ""},
				{"close", "prest", ""},
				{"leaf", "zeta", "z"},
				{"leaf", "alpha", "a"},
				{"close", "infDPS", ""},
				{"close", "DPS", ""},
			},
		},
		{
			name: "escaped text",
			ops: []op{
				{"open", "serv", ""},
				{"leaf", "xDescServ", "Consultoria & <suporte> \"técnico\""},
				{"close", "serv", ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := xmltree.New()
			apply(w, tt.ops)

			data, err := w.Bytes()
			require.NoError(t, err)
			assert.Equal(t, expectedTree(tt.ops), parsedTree(t, data))
		})
	}
}

func TestWriter_Attributes(t *testing.T) {
	w := xmltree.New(xmltree.WithoutDeclaration())
	w.Open("DPS", xmltree.Attr{Key: "xmlns", Value: "http://example.com/ns"}, xmltree.Attr{Key: "versao", Value: "1.00"}).
		Open("infDPS", xmltree.Attr{Key: "Id", Value: "DPS123"}).
		Leaf("tpAmb", "2").
		Close("infDPS").
		Close("DPS")

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<DPS xmlns="http://example.com/ns" versao="1.00">`))
	assert.Contains(t, string(data), `<infDPS Id="DPS123">`)
}

func TestWriter_Declaration(t *testing.T) {
	w := xmltree.New()
	w.Open("a").Close("a")

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version="1.0" encoding="UTF-8"?>`))
}

func TestWriter_LeafIf(t *testing.T) {
	w := xmltree.New(xmltree.WithoutDeclaration())
	w.Open("a").LeafIf(true, "yes", "1").LeafIf(false, "no", "0").Close("a")

	data, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "<a><yes>1</yes></a>", string(data))
}

func TestWriter_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		ops  []op
	}{
		{"close mismatched tag", []op{{"open", "a", ""}, {"open", "b", ""}, {"close", "a", ""}}},
		{"close without open", []op{{"close", "a", ""}}},
		{"leaf without open", []op{{"leaf", "a", "1"}}},
		{"second root", []op{{"open", "a", ""}, {"close", "a", ""}, {"open", "b", ""}, {"close", "b", ""}}},
		{"left open", []op{{"open", "a", ""}, {"leaf", "b", "1"}}},
		{"empty document", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := xmltree.New()
			apply(w, tt.ops)

			_, err := w.Bytes()
			require.Error(t, err)

			var structural *model.StructuralAssemblyError
			assert.True(t, errors.As(err, &structural), "expected StructuralAssemblyError, got %T", err)
		})
	}
}

func TestWriter_ErrorIsSticky(t *testing.T) {
	w := xmltree.New()
	w.Open("a").Close("b")
	first := w.Err()
	require.Error(t, first)

	w.Close("a").Open("c")
	assert.Same(t, first, w.Err())
	assert.Equal(t, 1, w.Depth())
}
