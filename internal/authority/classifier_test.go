package authority_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"E001", "error"},
		{"E0014", "error"},
		{"e160", "error"},
		{"L010", "alert"},
		{"A999", "success"},
		{"100", "success"},
		{"", "success"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := authority.Classify(tt.code)
			assert.Equal(t, tt.want, c.Outcome())

			set := 0
			for _, b := range []bool{c.IsSuccess, c.IsAlert, c.IsError} {
				if b {
					set++
				}
			}
			assert.Equal(t, 1, set, "exactly one outcome")
		})
	}
}

func TestClassifier_CustomConvention(t *testing.T) {
	c := authority.NewClassifier(authority.Convention{
		Name:           "municipal",
		ErrorPrefixes:  []string{"R"},
		AlertPrefixes:  []string{"W"},
		DuplicateCodes: []string{"R050"},
	})

	assert.True(t, c.Classify("R101").IsError)
	assert.True(t, c.Classify("W01").IsAlert)
	assert.True(t, c.Classify("E001").IsSuccess)
	assert.True(t, c.IsDuplicate("r050"))
	assert.False(t, c.IsDuplicate("E0014"))
}

func TestClassifier_ZeroConventionIsNational(t *testing.T) {
	c := authority.NewClassifier(authority.Convention{})

	assert.Equal(t, "national", c.Convention().Name)
	assert.True(t, c.Classify("E001").IsError)
	assert.True(t, c.IsDuplicate("E0014"))
}

func TestExtractMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "two messages in order",
			body: `<Retorno><Erro><Codigo>E001</Codigo><Mensagem>Primeira falha</Mensagem></Erro>` +
				`<Erro><Codigo>E002</Codigo><Mensagem>Segunda falha</Mensagem></Erro></Retorno>`,
			want: []string{"Primeira falha", "Segunda falha"},
		},
		{
			name: "namespace prefixes and attributes",
			body: `<ns2:Retorno xmlns:ns2="http://www.sped.fazenda.gov.br/nfse"><ns2:Mensagem lang="pt">A</ns2:Mensagem>` +
				`<ns2:Descricao>B</ns2:Descricao></ns2:Retorno>`,
			want: []string{"A", "B"},
		},
		{
			name: "entities unescaped and whitespace collapsed",
			body: "<Mensagem>\n  Valor &lt; 0 &amp; inv&#225;lido\n</Mensagem>",
			want: []string{"Valor < 0 & inválido"},
		},
		{
			name: "inner markup stripped",
			body: `<Mensagem>Campo <b>CNPJ</b> inválido</Mensagem>`,
			want: []string{"Campo CNPJ inválido"},
		},
		{
			name: "json fields",
			body: `{"erros":[{"Codigo":"E001","Descricao":"Assinatura inválida"},{"Codigo":"E002","Mensagem":"Linha \"2\""}]}`,
			want: []string{"Assinatura inválida", `Linha "2"`},
		},
		{
			name: "self closing and empty ignored",
			body: `<Mensagem/><Mensagem>   </Mensagem><Descricao>ok</Descricao>`,
			want: []string{"ok"},
		},
		{
			name: "no messages",
			body: `<Retorno><Codigo>100</Codigo></Retorno>`,
			want: nil,
		},
		{
			name: "malformed body",
			body: `<Mensagem>unterminated`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authority.ExtractMessages([]byte(tt.body)))
		})
	}
}

func TestEvaluate(t *testing.T) {
	c := authority.NewClassifier(authority.NationalConvention())

	t.Run("error without messages falls back", func(t *testing.T) {
		res := c.Evaluate("E999", http.StatusOK, []byte(`<Codigo>E999</Codigo>`))
		assert.True(t, res.IsError)
		assert.Equal(t, []string{authority.GenericErrorMessage}, res.Messages)

		err := res.Err(http.StatusOK)
		var rejection *model.AuthorityRejection
		require.True(t, errors.As(err, &rejection))
		assert.Equal(t, "E999", rejection.Code)
	})

	t.Run("http failure without code is an error", func(t *testing.T) {
		res := c.Evaluate("", http.StatusBadRequest, []byte(`bad request`))
		assert.True(t, res.IsError)
		assert.Len(t, res.Messages, 1)
	})

	t.Run("alert keeps messages", func(t *testing.T) {
		res := c.Evaluate("L010", http.StatusOK, []byte(`<Mensagem>Aviso</Mensagem>`))
		assert.True(t, res.IsAlert)
		assert.Equal(t, []string{"Aviso"}, res.Messages)
		assert.NoError(t, res.Err(http.StatusOK))
	})

	t.Run("success has empty messages", func(t *testing.T) {
		res := c.Evaluate("A999", http.StatusOK, nil)
		assert.True(t, res.IsSuccess)
		assert.NotNil(t, res.Messages)
		assert.Empty(t, res.Messages)
	})
}
