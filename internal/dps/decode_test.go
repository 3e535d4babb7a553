package dps_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/dps"
)

func TestDecodeInputs(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		numbers []string
	}{
		{
			name: "yaml document",
			data: `
series: "1"
number: "42"
provider:
  cnpj: "11222333000181"
  legal_name: Prestadora Exemplo Ltda
values:
  service_value: 1500.00
`,
			numbers: []string{"42"},
		},
		{
			name:    "yaml stream",
			data:    "number: \"1\"\n---\nnumber: \"2\"\n",
			numbers: []string{"1", "2"},
		},
		{
			name:    "json list",
			data:    `[{"number": "7", "values": {"service_value": "10.50"}}, {"number": "8"}]`,
			numbers: []string{"7", "8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs, err := dps.DecodeInputs([]byte(tt.data))
			require.NoError(t, err)
			require.Len(t, inputs, len(tt.numbers))
			for i, n := range tt.numbers {
				assert.Equal(t, n, inputs[i].Number)
			}
		})
	}
}

func TestDecodeInputs_Values(t *testing.T) {
	inputs, err := dps.DecodeInputs([]byte(`{"number": "7", "values": {"service_value": "10.50", "iss_rate": "2.5"}}`))
	require.NoError(t, err)
	require.Len(t, inputs, 1)

	assert.Equal(t, "10.5", inputs[0].Values.ServiceValue.String())
	require.NotNil(t, inputs[0].Values.ISSRate)
	assert.Equal(t, "2.5", inputs[0].Values.ISSRate.String())
}

func TestDecodeInputs_Errors(t *testing.T) {
	_, err := dps.DecodeInputs([]byte(""))
	assert.Error(t, err)

	_, err = dps.DecodeInputs([]byte("number: [unclosed"))
	assert.Error(t, err)
}
