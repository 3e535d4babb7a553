package dps_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-issuer/internal/dps"
)

func TestValidCNPJ(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"11222333000181", true},
		{"11444777000161", true},
		{"11222333000182", false},
		{"00000000000000", false},
		{"1122233300018", false},
		{"11.222.333/0001-81", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, dps.ValidCNPJ(tt.input))
		})
	}
}

func TestValidCPF(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"52998224725", true},
		{"52998224726", false},
		{"11111111111", false},
		{"5299822472", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, dps.ValidCPF(tt.input))
		})
	}
}

func TestOnlyDigits(t *testing.T) {
	assert.Equal(t, "11222333000181", dps.OnlyDigits("11.222.333/0001-81"))
	assert.Equal(t, "", dps.OnlyDigits("abc"))
}

func TestNewDPSID(t *testing.T) {
	id, err := dps.NewDPSID("3550308", dps.InscriptionCNPJ, "11222333000181", "1", "42")
	require.NoError(t, err)
	assert.Equal(t, "DPS355030821122233300018100001000000000000042", id)
	assert.Len(t, id, dps.DPSIDLength)
	assert.Equal(t, "DPS", id[:3])
	assert.Equal(t, "3550308", id[3:10])
	assert.Equal(t, "2", id[10:11])
	assert.Equal(t, "11222333000181", id[11:25])
	assert.Equal(t, "00001", id[25:30])
	assert.Equal(t, "000000000000042", id[30:45])
}

func TestNewDPSID_Invalid(t *testing.T) {
	tests := []struct {
		name                           string
		municipality, doc, ser, number string
		kind                           int
	}{
		{"municipality", "355030", "11222333000181", "1", "1", dps.InscriptionCNPJ},
		{"kind", "3550308", "11222333000181", "1", "1", 3},
		{"series", "3550308", "11222333000181", "123456", "1", dps.InscriptionCNPJ},
		{"number", "3550308", "11222333000181", "1", "", dps.InscriptionCNPJ},
		{"inscription", "3550308", "123", "1", "1", dps.InscriptionCNPJ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dps.NewDPSID(tt.municipality, tt.kind, tt.doc, tt.ser, tt.number)
			assert.Error(t, err)
		})
	}
}

func TestValidAccessKey(t *testing.T) {
	assert.True(t, dps.ValidAccessKey("35503082211222333000181000000000000042250312345678"))
	assert.False(t, dps.ValidAccessKey("123"))
}
