package dps

import (
	"fmt"
	"strings"
)

// Inscription kinds used in the DPS identifier (tpInsc)
const (
	InscriptionCPF  = 1
	InscriptionCNPJ = 2
)

// DPSIDLength is the length of a DPS identifier
const DPSIDLength = 45

// AccessKeyLength is the length of an authority access key (chNFSe)
const AccessKeyLength = 50

// NewDPSID derives "DPS" + cLocEmi(7) + tpInsc(1) + inscription(14) + serie(5) + nDPS(15)
func NewDPSID(municipality string, inscriptionKind int, inscription, series, number string) (string, error) {
	if len(municipality) != 7 || !IsDigits(municipality) {
		return "", fmt.Errorf("municipality code %q must have 7 digits", municipality)
	}
	if inscriptionKind != InscriptionCPF && inscriptionKind != InscriptionCNPJ {
		return "", fmt.Errorf("unknown inscription kind %d", inscriptionKind)
	}
	if !digitsBetween(inscription, 11, 14) {
		return "", fmt.Errorf("inscription %q must have 11 to 14 digits", inscription)
	}
	if !digitsBetween(series, 1, 5) {
		return "", fmt.Errorf("series %q must have 1 to 5 digits", series)
	}
	if !digitsBetween(number, 1, 15) {
		return "", fmt.Errorf("number %q must have 1 to 15 digits", number)
	}

	var b strings.Builder
	b.Grow(DPSIDLength)
	b.WriteString("DPS")
	b.WriteString(municipality)
	fmt.Fprintf(&b, "%d", inscriptionKind)
	b.WriteString(leftPad(inscription, 14))
	b.WriteString(leftPad(series, 5))
	b.WriteString(leftPad(number, 15))
	return b.String(), nil
}

// ValidAccessKey reports whether key looks like a chNFSe
func ValidAccessKey(key string) bool {
	return len(key) == AccessKeyLength && IsDigits(key)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
