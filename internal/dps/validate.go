package dps

import (
	"strings"
	"unicode"
)

// OnlyDigits strips punctuation from document numbers ("11.222.333/0001-81")
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDigits reports whether s is non-empty and made only of ASCII digits
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidCNPJ checks length and both check digits
func ValidCNPJ(cnpj string) bool {
	if len(cnpj) != 14 || !IsDigits(cnpj) || repeated(cnpj) {
		return false
	}
	first := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	second := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	return checkDigit(cnpj[:12], first) == int(cnpj[12]-'0') &&
		checkDigit(cnpj[:13], second) == int(cnpj[13]-'0')
}

// ValidCPF checks length and both check digits
func ValidCPF(cpf string) bool {
	if len(cpf) != 11 || !IsDigits(cpf) || repeated(cpf) {
		return false
	}
	first := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	second := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	return checkDigit(cpf[:9], first) == int(cpf[9]-'0') &&
		checkDigit(cpf[:10], second) == int(cpf[10]-'0')
}

// checkDigit computes the modulo-11 digit shared by CNPJ and CPF
func checkDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func repeated(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

func digitsBetween(s string, lo, hi int) bool {
	return IsDigits(s) && len(s) >= lo && len(s) <= hi
}

func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsFunc(s, unicode.IsSpace)
}
