package dps

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// Layout constants of the national DPS schema
const (
	Namespace     = "http://www.sped.fazenda.gov.br/nfse"
	LayoutVersion = "1.00"
)

// DocumentContext is the canonical, fully resolved view the assembler renders.
// It is produced only by Builder.Build and must be treated as read-only.
type DocumentContext struct {
	Environment          model.Environment
	EmittedAt            time.Time
	AppVersion           string
	Series               string
	Number               string
	Competence           time.Time
	EmitterType          int
	EmissionMunicipality string
	DPSID                string

	Provider ProviderContext
	Taker    TakerContext
	Service  ServiceContext
	Values   ValuesContext

	inclusion Inclusion
}

// ProviderContext is the normalized prestador
type ProviderContext struct {
	Document              string
	InscriptionKind       int
	MunicipalRegistration string
	LegalName             string
	Phone                 string
	Email                 string
	OpSimpNac             int
	RegApTribSN           int
	RegEspTrib            int
}

// TakerContext is the normalized tomador
type TakerContext struct {
	Document              string
	InscriptionKind       int
	MunicipalRegistration string
	Name                  string
	Address               Address
	Phone                 string
	Email                 string
}

// ServiceContext is the normalized service block
type ServiceContext struct {
	MunicipalityCode string
	NationalCode     string
	MunicipalCode    string
	Description      string
	NBSCode          string
}

// ValuesContext holds amounts already rounded to centavos
type ValuesContext struct {
	ServiceValue          decimal.Decimal
	UnconditionalDiscount decimal.Decimal
	ConditionalDiscount   decimal.Decimal
	TaxableBase           decimal.Decimal
	Taxation              int
	Withholding           int
	ISSRate               decimal.Decimal
	ISSAmount             decimal.Decimal
	TaxTotals             TaxTotals
}

// Includes reports the resolved inclusion decision for a conditional field
func (c *DocumentContext) Includes(f Field) bool {
	return c.inclusion[f]
}

// Identity returns the pre-authorization document identity
func (c *DocumentContext) Identity() model.Identity {
	return model.Identity{
		Provider: c.Provider.Document,
		Series:   c.Series,
		Number:   c.Number,
	}
}

func documentTag(kind int) string {
	if kind == InscriptionCPF {
		return "CPF"
	}
	return "CNPJ"
}
