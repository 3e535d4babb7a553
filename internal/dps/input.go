package dps

import (
	"github.com/shopspring/decimal"
)

// Simples Nacional options (opSimpNac)
const (
	SimplesNotOpted = 1 // não optante
	SimplesMEI      = 2 // microempreendedor individual
	SimplesMEEPP    = 3 // microempresa / empresa de pequeno porte
)

// Simples Nacional apuração modes (regApTribSN)
const (
	ApuracaoSN        = 1 // federal and municipal taxes by SN
	ApuracaoSNFederal = 2 // federal by SN, ISSQN outside SN
	ApuracaoOutsideSN = 3 // federal and municipal outside SN
)

// Special regime default (regEspTrib)
const RegimeNone = 0

// ISSQN taxation (tribISSQN)
const (
	TaxationTaxable     = 1
	TaxationImmune      = 2
	TaxationExport      = 3
	TaxationNonIncident = 4
)

// ISSQN withholding (tpRetISSQN)
const (
	WithholdingNone         = 1
	WithholdingTaker        = 2
	WithholdingIntermediary = 3
)

// Emitter types (tpEmit)
const (
	EmitterProvider     = 1
	EmitterTaker        = 2
	EmitterIntermediary = 3
)

// Input is the raw business data for one emission request
type Input struct {
	Series               string   `json:"series" yaml:"series"`
	Number               string   `json:"number" yaml:"number"`
	EmissionMunicipality string   `json:"emission_municipality" yaml:"emission_municipality"`
	EmitterType          int      `json:"emitter_type,omitempty" yaml:"emitter_type,omitempty"`
	Provider             Provider `json:"provider" yaml:"provider"`
	Taker                Taker    `json:"taker" yaml:"taker"`
	Service              Service  `json:"service" yaml:"service"`
	Values               Values   `json:"values" yaml:"values"`
}

// Provider is the prestador record
type Provider struct {
	CNPJ                  string `json:"cnpj,omitempty" yaml:"cnpj,omitempty"`
	CPF                   string `json:"cpf,omitempty" yaml:"cpf,omitempty"`
	MunicipalRegistration string `json:"municipal_registration,omitempty" yaml:"municipal_registration,omitempty"`
	LegalName             string `json:"legal_name,omitempty" yaml:"legal_name,omitempty"`
	Phone                 string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email                 string `json:"email,omitempty" yaml:"email,omitempty"`
	// NameOnFile is set when the authority already holds the legal name
	NameOnFile bool   `json:"name_on_file,omitempty" yaml:"name_on_file,omitempty"`
	Regime     Regime `json:"regime" yaml:"regime"`
}

// Regime holds the tax-regime flags; zero values mean "not informed"
type Regime struct {
	SimplesNacional int  `json:"simples_nacional,omitempty" yaml:"simples_nacional,omitempty"`
	Apuracao        int  `json:"apuracao,omitempty" yaml:"apuracao,omitempty"`
	Special         *int `json:"special,omitempty" yaml:"special,omitempty"`
}

// Taker is the tomador record
type Taker struct {
	CNPJ                  string   `json:"cnpj,omitempty" yaml:"cnpj,omitempty"`
	CPF                   string   `json:"cpf,omitempty" yaml:"cpf,omitempty"`
	MunicipalRegistration string   `json:"municipal_registration,omitempty" yaml:"municipal_registration,omitempty"`
	Name                  string   `json:"name" yaml:"name"`
	Address               *Address `json:"address,omitempty" yaml:"address,omitempty"`
	Phone                 string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email                 string   `json:"email,omitempty" yaml:"email,omitempty"`
}

// Address is a national (Brazilian) address
type Address struct {
	MunicipalityCode string `json:"municipality_code" yaml:"municipality_code"`
	PostalCode       string `json:"postal_code" yaml:"postal_code"`
	Street           string `json:"street" yaml:"street"`
	Number           string `json:"number" yaml:"number"`
	Complement       string `json:"complement,omitempty" yaml:"complement,omitempty"`
	District         string `json:"district" yaml:"district"`
}

// Service describes the rendered service
type Service struct {
	MunicipalityCode string `json:"municipality_code" yaml:"municipality_code"`
	NationalCode     string `json:"national_code" yaml:"national_code"`
	MunicipalCode    string `json:"municipal_code,omitempty" yaml:"municipal_code,omitempty"`
	Description      string `json:"description" yaml:"description"`
	NBSCode          string `json:"nbs_code,omitempty" yaml:"nbs_code,omitempty"`
}

// Values carries amounts and the ISSQN configuration
type Values struct {
	ServiceValue          decimal.Decimal  `json:"service_value" yaml:"service_value"`
	UnconditionalDiscount decimal.Decimal  `json:"unconditional_discount,omitempty" yaml:"unconditional_discount,omitempty"`
	ConditionalDiscount   decimal.Decimal  `json:"conditional_discount,omitempty" yaml:"conditional_discount,omitempty"`
	Taxation              int              `json:"taxation,omitempty" yaml:"taxation,omitempty"`
	Withholding           int              `json:"withholding,omitempty" yaml:"withholding,omitempty"`
	ISSRate               *decimal.Decimal `json:"iss_rate,omitempty" yaml:"iss_rate,omitempty"`
	TaxTotals             *TaxTotals       `json:"tax_totals,omitempty" yaml:"tax_totals,omitempty"`
}

// TaxTotals are the approximate tax amounts (Lei 12.741/2012)
type TaxTotals struct {
	Federal   decimal.Decimal `json:"federal" yaml:"federal"`
	State     decimal.Decimal `json:"state" yaml:"state"`
	Municipal decimal.Decimal `json:"municipal" yaml:"municipal"`
}
