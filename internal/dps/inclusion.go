package dps

// Field names a conditional DPS tag by its layout path
type Field string

const (
	FieldProviderIM            Field = "prest.IM"
	FieldProviderName          Field = "prest.xNome"
	FieldProviderPhone         Field = "prest.fone"
	FieldProviderEmail         Field = "prest.email"
	FieldRegApTribSN           Field = "prest.regTrib.regApTribSN"
	FieldTakerIM               Field = "toma.IM"
	FieldTakerAddress          Field = "toma.end"
	FieldTakerComplement       Field = "toma.end.xCpl"
	FieldTakerPhone            Field = "toma.fone"
	FieldTakerEmail            Field = "toma.email"
	FieldServiceMunicipalCode  Field = "serv.cServ.cTribMun"
	FieldServiceNBS            Field = "serv.cServ.cNBS"
	FieldUnconditionalDiscount Field = "valores.vDescCondIncond.vDescIncond"
	FieldConditionalDiscount   Field = "valores.vDescCondIncond.vDescCond"
	FieldISSRate               Field = "valores.trib.tribMun.pAliq"
	FieldTaxTotals             Field = "valores.trib.totTrib.vTotTrib"
)

// Facts are the resolved inputs every inclusion rule is evaluated against
type Facts struct {
	SimplesNacional int
	Apuracao        int
	Taxation        int
	NameOnFile      bool
	Present         map[Field]bool
}

func (f Facts) present(field Field) bool {
	return f.Present[field]
}

// Rule decides whether one conditional field is rendered
type Rule struct {
	Field   Field
	Include func(Facts) bool
}

// InclusionTable maps (field, regime facts) to include?.
// Every conditional leaf the assembler emits has exactly one row here.
var InclusionTable = []Rule{
	{FieldProviderIM, func(f Facts) bool {
		return f.SimplesNacional != SimplesMEI && f.present(FieldProviderIM)
	}},
	{FieldProviderName, func(f Facts) bool {
		return !f.NameOnFile && f.present(FieldProviderName)
	}},
	{FieldProviderPhone, presentOnly(FieldProviderPhone)},
	{FieldProviderEmail, presentOnly(FieldProviderEmail)},
	{FieldRegApTribSN, func(f Facts) bool {
		return f.SimplesNacional == SimplesMEEPP
	}},
	{FieldTakerIM, presentOnly(FieldTakerIM)},
	{FieldTakerAddress, presentOnly(FieldTakerAddress)},
	{FieldTakerComplement, func(f Facts) bool {
		return f.present(FieldTakerAddress) && f.present(FieldTakerComplement)
	}},
	{FieldTakerPhone, presentOnly(FieldTakerPhone)},
	{FieldTakerEmail, presentOnly(FieldTakerEmail)},
	{FieldServiceMunicipalCode, presentOnly(FieldServiceMunicipalCode)},
	{FieldServiceNBS, presentOnly(FieldServiceNBS)},
	{FieldUnconditionalDiscount, presentOnly(FieldUnconditionalDiscount)},
	{FieldConditionalDiscount, presentOnly(FieldConditionalDiscount)},
	{FieldISSRate, func(f Facts) bool {
		if f.Taxation != TaxationTaxable || !f.present(FieldISSRate) {
			return false
		}
		// SN collects ISSQN itself; the rate is not informed
		return !(f.SimplesNacional == SimplesMEEPP && f.Apuracao == ApuracaoSN)
	}},
	{FieldTaxTotals, presentOnly(FieldTaxTotals)},
}

func presentOnly(field Field) func(Facts) bool {
	return func(f Facts) bool {
		return f.present(field)
	}
}

// Inclusion is the evaluated table
type Inclusion map[Field]bool

// Resolve evaluates every rule once
func Resolve(f Facts) Inclusion {
	out := make(Inclusion, len(InclusionTable))
	for _, rule := range InclusionTable {
		out[rule.Field] = rule.Include(f)
	}
	return out
}

// Fields lists the conditional fields in table order
func Fields() []Field {
	out := make([]Field, len(InclusionTable))
	for i, rule := range InclusionTable {
		out[i] = rule.Field
	}
	return out
}
