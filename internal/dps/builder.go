package dps

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/nfse-issuer/internal/decimal"
	"github.com/rezonia/nfse-issuer/internal/model"
)

// DefaultAppVersion is reported in verAplic when none is configured
const DefaultAppVersion = "nfse-issuer-1.0"

const maxDescription = 2000

var maxISSRate = decimal.NewFromInt(5)

// Builder turns raw Input into a DocumentContext
type Builder struct {
	environment model.Environment
	appVersion  string
	clock       func() time.Time
	location    *time.Location
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithEnvironment sets tpAmb
func WithEnvironment(env model.Environment) BuilderOption {
	return func(b *Builder) {
		b.environment = env
	}
}

// WithAppVersion sets verAplic
func WithAppVersion(v string) BuilderOption {
	return func(b *Builder) {
		if v != "" {
			b.appVersion = v
		}
	}
}

// WithClock injects the server clock
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.clock = clock
	}
}

// WithLocation overrides the fiscal time zone
func WithLocation(loc *time.Location) BuilderOption {
	return func(b *Builder) {
		if loc != nil {
			b.location = loc
		}
	}
}

// NewBuilder creates a builder for the homologation environment by default
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		environment: model.EnvironmentHomologation,
		appVersion:  DefaultAppVersion,
		clock:       time.Now,
		location:    SaoPaulo(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SaoPaulo returns the fiscal time zone, falling back to a fixed -03:00
func SaoPaulo() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// Now returns the injected clock in the fiscal zone, truncated to seconds
func (b *Builder) Now() time.Time {
	return b.clock().In(b.location).Truncate(time.Second)
}

// Environment returns the configured tpAmb
func (b *Builder) Environment() model.Environment {
	return b.environment
}

// AppVersion returns the configured verAplic
func (b *Builder) AppVersion() string {
	return b.appVersion
}

// Build validates in and resolves every field the assembler reads.
// It fails on the first invalid field.
func (b *Builder) Build(in Input) (*DocumentContext, error) {
	c := &DocumentContext{
		Environment: b.environment,
		AppVersion:  b.appVersion,
	}
	present := make(map[Field]bool)

	steps := []func(Input, *DocumentContext, map[Field]bool) error{
		buildIdentification,
		buildProvider,
		buildTaker,
		buildService,
		buildValues,
	}
	for _, step := range steps {
		if err := step(in, c, present); err != nil {
			return nil, err
		}
	}

	now := b.Now()
	c.EmittedAt = now
	c.Competence = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	id, err := NewDPSID(c.EmissionMunicipality, c.Provider.InscriptionKind, c.Provider.Document, c.Series, c.Number)
	if err != nil {
		return nil, model.NewValidationError("infDPS.Id", nil, "format", err.Error())
	}
	c.DPSID = id

	c.inclusion = Resolve(Facts{
		SimplesNacional: c.Provider.OpSimpNac,
		Apuracao:        c.Provider.RegApTribSN,
		Taxation:        c.Values.Taxation,
		NameOnFile:      in.Provider.NameOnFile,
		Present:         present,
	})
	return c, nil
}

func buildIdentification(in Input, c *DocumentContext, _ map[Field]bool) error {
	series := strings.TrimSpace(in.Series)
	if !digitsBetween(series, 1, 5) {
		return model.NewValidationError("serie", in.Series, "format", "series must have 1 to 5 digits")
	}
	// the DPS Id pads the series, so "01" and "1" name the same document
	if series = strings.TrimLeft(series, "0"); series == "" {
		series = "0"
	}
	number := strings.TrimLeft(strings.TrimSpace(in.Number), "0")
	if !digitsBetween(number, 1, 15) {
		return model.NewValidationError("nDPS", in.Number, "format", "number must have 1 to 15 digits and be greater than zero")
	}
	if !digitsBetween(in.EmissionMunicipality, 7, 7) {
		return model.NewValidationError("cLocEmi", in.EmissionMunicipality, "format", "emission municipality must be a 7-digit IBGE code")
	}
	emitter := in.EmitterType
	if emitter == 0 {
		emitter = EmitterProvider
	}
	if emitter < EmitterProvider || emitter > EmitterIntermediary {
		return model.NewValidationError("tpEmit", in.EmitterType, "enum", "emitter type must be 1, 2 or 3")
	}

	c.Series = series
	c.Number = number
	c.EmissionMunicipality = in.EmissionMunicipality
	c.EmitterType = emitter
	return nil
}

func buildProvider(in Input, c *DocumentContext, present map[Field]bool) error {
	p := in.Provider
	doc, kind, err := resolveDocument("prest", p.CNPJ, p.CPF)
	if err != nil {
		return err
	}

	opSimpNac := p.Regime.SimplesNacional
	if opSimpNac == 0 {
		opSimpNac = SimplesNotOpted
	}
	if opSimpNac < SimplesNotOpted || opSimpNac > SimplesMEEPP {
		return model.NewValidationError("prest.regTrib.opSimpNac", p.Regime.SimplesNacional, "enum", "Simples Nacional option must be 1, 2 or 3")
	}

	regApTribSN := 0
	if opSimpNac == SimplesMEEPP {
		regApTribSN = p.Regime.Apuracao
		if regApTribSN < ApuracaoSN || regApTribSN > ApuracaoOutsideSN {
			return model.NewValidationError("prest.regTrib.regApTribSN", p.Regime.Apuracao, "required", "ME/EPP providers must inform the apuração mode (1, 2 or 3)")
		}
	}

	regEspTrib := RegimeNone
	if p.Regime.Special != nil {
		regEspTrib = *p.Regime.Special
	}
	if (regEspTrib < 0 || regEspTrib > 6) && regEspTrib != 9 {
		return model.NewValidationError("prest.regTrib.regEspTrib", regEspTrib, "enum", "special regime must be 0 to 6 or 9")
	}

	im := strings.TrimSpace(p.MunicipalRegistration)
	if len(im) > 15 {
		return model.NewValidationError("prest.IM", im, "length", "municipal registration must have at most 15 characters")
	}

	name := strings.TrimSpace(p.LegalName)
	if name == "" && !p.NameOnFile {
		return model.NewValidationError("prest.xNome", nil, "required", "provider legal name is required when not on file with the authority")
	}
	if len(name) > 300 {
		return model.NewValidationError("prest.xNome", nil, "length", "provider legal name must have at most 300 characters")
	}

	phone, email, err := resolveContact("prest", p.Phone, p.Email)
	if err != nil {
		return err
	}

	c.Provider = ProviderContext{
		Document:              doc,
		InscriptionKind:       kind,
		MunicipalRegistration: im,
		LegalName:             name,
		Phone:                 phone,
		Email:                 email,
		OpSimpNac:             opSimpNac,
		RegApTribSN:           regApTribSN,
		RegEspTrib:            regEspTrib,
	}
	present[FieldProviderIM] = im != ""
	present[FieldProviderName] = name != ""
	present[FieldProviderPhone] = phone != ""
	present[FieldProviderEmail] = email != ""
	return nil
}

func buildTaker(in Input, c *DocumentContext, present map[Field]bool) error {
	t := in.Taker
	doc, kind, err := resolveDocument("toma", t.CNPJ, t.CPF)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return model.NewValidationError("toma.xNome", nil, "required", "taker name is required")
	}
	im := strings.TrimSpace(t.MunicipalRegistration)
	if len(im) > 15 {
		return model.NewValidationError("toma.IM", im, "length", "municipal registration must have at most 15 characters")
	}
	phone, email, err := resolveContact("toma", t.Phone, t.Email)
	if err != nil {
		return err
	}

	var addr Address
	if t.Address != nil {
		addr = *t.Address
		addr.PostalCode = OnlyDigits(addr.PostalCode)
		addr.Complement = strings.TrimSpace(addr.Complement)
		switch {
		case !digitsBetween(addr.MunicipalityCode, 7, 7):
			return model.NewValidationError("toma.end.endNac.cMun", addr.MunicipalityCode, "format", "taker municipality must be a 7-digit IBGE code")
		case len(addr.PostalCode) != 8:
			return model.NewValidationError("toma.end.endNac.CEP", t.Address.PostalCode, "format", "postal code must have 8 digits")
		case strings.TrimSpace(addr.Street) == "":
			return model.NewValidationError("toma.end.xLgr", nil, "required", "street is required")
		case strings.TrimSpace(addr.Number) == "":
			return model.NewValidationError("toma.end.nro", nil, "required", "street number is required")
		case strings.TrimSpace(addr.District) == "":
			return model.NewValidationError("toma.end.xBairro", nil, "required", "district is required")
		}
	}

	c.Taker = TakerContext{
		Document:              doc,
		InscriptionKind:       kind,
		MunicipalRegistration: im,
		Name:                  name,
		Address:               addr,
		Phone:                 phone,
		Email:                 email,
	}
	present[FieldTakerIM] = im != ""
	present[FieldTakerAddress] = t.Address != nil
	present[FieldTakerComplement] = addr.Complement != ""
	present[FieldTakerPhone] = phone != ""
	present[FieldTakerEmail] = email != ""
	return nil
}

func buildService(in Input, c *DocumentContext, present map[Field]bool) error {
	s := in.Service
	if !digitsBetween(s.MunicipalityCode, 7, 7) {
		return model.NewValidationError("serv.locPrest.cLocPrestacao", s.MunicipalityCode, "format", "service municipality must be a 7-digit IBGE code")
	}
	national := OnlyDigits(s.NationalCode)
	if len(national) != 6 {
		return model.NewValidationError("serv.cServ.cTribNac", s.NationalCode, "format", "national tax code must have 6 digits")
	}
	municipal := strings.TrimSpace(s.MunicipalCode)
	if municipal != "" && !digitsBetween(municipal, 3, 3) {
		return model.NewValidationError("serv.cServ.cTribMun", s.MunicipalCode, "format", "municipal tax code must have 3 digits")
	}
	description := strings.TrimSpace(s.Description)
	if description == "" {
		return model.NewValidationError("serv.cServ.xDescServ", nil, "required", "service description is required")
	}
	if len([]rune(description)) > maxDescription {
		return model.NewValidationError("serv.cServ.xDescServ", nil, "length", "service description must have at most 2000 characters")
	}
	nbs := OnlyDigits(s.NBSCode)
	if s.NBSCode != "" && len(nbs) != 9 {
		return model.NewValidationError("serv.cServ.cNBS", s.NBSCode, "format", "NBS code must have 9 digits")
	}

	c.Service = ServiceContext{
		MunicipalityCode: s.MunicipalityCode,
		NationalCode:     national,
		MunicipalCode:    municipal,
		Description:      description,
		NBSCode:          nbs,
	}
	present[FieldServiceMunicipalCode] = municipal != ""
	present[FieldServiceNBS] = nbs != ""
	return nil
}

func buildValues(in Input, c *DocumentContext, present map[Field]bool) error {
	v := in.Values
	if !money.IsPositive(v.ServiceValue) {
		return model.NewValidationError("valores.vServPrest.vServ", v.ServiceValue.String(), "positive", "service value must be greater than zero")
	}
	if !money.IsNonNegative(v.UnconditionalDiscount) {
		return model.NewValidationError("valores.vDescCondIncond.vDescIncond", v.UnconditionalDiscount.String(), "non_negative", "discount cannot be negative")
	}
	if !money.IsNonNegative(v.ConditionalDiscount) {
		return model.NewValidationError("valores.vDescCondIncond.vDescCond", v.ConditionalDiscount.String(), "non_negative", "discount cannot be negative")
	}
	service := money.RoundBRL(v.ServiceValue)
	unconditional := money.RoundBRL(v.UnconditionalDiscount)
	conditional := money.RoundBRL(v.ConditionalDiscount)
	if unconditional.Add(conditional).GreaterThan(service) {
		return model.NewValidationError("valores.vDescCondIncond", unconditional.Add(conditional).String(), "max", "discounts cannot exceed the service value")
	}

	taxation := v.Taxation
	if taxation == 0 {
		taxation = TaxationTaxable
	}
	if taxation < TaxationTaxable || taxation > TaxationNonIncident {
		return model.NewValidationError("valores.trib.tribMun.tribISSQN", v.Taxation, "enum", "ISSQN taxation must be 1 to 4")
	}
	withholding := v.Withholding
	if withholding == 0 {
		withholding = WithholdingNone
	}
	if withholding < WithholdingNone || withholding > WithholdingIntermediary {
		return model.NewValidationError("valores.trib.tribMun.tpRetISSQN", v.Withholding, "enum", "ISSQN withholding must be 1 to 3")
	}

	rate := money.Zero
	if v.ISSRate != nil {
		rate = *v.ISSRate
		if !money.Between(rate, money.Zero, maxISSRate) {
			return model.NewValidationError("valores.trib.tribMun.pAliq", rate.String(), "range", "ISS rate must be between 0 and 5 percent")
		}
	}

	var totals TaxTotals
	if v.TaxTotals != nil {
		totals = *v.TaxTotals
		for _, amount := range []decimal.Decimal{totals.Federal, totals.State, totals.Municipal} {
			if !money.IsNonNegative(amount) {
				return model.NewValidationError("valores.trib.totTrib.vTotTrib", amount.String(), "non_negative", "approximate taxes cannot be negative")
			}
		}
	}

	base := money.TaxableBase(service, unconditional, money.Zero)
	amount := money.Zero
	if taxation == TaxationTaxable {
		amount = money.CalculateISS(base, rate)
	}

	c.Values = ValuesContext{
		ServiceValue:          service,
		UnconditionalDiscount: unconditional,
		ConditionalDiscount:   conditional,
		TaxableBase:           base,
		Taxation:              taxation,
		Withholding:           withholding,
		ISSRate:               rate,
		ISSAmount:             amount,
		TaxTotals:             totals,
	}
	present[FieldUnconditionalDiscount] = money.IsPositive(unconditional)
	present[FieldConditionalDiscount] = money.IsPositive(conditional)
	present[FieldISSRate] = v.ISSRate != nil
	present[FieldTaxTotals] = v.TaxTotals != nil
	return nil
}

// resolveDocument requires exactly one valid CNPJ or CPF
func resolveDocument(prefix, cnpj, cpf string) (string, int, error) {
	cnpj, cpf = OnlyDigits(cnpj), OnlyDigits(cpf)
	switch {
	case cnpj == "" && cpf == "":
		return "", 0, model.NewValidationError(prefix+".CNPJ", nil, "required", "CNPJ or CPF is required")
	case cnpj != "" && cpf != "":
		return "", 0, model.NewValidationError(prefix+".CNPJ", cnpj, "exclusive", "inform either CNPJ or CPF, not both")
	case cnpj != "":
		if !ValidCNPJ(cnpj) {
			return "", 0, model.NewValidationError(prefix+".CNPJ", cnpj, "check_digit", "invalid CNPJ")
		}
		return cnpj, InscriptionCNPJ, nil
	default:
		if !ValidCPF(cpf) {
			return "", 0, model.NewValidationError(prefix+".CPF", cpf, "check_digit", "invalid CPF")
		}
		return cpf, InscriptionCPF, nil
	}
}

func resolveContact(prefix, phone, email string) (string, string, error) {
	phone = OnlyDigits(phone)
	if phone != "" && !digitsBetween(phone, 6, 20) {
		return "", "", model.NewValidationError(prefix+".fone", phone, "format", "phone must have 6 to 20 digits")
	}
	email = strings.TrimSpace(email)
	if email != "" && !validEmail(email) {
		return "", "", model.NewValidationError(prefix+".email", email, "format", "invalid email address")
	}
	return phone, email, nil
}
