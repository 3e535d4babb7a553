package dps

import (
	"strconv"

	money "github.com/rezonia/nfse-issuer/internal/decimal"
	"github.com/rezonia/nfse-issuer/internal/xmltree"
)

const (
	dateTimeLayout = "2006-01-02T15:04:05-07:00"
	dateLayout     = "2006-01-02"
)

// step renders one schema block; steps run in the fixed layout order
type step func(w *xmltree.Writer, c *DocumentContext)

var dpsSteps = []step{
	identificationStep,
	providerStep,
	takerStep,
	serviceStep,
	valuesStep,
}

// Assembler renders contexts into DPS and event XML
type Assembler struct{}

// NewAssembler creates an assembler
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble renders the unsigned DPS document
func (a *Assembler) Assemble(c *DocumentContext) ([]byte, error) {
	w := xmltree.New()
	w.Open("DPS",
		xmltree.Attr{Key: "xmlns", Value: Namespace},
		xmltree.Attr{Key: "versao", Value: LayoutVersion},
	)
	w.Open("infDPS", xmltree.Attr{Key: "Id", Value: c.DPSID})
	for _, s := range dpsSteps {
		s(w, c)
	}
	w.Close("infDPS")
	w.Close("DPS")
	return w.Bytes()
}

func identificationStep(w *xmltree.Writer, c *DocumentContext) {
	w.Leaf("tpAmb", strconv.Itoa(int(c.Environment)))
	w.Leaf("dhEmi", c.EmittedAt.Format(dateTimeLayout))
	w.Leaf("verAplic", c.AppVersion)
	w.Leaf("serie", c.Series)
	w.Leaf("nDPS", c.Number)
	w.Leaf("dCompet", c.Competence.Format(dateLayout))
	w.Leaf("tpEmit", strconv.Itoa(c.EmitterType))
	w.Leaf("cLocEmi", c.EmissionMunicipality)
}

func providerStep(w *xmltree.Writer, c *DocumentContext) {
	p := c.Provider
	w.Open("prest")
	w.Leaf(documentTag(p.InscriptionKind), p.Document)
	w.LeafIf(c.Includes(FieldProviderIM), "IM", p.MunicipalRegistration)
	w.LeafIf(c.Includes(FieldProviderName), "xNome", p.LegalName)
	w.LeafIf(c.Includes(FieldProviderPhone), "fone", p.Phone)
	w.LeafIf(c.Includes(FieldProviderEmail), "email", p.Email)
	w.Open("regTrib")
	w.Leaf("opSimpNac", strconv.Itoa(p.OpSimpNac))
	w.LeafIf(c.Includes(FieldRegApTribSN), "regApTribSN", strconv.Itoa(p.RegApTribSN))
	w.Leaf("regEspTrib", strconv.Itoa(p.RegEspTrib))
	w.Close("regTrib")
	w.Close("prest")
}

func takerStep(w *xmltree.Writer, c *DocumentContext) {
	t := c.Taker
	w.Open("toma")
	w.Leaf(documentTag(t.InscriptionKind), t.Document)
	w.LeafIf(c.Includes(FieldTakerIM), "IM", t.MunicipalRegistration)
	w.Leaf("xNome", t.Name)
	if c.Includes(FieldTakerAddress) {
		w.Open("end")
		w.Open("endNac")
		w.Leaf("cMun", t.Address.MunicipalityCode)
		w.Leaf("CEP", t.Address.PostalCode)
		w.Close("endNac")
		w.Leaf("xLgr", t.Address.Street)
		w.Leaf("nro", t.Address.Number)
		w.LeafIf(c.Includes(FieldTakerComplement), "xCpl", t.Address.Complement)
		w.Leaf("xBairro", t.Address.District)
		w.Close("end")
	}
	w.LeafIf(c.Includes(FieldTakerPhone), "fone", t.Phone)
	w.LeafIf(c.Includes(FieldTakerEmail), "email", t.Email)
	w.Close("toma")
}

func serviceStep(w *xmltree.Writer, c *DocumentContext) {
	s := c.Service
	w.Open("serv")
	w.Open("locPrest")
	w.Leaf("cLocPrestacao", s.MunicipalityCode)
	w.Close("locPrest")
	w.Open("cServ")
	w.Leaf("cTribNac", s.NationalCode)
	w.LeafIf(c.Includes(FieldServiceMunicipalCode), "cTribMun", s.MunicipalCode)
	w.Leaf("xDescServ", s.Description)
	w.LeafIf(c.Includes(FieldServiceNBS), "cNBS", s.NBSCode)
	w.Close("cServ")
	w.Close("serv")
}

func valuesStep(w *xmltree.Writer, c *DocumentContext) {
	v := c.Values
	w.Open("valores")
	w.Open("vServPrest")
	w.Leaf("vServ", money.FormatBRL(v.ServiceValue))
	w.Close("vServPrest")
	if c.Includes(FieldUnconditionalDiscount) || c.Includes(FieldConditionalDiscount) {
		w.Open("vDescCondIncond")
		w.LeafIf(c.Includes(FieldUnconditionalDiscount), "vDescIncond", money.FormatBRL(v.UnconditionalDiscount))
		w.LeafIf(c.Includes(FieldConditionalDiscount), "vDescCond", money.FormatBRL(v.ConditionalDiscount))
		w.Close("vDescCondIncond")
	}
	taxStep(w, c)
	w.Close("valores")
}

// taxStep is nested inside <valores>
func taxStep(w *xmltree.Writer, c *DocumentContext) {
	v := c.Values
	w.Open("trib")
	w.Open("tribMun")
	w.Leaf("tribISSQN", strconv.Itoa(v.Taxation))
	w.LeafIf(c.Includes(FieldISSRate), "pAliq", money.FormatRate(v.ISSRate))
	w.Leaf("tpRetISSQN", strconv.Itoa(v.Withholding))
	w.Close("tribMun")
	w.Open("totTrib")
	if c.Includes(FieldTaxTotals) {
		w.Open("vTotTrib")
		w.Leaf("vTotTribFed", money.FormatBRL(v.TaxTotals.Federal))
		w.Leaf("vTotTribEst", money.FormatBRL(v.TaxTotals.State))
		w.Leaf("vTotTribMun", money.FormatBRL(v.TaxTotals.Municipal))
		w.Close("vTotTrib")
	} else {
		w.Leaf("indTotTrib", "0")
	}
	w.Close("totTrib")
	w.Close("trib")
}
