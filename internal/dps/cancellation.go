package dps

import (
	"strconv"
	"strings"
	"time"

	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/xmltree"
)

// EventCancellation is the national cancellation event code
const EventCancellation = "101101"

// Cancellation reason codes (cMotivo)
const (
	ReasonEmissionError  = 1
	ReasonServiceNotDone = 2
	ReasonOther          = 9
)

const (
	minReasonLength = 15
	maxReasonLength = 255
)

// CancellationRequest is the raw data for a cancellation event
type CancellationRequest struct {
	AccessKey      string
	AuthorDocument string
	ReasonCode     int
	Reason         string
	Sequence       int
}

// CancellationContext is the resolved pedRegEvento view
type CancellationContext struct {
	ID              string
	Environment     model.Environment
	AppVersion      string
	EventAt         time.Time
	AuthorDocument  string
	InscriptionKind int
	AccessKey       string
	Sequence        int
	ReasonCode      int
	Reason          string
}

// BuildCancellation validates req and stamps the event time from the server clock
func (b *Builder) BuildCancellation(req CancellationRequest) (*CancellationContext, error) {
	if !ValidAccessKey(req.AccessKey) {
		return nil, model.NewValidationError("infPedReg.chNFSe", req.AccessKey, "format", "access key must have 50 digits")
	}
	author := OnlyDigits(req.AuthorDocument)
	kind := InscriptionCNPJ
	switch {
	case ValidCNPJ(author):
	case ValidCPF(author):
		kind = InscriptionCPF
	default:
		return nil, model.NewValidationError("infPedReg.CNPJAutor", req.AuthorDocument, "check_digit", "author must be a valid CNPJ or CPF")
	}

	code := req.ReasonCode
	if code == 0 {
		code = ReasonEmissionError
	}
	if code != ReasonEmissionError && code != ReasonServiceNotDone && code != ReasonOther {
		return nil, model.NewValidationError("e101101.cMotivo", req.ReasonCode, "enum", "reason code must be 1, 2 or 9")
	}
	reason := strings.TrimSpace(req.Reason)
	if n := len([]rune(reason)); n < minReasonLength || n > maxReasonLength {
		return nil, model.NewValidationError("e101101.xMotivo", reason, "length", "reason must have 15 to 255 characters")
	}

	seq := req.Sequence
	if seq <= 0 {
		seq = 1
	}
	if seq > 999 {
		return nil, model.NewValidationError("infPedReg.nPedRegEvento", seq, "range", "event sequence must be 1 to 999")
	}

	return &CancellationContext{
		ID:              "PRE" + req.AccessKey + EventCancellation + leftPad(strconv.Itoa(seq), 3),
		Environment:     b.environment,
		AppVersion:      b.appVersion,
		EventAt:         b.Now(),
		AuthorDocument:  author,
		InscriptionKind: kind,
		AccessKey:       req.AccessKey,
		Sequence:        seq,
		ReasonCode:      code,
		Reason:          reason,
	}, nil
}

// AssembleCancellation renders the unsigned pedRegEvento document
func (a *Assembler) AssembleCancellation(c *CancellationContext) ([]byte, error) {
	w := xmltree.New()
	w.Open("pedRegEvento",
		xmltree.Attr{Key: "xmlns", Value: Namespace},
		xmltree.Attr{Key: "versao", Value: LayoutVersion},
	)
	w.Open("infPedReg", xmltree.Attr{Key: "Id", Value: c.ID})
	w.Leaf("tpAmb", strconv.Itoa(int(c.Environment)))
	w.Leaf("verAplic", c.AppVersion)
	w.Leaf("dhEvento", c.EventAt.Format(dateTimeLayout))
	w.Leaf(documentTag(c.InscriptionKind)+"Autor", c.AuthorDocument)
	w.Leaf("chNFSe", c.AccessKey)
	w.Leaf("nPedRegEvento", strconv.Itoa(c.Sequence))
	w.Open("e" + EventCancellation)
	w.Leaf("xDesc", "Cancelamento de NFS-e")
	w.Leaf("cMotivo", strconv.Itoa(c.ReasonCode))
	w.Leaf("xMotivo", c.Reason)
	w.Close("e" + EventCancellation)
	w.Close("infPedReg")
	w.Close("pedRegEvento")
	return w.Bytes()
}
