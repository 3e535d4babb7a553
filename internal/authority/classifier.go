package authority

import (
	"net/http"
	"strings"

	"github.com/rezonia/nfse-issuer/internal/model"
)

// GenericErrorMessage is reported when an error response carries no message
const GenericErrorMessage = "authority rejected the document without a message"

// Convention names the return-code prefixes of one authority
type Convention struct {
	Name           string   `mapstructure:"name" json:"name"`
	ErrorPrefixes  []string `mapstructure:"error_prefixes" json:"error_prefixes"`
	AlertPrefixes  []string `mapstructure:"alert_prefixes" json:"alert_prefixes"`
	DuplicateCodes []string `mapstructure:"duplicate_codes" json:"duplicate_codes"`
}

// NationalConvention is the convention of the national NFSe environment
func NationalConvention() Convention {
	return Convention{
		Name:           "national",
		ErrorPrefixes:  []string{"E"},
		AlertPrefixes:  []string{"L"},
		DuplicateCodes: []string{"E0014"},
	}
}

// Classification reports exactly one outcome for a return code
type Classification struct {
	IsSuccess bool `json:"is_success"`
	IsAlert   bool `json:"is_alert"`
	IsError   bool `json:"is_error"`
}

// Outcome names the classification
func (c Classification) Outcome() string {
	switch {
	case c.IsError:
		return "error"
	case c.IsAlert:
		return "alert"
	default:
		return "success"
	}
}

// Result is a classified response with its extracted messages
type Result struct {
	Classification
	Code     string   `json:"code"`
	Messages []string `json:"messages"`
}

// Err returns the rejection carried by an error result, nil otherwise
func (r Result) Err(httpStatus int) error {
	if !r.IsError {
		return nil
	}
	return model.NewAuthorityRejection(r.Code, httpStatus, r.Messages)
}

// Classifier maps return codes to outcomes under a Convention
type Classifier struct {
	convention Convention
}

// NewClassifier creates a classifier; a zero Convention means the national one
func NewClassifier(convention Convention) *Classifier {
	if len(convention.ErrorPrefixes) == 0 && len(convention.AlertPrefixes) == 0 {
		def := NationalConvention()
		if len(convention.DuplicateCodes) == 0 {
			convention.DuplicateCodes = def.DuplicateCodes
		}
		convention.ErrorPrefixes = def.ErrorPrefixes
		convention.AlertPrefixes = def.AlertPrefixes
		if convention.Name == "" {
			convention.Name = def.Name
		}
	}
	return &Classifier{convention: convention}
}

// Convention returns the active convention
func (c *Classifier) Convention() Convention {
	return c.convention
}

// Classify maps a code: error prefixes win over alert prefixes, everything else succeeds
func (c *Classifier) Classify(code string) Classification {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch {
	case hasAnyPrefix(code, c.convention.ErrorPrefixes):
		return Classification{IsError: true}
	case hasAnyPrefix(code, c.convention.AlertPrefixes):
		return Classification{IsAlert: true}
	default:
		return Classification{IsSuccess: true}
	}
}

// ExtractMessages returns every message found in body, in document order
func (c *Classifier) ExtractMessages(body []byte) []string {
	return extractMessages(body)
}

// Evaluate classifies a full response. An HTTP failure status without any
// return code counts as an error.
func (c *Classifier) Evaluate(code string, httpStatus int, body []byte) Result {
	class := c.Classify(code)
	if code == "" && httpStatus >= http.StatusBadRequest {
		class = Classification{IsError: true}
	}
	messages := c.ExtractMessages(body)
	if class.IsError && len(messages) == 0 {
		messages = []string{GenericErrorMessage}
	}
	if messages == nil {
		messages = []string{}
	}
	return Result{Classification: class, Code: code, Messages: messages}
}

// EvaluateResponse classifies a transmitted response
func (c *Classifier) EvaluateResponse(resp *Response) Result {
	return c.Evaluate(resp.Code, resp.StatusCode, resp.Body)
}

// IsDuplicate reports whether code means the DPS was already processed
func (c *Classifier) IsDuplicate(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, d := range c.convention.DuplicateCodes {
		if code == strings.ToUpper(d) {
			return true
		}
	}
	return false
}

var defaultClassifier = NewClassifier(NationalConvention())

// Classify maps a code under the national convention
func Classify(code string) Classification {
	return defaultClassifier.Classify(code)
}

// ExtractMessages scans body under the national convention
func ExtractMessages(body []byte) []string {
	return defaultClassifier.ExtractMessages(body)
}

func hasAnyPrefix(code string, prefixes []string) bool {
	if code == "" {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(code, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
