package authority

import (
	"regexp"
	"strings"
)

// Response is one authority answer, before classification
type Response struct {
	StatusCode        int    `json:"status_code"`
	Body              []byte `json:"-"`
	Code              string `json:"code,omitempty"`
	AccessKey         string `json:"access_key,omitempty"`
	NFSeNumber        string `json:"nfse_number,omitempty"`
	Protocol          string `json:"protocol,omitempty"`
	Attempts          int    `json:"attempts"`
	AlreadyAuthorized bool   `json:"already_authorized,omitempty"`
}

var (
	codePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<(?:[\w-]+:)?(?:Codigo|cStat)\b[^>]*>\s*([^<\s]+)\s*</`),
		regexp.MustCompile(`"(?:[Cc]odigo|cStat)"\s*:\s*"?([A-Za-z0-9]+)"?`),
	}
	accessKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<(?:[\w-]+:)?(?:chNFSe|chaveAcesso)\b[^>]*>\s*(\d{50})\s*</`),
		regexp.MustCompile(`"(?:chNFSe|chaveAcesso)"\s*:\s*"(\d{50})"`),
		regexp.MustCompile(`Id="NFS(\d{50})"`),
	}
	numberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<(?:[\w-]+:)?nNFSe\b[^>]*>\s*(\d+)\s*</`),
		regexp.MustCompile(`"nNFSe"\s*:\s*"?(\d+)"?`),
	}
	protocolPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<(?:[\w-]+:)?nProt\b[^>]*>\s*([^<\s]+)\s*</`),
		regexp.MustCompile(`"(?:nProt|protocolo)"\s*:\s*"([^"]+)"`),
	}
)

// parseResponse fills the fields scanned out of the raw body
func parseResponse(status int, body []byte) *Response {
	return &Response{
		StatusCode: status,
		Body:       body,
		Code:       firstMatch(codePatterns, body),
		AccessKey:  firstMatch(accessKeyPatterns, body),
		NFSeNumber: firstMatch(numberPatterns, body),
		Protocol:   firstMatch(protocolPatterns, body),
	}
}

// ReturnCode extracts the authority return code from a raw body
func ReturnCode(body []byte) string {
	return firstMatch(codePatterns, body)
}

func firstMatch(patterns []*regexp.Regexp, body []byte) string {
	for _, re := range patterns {
		if m := re.FindSubmatch(body); m != nil {
			return strings.TrimSpace(string(m[1]))
		}
	}
	return ""
}
