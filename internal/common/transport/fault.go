package transport

import (
	"bytes"
	"encoding/xml"
	"strings"
	"unicode/utf8"
)

const maxFaultLen = 512

// exceptionReport covers both the WMS ServiceExceptionReport and the OWS
// ExceptionReport documents. Matching is on local element names.
type exceptionReport struct {
	XMLName           xml.Name
	ServiceExceptions []struct {
		Code    string `xml:"code,attr"`
		Locator string `xml:"locator,attr"`
		Text    string `xml:",chardata"`
	} `xml:"ServiceException"`
	Exceptions []struct {
		Code  string   `xml:"exceptionCode,attr"`
		Texts []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

// FaultText reduces an error body to a short human readable message. XML
// exception reports yield their exception text.
func FaultText(body []byte) string {
	b := bytes.TrimSpace(body)
	if len(b) == 0 {
		return ""
	}
	if b[0] == '<' {
		if msg, ok := xmlFault(b); ok {
			return truncate(msg)
		}
	}
	return truncate(string(b))
}

// IsFault reports whether body is an XML exception report.
func IsFault(body []byte) bool {
	b := bytes.TrimSpace(body)
	if len(b) == 0 || b[0] != '<' {
		return false
	}
	_, ok := xmlFault(b)
	return ok
}

func xmlFault(b []byte) (string, bool) {
	var rep exceptionReport
	if err := xml.Unmarshal(b, &rep); err != nil {
		return "", false
	}
	switch rep.XMLName.Local {
	case "ServiceExceptionReport", "ExceptionReport":
	default:
		return "", false
	}
	var parts []string
	for _, se := range rep.ServiceExceptions {
		if t := strings.TrimSpace(se.Text); t != "" {
			parts = append(parts, t)
		}
	}
	for _, e := range rep.Exceptions {
		for _, t := range e.Texts {
			if t = strings.TrimSpace(t); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return rep.XMLName.Local, true
	}
	return strings.Join(parts, "; "), true
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxFaultLen {
		cut := maxFaultLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
