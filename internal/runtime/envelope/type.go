package envelope

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
)

const specMarker = "spec/"

// Problem report identifiers used by agent services.
const (
	ProblemReportName   = "problem-report"
	ProblemReportFamily = "report-problem"
)

// MessageType is a parsed `<domain>;spec/<family>/<version>/<name>` identifier.
// Domain is kept verbatim and never used for routing.
type MessageType struct {
	Raw     string `json:"raw"`
	Domain  string `json:"domain,omitempty"`
	Family  string `json:"family"`
	Version string `json:"version"`
	Name    string `json:"name"`
}

// ParseMessageType splits an identifier into its routing parts. Exactly three
// non-empty segments must follow the last "spec/" marker.
func ParseMessageType(s string) (MessageType, error) {
	idx := strings.LastIndex(s, specMarker)
	if idx < 0 {
		return MessageType{}, errspkg.NewUnrecognizedTypeError(fmt.Errorf("identifier %q has no %q marker", s, specMarker))
	}

	parts := strings.Split(s[idx+len(specMarker):], "/")
	if len(parts) != 3 {
		return MessageType{}, errspkg.NewUnrecognizedTypeError(fmt.Errorf("identifier %q must have family/version/name after %q", s, specMarker))
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return MessageType{}, errspkg.NewUnrecognizedTypeError(fmt.Errorf("identifier %q has an empty segment", s))
		}
	}

	return MessageType{
		Raw:     s,
		Domain:  s[:idx],
		Family:  parts[0],
		Version: parts[1],
		Name:    parts[2],
	}, nil
}

// String renders the routing part of the identifier.
func (mt MessageType) String() string {
	if mt.Family == "" {
		return mt.Raw
	}
	return mt.Family + "/" + mt.Version + "/" + mt.Name
}

// IsZero reports whether mt was never parsed.
func (mt MessageType) IsZero() bool {
	return mt == MessageType{}
}

// IsProblemReport reports whether mt identifies a problem report.
func (mt MessageType) IsProblemReport() bool {
	return mt.Name == ProblemReportName || mt.Family == ProblemReportFamily
}
