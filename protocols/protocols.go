// Package protocols describes the agent protocol families a hookflow service
// typically handles: their family and version, the message names and statuses
// the agent service sends back, and constructors for the outbound actions that
// start or continue each protocol.
//
// Descriptors only build messages. Sending happens through the producer a
// handler receives in its MessageContext:
//
//	msg := protocols.WriteSchemaMessage("Diploma", "0.1", "name", "degree")
//	if err := mc.Send(ctx, msg); err != nil {
//		return err
//	}
package protocols

import (
	"strings"

	"github.com/drblury/hookflow/internal/runtime/outbound"
)

// StatusReport is the message name the agent service uses for protocol
// progress reports. The progress itself is carried in the "status" field.
const StatusReport = "status-report"

// ProblemReport is the message name of protocol failures.
const ProblemReport = "problem-report"

// Descriptor identifies one protocol family and version.
type Descriptor struct {
	Family  string
	Version string
}

// Type renders the fully qualified message type identifier of name using the
// default agent qualifier. The result can be passed to a type-level
// registration.
func (d Descriptor) Type(name string) string {
	return d.TypeWithQualifier(outbound.DefaultQualifier, name)
}

// TypeWithQualifier is Type for a custom qualifier.
func (d Descriptor) TypeWithQualifier(qualifier, name string) string {
	qualifier = strings.TrimSuffix(qualifier, ";")
	return qualifier + ";spec/" + d.Family + "/" + d.Version + "/" + name
}

// StatusReportType is the identifier of the family's status reports.
func (d Descriptor) StatusReportType() string {
	return d.Type(StatusReport)
}

// Message builds an outbound message of the family that starts a new thread.
func (d Descriptor) Message(name string, body map[string]any) outbound.Message {
	return outbound.NewMessage(d.Family, d.Version, name, body)
}

func (d Descriptor) String() string {
	return d.Family + "/" + d.Version
}

// forRelationship adds the relationship decorator addressed messages carry.
func forRelationship(relationshipDID string, body map[string]any) map[string]any {
	if relationshipDID != "" {
		body["~for_relationship"] = relationshipDID
	}
	return body
}
