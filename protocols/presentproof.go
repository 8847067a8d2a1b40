package protocols

import (
	"strings"

	"github.com/drblury/hookflow/internal/runtime/outbound"
)

// PresentProof requests a proof presentation over a relationship.
var PresentProof = Descriptor{Family: "present-proof", Version: "1.0"}

const (
	PresentProofRequest = "request"
	PresentProofResult  = "presentation-result"

	PresentProofReceived = "PROOF_RECEIVED"
)

// Restriction limits which credentials may satisfy a proof attribute.
type Restriction struct {
	IssuerDID string `json:"issuer_did,omitempty"`
	CredDefID string `json:"cred_def_id,omitempty"`
	SchemaID  string `json:"schema_id,omitempty"`
}

// ProofAttribute is one requested attribute.
type ProofAttribute struct {
	Name         string        `json:"name"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// RequestProofMessage asks relationshipDID to present attrs.
func RequestProofMessage(relationshipDID, name string, attrs ...ProofAttribute) outbound.Message {
	return PresentProof.Message(PresentProofRequest, forRelationship(relationshipDID, map[string]any{
		"name":        name,
		"proof_attrs": attrs,
	}))
}

// IssuerDIDFromCredDef returns the issuer DID a credential definition id
// starts with.
func IssuerDIDFromCredDef(credDefID string) string {
	did, _, _ := strings.Cut(credDefID, ":")
	return did
}
