package protocols

import "github.com/drblury/hookflow/internal/runtime/outbound"

// Relationship creates relationship DIDs and their out-of-band invitations.
var Relationship = Descriptor{Family: "relationship", Version: "1.0"}

const (
	RelationshipCreate           = "create"
	RelationshipCreated          = "created"
	RelationshipConnectionInvite = "connection-invitation"
	RelationshipInvitation       = "invitation"
)

// CreateRelationshipMessage starts a relationship labelled label.
func CreateRelationshipMessage(label string) outbound.Message {
	body := map[string]any{}
	if label != "" {
		body["label"] = label
	}
	return Relationship.Message(RelationshipCreate, body)
}

// ConnectionInvitationMessage asks for an invitation on an existing
// relationship thread.
func ConnectionInvitationMessage(relationshipDID, threadID string) outbound.Message {
	return Relationship.Message(RelationshipConnectionInvite, forRelationship(relationshipDID, map[string]any{})).
		InThread(threadID)
}
