package protocols

import "github.com/drblury/hookflow/internal/runtime/outbound"

// IssueCredential offers and issues a credential over a relationship.
var IssueCredential = Descriptor{Family: "issue-credential", Version: "1.0"}

const (
	IssueCredentialOffer     = "offer"
	IssueCredentialIssue     = "issue"
	IssueCredentialAskAccept = "ask-accept"
	IssueCredentialSent      = "sent"

	IssueCredentialOfferSent      = "OFFER_SENT_TO_USER"
	IssueCredentialOfferAccepted  = "OFFER_ACCEPTED_BY_USER"
	IssueCredentialCredentialSent = "CREDENTIAL_SENT_TO_USER"
)

// Offer is the content of a credential offer.
type Offer struct {
	Name      string
	CredDefID string
	Values    map[string]string
	Price     string
}

// OfferCredentialMessage offers a credential to relationshipDID.
func OfferCredentialMessage(relationshipDID string, offer Offer) outbound.Message {
	values := make(map[string]any, len(offer.Values))
	for k, v := range offer.Values {
		values[k] = v
	}
	price := offer.Price
	if price == "" {
		price = "0"
	}
	return IssueCredential.Message(IssueCredentialOffer, forRelationship(relationshipDID, map[string]any{
		"name":              offer.Name,
		"cred_def_id":       offer.CredDefID,
		"credential_values": values,
		"price":             price,
	}))
}

// IssueCredentialMessage issues the credential previously offered on threadID.
func IssueCredentialMessage(relationshipDID, threadID string) outbound.Message {
	return IssueCredential.Message(IssueCredentialIssue, forRelationship(relationshipDID, map[string]any{})).
		InThread(threadID)
}
