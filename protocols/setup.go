package protocols

import "github.com/drblury/hookflow/internal/runtime/outbound"

var (
	// IssuerSetup creates or looks up the issuer's public identifier.
	IssuerSetup = Descriptor{Family: "issuer-setup", Version: "0.6"}
	// UpdateEndpoint points the agent service at this webhook. The agent
	// service calls the family "configs".
	UpdateEndpoint = Descriptor{Family: "configs", Version: "0.6"}
	// UpdateConfigs sets the institution details shown to holders.
	UpdateConfigs = Descriptor{Family: "update-configs", Version: "0.6"}
)

const (
	IssuerSetupCreate                  = "create"
	IssuerSetupCurrentPublicIdentifier = "current-public-identifier"
	IssuerSetupPublicIdentifierCreated = "public-identifier-created"
	IssuerSetupPublicIdentifier        = "public-identifier"

	UpdateEndpointComMethod = "UPDATE_COM_METHOD"
	UpdateConfigsUpdate     = "update"
)

// comMethodWebhook is the agent service's type code for webhook delivery.
const comMethodWebhook = 2

func CreateIssuerMessage() outbound.Message {
	return IssuerSetup.Message(IssuerSetupCreate, map[string]any{})
}

func CurrentPublicIdentifierMessage() outbound.Message {
	return IssuerSetup.Message(IssuerSetupCurrentPublicIdentifier, map[string]any{})
}

// UpdateEndpointMessage registers endpointURL as the webhook the agent
// service delivers to.
func UpdateEndpointMessage(endpointURL string) outbound.Message {
	return UpdateEndpoint.Message(UpdateEndpointComMethod, map[string]any{
		"comMethod": map[string]any{
			"id":    "webhook",
			"type":  comMethodWebhook,
			"value": endpointURL,
		},
	})
}

// UpdateConfigsMessage sets the institution name and logo shown to holders.
func UpdateConfigsMessage(name, logoURL string) outbound.Message {
	return UpdateConfigs.Message(UpdateConfigsUpdate, map[string]any{
		"configs": []any{
			map[string]any{"name": "name", "value": name},
			map[string]any{"name": "logoUrl", "value": logoURL},
		},
	})
}
