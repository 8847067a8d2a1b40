package protocols

import "github.com/drblury/hookflow/internal/runtime/outbound"

var (
	// WriteSchema writes a credential schema to the ledger.
	WriteSchema = Descriptor{Family: "write-schema", Version: "0.6"}
	// WriteCredDef writes a credential definition to the ledger.
	WriteCredDef = Descriptor{Family: "write-cred-def", Version: "0.6"}
)

const (
	WriteName = "write"

	WriteSuccessful = "WRITE_SUCCESSFUL"
)

// WriteSchemaMessage writes schema name at version with attrNames.
func WriteSchemaMessage(name, version string, attrNames ...string) outbound.Message {
	attrs := make([]any, 0, len(attrNames))
	for _, a := range attrNames {
		attrs = append(attrs, a)
	}
	return WriteSchema.Message(WriteName, map[string]any{
		"name":      name,
		"version":   version,
		"attrNames": attrs,
	})
}

// WriteCredDefMessage writes a credential definition for schemaID. Revocation
// is not supported.
func WriteCredDefMessage(name, schemaID, tag string) outbound.Message {
	if tag == "" {
		tag = "latest"
	}
	return WriteCredDef.Message(WriteName, map[string]any{
		"name":     name,
		"schemaId": schemaID,
		"tag":      tag,
		"revocationDetails": map[string]any{
			"support_revocation": false,
		},
	})
}
