package protocols

import "github.com/drblury/hookflow/internal/runtime/outbound"

// Connecting establishes a pairwise connection through an invitation.
var Connecting = Descriptor{Family: "connecting", Version: "0.6"}

const (
	ConnectingCreate          = "CREATE_CONNECTION"
	ConnectingInviteDetail    = "CONN_REQUEST_RESP"
	ConnectingRequestAccepted = "CONN_REQ_ACCEPTED"
	ConnectingGetStatus       = "get-status"

	ConnectingAwaitingResponse = "AWAITING_RESPONSE"
	ConnectingInviteAccepted   = "INVITE_ACCEPTED"
)

// CreateConnectionMessage asks the agent service for a new invitation.
// sourceID is echoed back in the invite detail.
func CreateConnectionMessage(sourceID string, includePublicDID bool) outbound.Message {
	return Connecting.Message(ConnectingCreate, map[string]any{
		"sourceId":         sourceID,
		"includePublicDID": includePublicDID,
	})
}

// ConnectingStatusMessage queries the state of an existing connection thread.
func ConnectingStatusMessage(sourceID, threadID string) outbound.Message {
	return Connecting.Message(ConnectingGetStatus, map[string]any{
		"sourceId": sourceID,
	}).InThread(threadID)
}
