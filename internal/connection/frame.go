package connection

import "encoding/json"

// Frame is the wire envelope for both directions of a stream: client
// requests and server pushes/responses. TypeURL selects the variant;
// Body carries its JSON payload. ResultCode/ErrorCode/Message are only
// populated on responses to a client request.
type Frame struct {
	TypeURL       string            `json:"type_url"`
	Body          json.RawMessage   `json:"body,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`

	ResultCode int    `json:"result_code,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Client request type_urls, per the external wire protocol.
const (
	TypeServerCheck           = "ServerCheck"
	TypeConnectionSetup       = "ConnectionSetup"
	TypeInstanceRegister      = "InstanceRegister"
	TypeInstanceDeregister    = "InstanceDeregister"
	TypeInstanceUpdate        = "InstanceUpdate"
	TypeBatchInstanceRegister = "BatchInstanceRegister"
	TypeSubscribeService      = "SubscribeService"
	TypeConfigPublish         = "ConfigPublish"
	TypeConfigQuery           = "ConfigQuery"
	TypeConfigRemove          = "ConfigRemove"
	TypeConfigBatchListen     = "ConfigBatchListen"
	TypeConfigFuzzyWatch      = "ConfigFuzzyWatch"
	TypeHealthCheck           = "HealthCheck"

	// TypePushAck is the client's acknowledgement of a server push,
	// correlated by CorrelationID. It is not part of the external
	// protocol's named request list but is required for the ack/probe
	// loop described alongside it.
	TypePushAck = "PushAck"
)

// TypeRefresh is the backpressure-overflow directive: it carries no
// event body, only a hint that the client should re-query the keys it
// watches because one or more pushes were dropped.
const TypeRefresh = "Refresh"

// Server push type_urls.
const (
	TypeNotifySubscriber   = "NotifySubscriber"
	TypeConfigChangeNotify = "ConfigChangeNotify"
	TypeClientDetection    = "ClientDetection"
	TypeConnectResetReq    = "ConnectResetRequest"
)

// ResultOK is the success result_code; any other value is a typed
// failure.
const ResultOK = 200

// NewResponse builds a response frame correlated to req.
func NewResponse(req *Frame, body json.RawMessage) *Frame {
	return &Frame{
		TypeURL:       req.TypeURL,
		Body:          body,
		CorrelationID: req.CorrelationID,
		ResultCode:    ResultOK,
	}
}

// NewErrorResponse builds a failure response correlated to req.
func NewErrorResponse(req *Frame, resultCode int, errorCode, message string) *Frame {
	return &Frame{
		TypeURL:       req.TypeURL,
		CorrelationID: req.CorrelationID,
		ResultCode:    resultCode,
		ErrorCode:     errorCode,
		Message:       message,
	}
}
