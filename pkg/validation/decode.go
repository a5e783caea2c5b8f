package validation

import (
	"encoding/json"

	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// DecodeEnvelope validates raw as an RPC envelope and decodes it
func DecodeEnvelope(raw json.RawMessage) (*protocol.Envelope, *protocol.Error) {
	if err := Validate(raw, SchemaEnvelope); err != nil {
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("message: %v", err)
	}
	return &env, nil
}

// DecodeCall validates and decodes an RPC_CALL payload
func DecodeCall(raw json.RawMessage) (*protocol.CallPayload, *protocol.Error) {
	if err := Validate(raw, SchemaCall); err != nil {
		return nil, err
	}
	var call protocol.CallPayload
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, invalid("payload: %v", err)
	}
	return &call, nil
}

// DecodeBack validates and decodes an RPC_BACK payload
func DecodeBack(raw json.RawMessage) (*protocol.BackPayload, *protocol.Error) {
	if err := Validate(raw, SchemaBack); err != nil {
		return nil, err
	}
	var back protocol.BackPayload
	if err := json.Unmarshal(raw, &back); err != nil {
		return nil, invalid("payload: %v", err)
	}
	return &back, nil
}

// SelfReport is a decoded device-status message
type SelfReport struct {
	FromUUID string
	Topic    string
	Online   bool
}

// DecodeSelfReport reports whether raw has the device-status shape and, if
// so, returns its content. The topic is returned as sent; callers check it.
func DecodeSelfReport(raw json.RawMessage) (*SelfReport, bool) {
	if Validate(raw, SchemaSelfReport) != nil {
		return nil, false
	}
	var msg struct {
		Topic    string                     `json:"topic"`
		FromUUID string                     `json:"fromUuid"`
		Payload  protocol.SelfReportPayload `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	return &SelfReport{FromUUID: msg.FromUUID, Topic: msg.Topic, Online: msg.Payload.Online}, true
}

// DecodeServiceNames validates and decodes a getServiceStatus filter. A
// missing or null filter yields nil names and no error.
func DecodeServiceNames(raw json.RawMessage) ([]string, *protocol.Error) {
	if kind := jsonKind(raw); kind == "" || kind == "null" {
		return nil, nil
	}
	if err := Validate(raw, SchemaServiceNames); err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, invalid("names: %v", err)
	}
	return names, nil
}
