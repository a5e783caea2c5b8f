// Package protocol defines the JSON envelopes exchanged between devices on the
// message fabric and the result codes carried in replies.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Envelope topics
const (
	TopicCall         = "RPC_CALL"
	TopicBack         = "RPC_BACK"
	TopicDeviceStatus = "device-status"
)

// Built-in command names
const (
	CmdStatus           = "status"
	CmdStatusCode       = "0009"
	CmdGetServiceStatus = "getServiceStatus"
)

// Devices is the addressing list of an envelope. On the wire it is either a
// single UUID string or an array of UUIDs.
type Devices []string

// UnmarshalJSON accepts a string or an array of strings
func (d *Devices) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Devices{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("devices must be a string or an array of strings: %w", err)
	}
	*d = Devices(list)
	return nil
}

// Envelope is the outer message shape
type Envelope struct {
	Devices    Devices         `json:"devices"`
	Topic      string          `json:"topic"`
	FromUUID   string          `json:"fromUuid"`
	CallbackID string          `json:"callbackId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON writes the devices of an RPC_BACK as an array, even for a
// single origin. Other topics keep the Devices form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Topic != TopicBack {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Devices []string `json:"devices"`
	}{plain: plain(e), Devices: []string(e.Devices)})
}

// CallPayload is the payload of an RPC_CALL envelope
type CallPayload struct {
	CmdName    string          `json:"cmdName"`
	CmdCode    string          `json:"cmdCode"`
	Parameters json.RawMessage `json:"parameters"`
}

// BackPayload is the payload of an RPC_BACK envelope
type BackPayload struct {
	RetCode     int             `json:"retCode"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
}

// UnmarshalJSON accepts retCode in any integral JSON number form, so 200,
// 200.0 and 2e2 all decode as 200.
func (b *BackPayload) UnmarshalJSON(data []byte) error {
	type plain BackPayload
	var msg struct {
		plain
		RetCode json.Number `json:"retCode"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	*b = BackPayload(msg.plain)
	if msg.RetCode == "" {
		b.RetCode = 0
		return nil
	}
	code, err := ParseRetCode(msg.RetCode)
	if err != nil {
		return err
	}
	b.RetCode = code
	return nil
}

// ParseRetCode converts a JSON number to a retCode. Fractional values and
// values outside the int range are rejected.
func ParseRetCode(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt || i > math.MaxInt {
			return 0, fmt.Errorf("retCode %s out of range", n)
		}
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("retCode %q is not a number", string(n))
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("retCode %s is not an integer", n)
	}
	return int(f), nil
}

// SelfReportPayload is the payload of a device-status envelope
type SelfReportPayload struct {
	Online bool `json:"online"`
}

// emptyObject is the default data of a reply
var emptyObject = json.RawMessage(`{}`)

// NewCall builds an RPC_CALL envelope addressed to device
func NewCall(from, device, callbackID string, call CallPayload) (*Envelope, error) {
	if call.Parameters == nil {
		call.Parameters = json.RawMessage("null")
	}
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode call payload: %w", err)
	}
	return &Envelope{
		Devices:    Devices{device},
		Topic:      TopicCall,
		FromUUID:   from,
		CallbackID: callbackID,
		Payload:    payload,
	}, nil
}

// NewReply builds the RPC_BACK answering req. The reply is addressed to the
// request's origin and echoes its callbackId.
func NewReply(self string, req *Envelope, back BackPayload) (*Envelope, error) {
	if back.Data == nil {
		back.Data = emptyObject
	}
	payload, err := json.Marshal(back)
	if err != nil {
		return nil, fmt.Errorf("encode reply payload: %w", err)
	}
	return &Envelope{
		Devices:    Devices{req.FromUUID},
		Topic:      TopicBack,
		FromUUID:   self,
		CallbackID: req.CallbackID,
		Payload:    payload,
	}, nil
}

// NewSelfReport builds the device-status envelope a device broadcasts about
// itself
func NewSelfReport(self string, online bool) (*Envelope, error) {
	payload, err := json.Marshal(SelfReportPayload{Online: online})
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Devices:  Devices{self},
		Topic:    TopicDeviceStatus,
		FromUUID: self,
		Payload:  payload,
	}, nil
}

// MarshalJSON writes a single-device list as a plain string
func (d Devices) MarshalJSON() ([]byte, error) {
	if len(d) == 1 {
		return json.Marshal(d[0])
	}
	return json.Marshal([]string(d))
}

// Success returns the default success payload
func Success() BackPayload {
	return BackPayload{RetCode: CodeSuccess, Description: DescriptionSuccess, Data: emptyObject}
}
