package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

func TestValidate_Envelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "call with single device",
			raw:  `{"devices":"A1","topic":"RPC_CALL","fromUuid":"M","callbackId":"c1","payload":{}}`,
		},
		{
			name: "back with device list and no callback",
			raw:  `{"devices":["A1","B2"],"topic":"RPC_BACK","fromUuid":"M","payload":{"x":1}}`,
		},
		{
			name:    "missing fromUuid",
			raw:     `{"devices":"A1","topic":"RPC_CALL","payload":{}}`,
			wantErr: "fromUuid: field is required",
		},
		{
			name:    "topic outside enum",
			raw:     `{"devices":"A1","topic":"device-status","fromUuid":"M","payload":{}}`,
			wantErr: "topic: must be one of RPC_CALL or RPC_BACK",
		},
		{
			name:    "numeric devices",
			raw:     `{"devices":7,"topic":"RPC_CALL","fromUuid":"M","payload":{}}`,
			wantErr: "devices: must be of type string or array",
		},
		{
			name:    "payload is an array",
			raw:     `{"devices":"A1","topic":"RPC_CALL","fromUuid":"M","payload":[]}`,
			wantErr: "payload: must be of type object",
		},
		{
			name:    "callbackId is a number",
			raw:     `{"devices":"A1","topic":"RPC_CALL","fromUuid":"M","callbackId":5,"payload":{}}`,
			wantErr: "callbackId: must be of type string",
		},
		{
			name:    "not an object",
			raw:     `"hello"`,
			wantErr: "message: must be of type object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(json.RawMessage(tt.raw), SchemaEnvelope)
			if tt.wantErr == "" {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, protocol.CodeInvalidMessage, err.RetCode)
			assert.Equal(t, tt.wantErr, err.Description)
		})
	}
}

func TestValidate_CallPayload(t *testing.T) {
	assert.Nil(t, Validate(json.RawMessage(`{"cmdName":"status","cmdCode":"0009","parameters":null}`), SchemaCall))
	assert.Nil(t, Validate(json.RawMessage(`{"cmdName":"x","cmdCode":"1","parameters":[1,"a"]}`), SchemaCall))

	err := Validate(json.RawMessage(`{"cmdName":"status","cmdCode":"0009"}`), SchemaCall)
	require.NotNil(t, err)
	assert.Equal(t, "parameters: field is required", err.Description)

	err = Validate(json.RawMessage(`{"cmdName":1,"cmdCode":"0009","parameters":{}}`), SchemaCall)
	require.NotNil(t, err)
	assert.Equal(t, "cmdName: must be of type string", err.Description)
}

func TestValidate_BackPayload(t *testing.T) {
	assert.Nil(t, Validate(json.RawMessage(`{"retCode":200,"description":"Success.","data":{}}`), SchemaBack))

	err := Validate(json.RawMessage(`{"retCode":"200","description":"x","data":{}}`), SchemaBack)
	require.NotNil(t, err)
	assert.Equal(t, "retCode: must be of type number", err.Description)

	err = Validate(json.RawMessage(`{"retCode":200,"description":"x"}`), SchemaBack)
	require.NotNil(t, err)
	assert.Equal(t, "data: field is required", err.Description)
}

func TestDecodeBack_IntegralRetCodeForms(t *testing.T) {
	for _, code := range []string{"200", "200.0", "2e2"} {
		back, err := DecodeBack(json.RawMessage(`{"retCode":` + code + `,"description":"Success.","data":{}}`))
		require.Nil(t, err, code)
		assert.Equal(t, protocol.CodeSuccess, back.RetCode, code)
	}

	_, err := DecodeBack(json.RawMessage(`{"retCode":200.5,"description":"x","data":{}}`))
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidMessage, err.RetCode)
	assert.Equal(t, "retCode: must be an integer", err.Description)
}

func TestValidate_SelfReport(t *testing.T) {
	ok := `{"devices":"A1","topic":"device-status","payload":{"online":false},"fromUuid":"A1"}`
	assert.Nil(t, Validate(json.RawMessage(ok), SchemaSelfReport))

	err := Validate(json.RawMessage(`{"devices":"A1","topic":"device-status","payload":{"online":"no"},"fromUuid":"A1"}`), SchemaSelfReport)
	require.NotNil(t, err)
	assert.Equal(t, "payload.online: must be of type boolean", err.Description)

	err = Validate(json.RawMessage(`{"devices":["A1"],"topic":"device-status","payload":{"online":true},"fromUuid":"A1"}`), SchemaSelfReport)
	require.NotNil(t, err)
	assert.Equal(t, "devices: must be of type string", err.Description)
}

func TestValidate_ServiceNames(t *testing.T) {
	assert.Nil(t, Validate(json.RawMessage(`["auth","billing"]`), SchemaServiceNames))
	assert.Nil(t, Validate(json.RawMessage(`[]`), SchemaServiceNames))

	err := Validate(json.RawMessage(`["auth",3]`), SchemaServiceNames)
	require.NotNil(t, err)
	assert.Equal(t, "names[1]: must be of type string", err.Description)

	err = Validate(json.RawMessage(`"auth"`), SchemaServiceNames)
	require.NotNil(t, err)
	assert.Equal(t, "names: must be of type array", err.Description)
}

func TestValidate_Deterministic(t *testing.T) {
	raw := json.RawMessage(`{"devices":"A1","topic":"RPC_CALL","payload":{}}`)
	first := Validate(raw, SchemaEnvelope)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Validate(raw, SchemaEnvelope))
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope(json.RawMessage(`{"devices":["A1"],"topic":"RPC_BACK","fromUuid":"M","callbackId":"c9","payload":{"retCode":200}}`))
	require.Nil(t, err)
	assert.Equal(t, protocol.Devices{"A1"}, env.Devices)
	assert.Equal(t, "c9", env.CallbackID)
	assert.JSONEq(t, `{"retCode":200}`, string(env.Payload))
}

func TestDecodeSelfReport(t *testing.T) {
	report, ok := DecodeSelfReport(json.RawMessage(`{"devices":"A1","topic":"device-status","payload":{"online":true},"fromUuid":"A1"}`))
	require.True(t, ok)
	assert.Equal(t, "A1", report.FromUUID)
	assert.Equal(t, protocol.TopicDeviceStatus, report.Topic)
	assert.True(t, report.Online)

	_, ok = DecodeSelfReport(json.RawMessage(`{"devices":"A1","topic":"RPC_CALL","fromUuid":"A1","payload":{"cmdName":"status"}}`))
	assert.False(t, ok)
}

func TestDecodeServiceNames(t *testing.T) {
	names, err := DecodeServiceNames(nil)
	assert.Nil(t, err)
	assert.Nil(t, names)

	names, err = DecodeServiceNames(json.RawMessage(`null`))
	assert.Nil(t, err)
	assert.Nil(t, names)

	names, err = DecodeServiceNames(json.RawMessage(`["auth"]`))
	assert.Nil(t, err)
	assert.Equal(t, []string{"auth"}, names)

	_, err = DecodeServiceNames(json.RawMessage(`{"auth":true}`))
	assert.NotNil(t, err)
}
