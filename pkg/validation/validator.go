package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	validate.RegisterValidation("jsontype", validateJSONType)
	validate.RegisterValidation("jsonenum", validateJSONEnum)
	validate.RegisterValidation("jsonint", validateJSONInt)
}

// Schema names one of the fixed message shapes
type Schema int

const (
	// SchemaEnvelope is the outer RPC envelope
	SchemaEnvelope Schema = iota
	// SchemaCall is the payload of an RPC_CALL
	SchemaCall
	// SchemaBack is the payload of an RPC_BACK
	SchemaBack
	// SchemaSelfReport is a device-status message
	SchemaSelfReport
	// SchemaServiceNames is the getServiceStatus filter
	SchemaServiceNames
)

func (s Schema) String() string {
	switch s {
	case SchemaEnvelope:
		return "envelope"
	case SchemaCall:
		return "call"
	case SchemaBack:
		return "back"
	case SchemaSelfReport:
		return "self-report"
	case SchemaServiceNames:
		return "service-names"
	default:
		return "unknown"
	}
}

// Every field is kept raw so that presence and JSON kind can be checked
// before anything is decoded into typed values.

type envelopeSchema struct {
	Devices    json.RawMessage `json:"devices" validate:"required,jsontype=string array"`
	Topic      json.RawMessage `json:"topic" validate:"required,jsontype=string,jsonenum=RPC_CALL RPC_BACK"`
	FromUUID   json.RawMessage `json:"fromUuid" validate:"required,jsontype=string"`
	CallbackID json.RawMessage `json:"callbackId" validate:"omitempty,jsontype=string"`
	Payload    json.RawMessage `json:"payload" validate:"required,jsontype=object"`
}

type callSchema struct {
	CmdName    json.RawMessage `json:"cmdName" validate:"required,jsontype=string"`
	CmdCode    json.RawMessage `json:"cmdCode" validate:"required,jsontype=string"`
	Parameters json.RawMessage `json:"parameters" validate:"required"`
}

type backSchema struct {
	RetCode     json.RawMessage `json:"retCode" validate:"required,jsontype=number,jsonint"`
	Description json.RawMessage `json:"description" validate:"required,jsontype=string"`
	Data        json.RawMessage `json:"data" validate:"required"`
}

type selfReportSchema struct {
	Devices  json.RawMessage `json:"devices" validate:"required,jsontype=string"`
	Topic    json.RawMessage `json:"topic" validate:"required,jsontype=string"`
	Payload  json.RawMessage `json:"payload" validate:"required,jsontype=object"`
	FromUUID json.RawMessage `json:"fromUuid" validate:"required,jsontype=string"`
}

type selfReportPayloadSchema struct {
	Online json.RawMessage `json:"online" validate:"required,jsontype=boolean"`
}

// Validate checks raw against schema. It returns nil when the value conforms
// and a protocol error carrying CodeInvalidMessage otherwise. It has no side
// effects.
func Validate(raw json.RawMessage, schema Schema) *protocol.Error {
	switch schema {
	case SchemaEnvelope:
		return validateObject(raw, "message", &envelopeSchema{})
	case SchemaCall:
		return validateObject(raw, "payload", &callSchema{})
	case SchemaBack:
		return validateObject(raw, "payload", &backSchema{})
	case SchemaSelfReport:
		var s selfReportSchema
		if err := validateObject(raw, "message", &s); err != nil {
			return err
		}
		return validateObject(s.Payload, "payload", &selfReportPayloadSchema{}, "payload.")
	case SchemaServiceNames:
		return validateServiceNames(raw)
	default:
		return protocol.Errorf(protocol.CodeInvalidMessage, "unknown schema %d", int(schema))
	}
}

func validateObject(raw json.RawMessage, name string, target any, prefix ...string) *protocol.Error {
	if jsonKind(raw) != "object" {
		return invalid("%s: must be of type object", name)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return invalid("%s: %v", name, err)
	}
	if err := validate.Struct(target); err != nil {
		return formatValidationError(err, strings.Join(prefix, ""))
	}
	return nil
}

func validateServiceNames(raw json.RawMessage) *protocol.Error {
	if jsonKind(raw) != "array" {
		return invalid("names: must be of type array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return invalid("names: %v", err)
	}
	for i, item := range items {
		if err := validate.Var(item, "jsontype=string"); err != nil {
			return formatValidationError(err, fmt.Sprintf("names[%d]", i))
		}
	}
	return nil
}

// jsonKind classifies a raw JSON value by its first significant byte
func jsonKind(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return ""
	}
	switch b[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// validateJSONType implements the jsontype tag: the raw value must be one of
// the space separated JSON kinds in the parameter.
func validateJSONType(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	kind := jsonKind(raw)
	for _, want := range strings.Fields(fl.Param()) {
		if kind == want {
			return true
		}
	}
	return false
}

// validateJSONEnum implements the jsonenum tag: the raw value must be a JSON
// string equal to one of the space separated values in the parameter.
func validateJSONEnum(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	for _, want := range strings.Fields(fl.Param()) {
		if s == want {
			return true
		}
	}
	return false
}

// validateJSONInt implements the jsonint tag: the raw value must be a JSON
// number with no fractional part. Exponent forms such as 2e2 are accepted.
func validateJSONInt(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	if !ok {
		return false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return false
	}
	_, err := protocol.ParseRetCode(n)
	return err == nil
}

func invalid(format string, args ...any) *protocol.Error {
	return protocol.Errorf(protocol.CodeInvalidMessage, format, args...)
}

// formatValidationError converts the first validator error into a protocol
// error naming the offending field
func formatValidationError(err error, prefix string) *protocol.Error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return invalid("%s%v", prefix, err)
	}

	e := validationErrs[0]
	field := prefix + e.Field()
	param := strings.Join(strings.Fields(e.Param()), " or ")

	switch e.Tag() {
	case "required":
		return invalid("%s: field is required", field)
	case "jsontype":
		return invalid("%s: must be of type %s", field, param)
	case "jsonenum":
		return invalid("%s: must be one of %s", field, param)
	case "jsonint":
		return invalid("%s: must be an integer", field)
	default:
		return invalid("%s: validation failed (%s)", field, e.Tag())
	}
}
