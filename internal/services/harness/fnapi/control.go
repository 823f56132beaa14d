package fnapi

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldInstructionID = "instruction_id"
	fieldKind          = "kind"
	fieldPayload       = "payload"
	fieldError         = "error"
	fieldCode          = "code"
)

// Instruction is one unit of work sent by the control plane.
type Instruction struct {
	ID      string
	Kind    string
	Payload map[string]any
}

// InstructionResponse answers an Instruction. Error is empty on success.
type InstructionResponse struct {
	ID      string
	Error   string
	Code    string
	Payload map[string]any
}

// EncodeInstruction builds the control-plane message for in.
func EncodeInstruction(in Instruction) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldInstructionID: structpb.NewStringValue(in.ID),
		fieldKind:          structpb.NewStringValue(in.Kind),
		fieldPayload:       toValue(nonNil(in.Payload)),
	}}
}

// DecodeInstruction reads an instruction; id and kind are required.
func DecodeInstruction(msg *structpb.Struct) (Instruction, error) {
	fields := msg.GetFields()
	in := Instruction{
		ID:      strings.TrimSpace(fields[fieldInstructionID].GetStringValue()),
		Kind:    strings.TrimSpace(fields[fieldKind].GetStringValue()),
		Payload: fields[fieldPayload].GetStructValue().AsMap(),
	}
	if in.ID == "" {
		return Instruction{}, fmt.Errorf("instruction id is required")
	}
	if in.Kind == "" {
		return Instruction{}, fmt.Errorf("instruction %s: kind is required", in.ID)
	}
	return in, nil
}

// EncodeResponse builds the worker message for resp.
func EncodeResponse(resp InstructionResponse) *structpb.Struct {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldInstructionID: structpb.NewStringValue(resp.ID),
		fieldPayload:       toValue(nonNil(resp.Payload)),
	}}
	if resp.Error != "" {
		msg.Fields[fieldError] = structpb.NewStringValue(resp.Error)
		msg.Fields[fieldCode] = structpb.NewStringValue(resp.Code)
	}
	return msg
}

// DecodeResponse reads a worker response.
func DecodeResponse(msg *structpb.Struct) InstructionResponse {
	fields := msg.GetFields()
	return InstructionResponse{
		ID:      fields[fieldInstructionID].GetStringValue(),
		Error:   fields[fieldError].GetStringValue(),
		Code:    fields[fieldCode].GetStringValue(),
		Payload: fields[fieldPayload].GetStructValue().AsMap(),
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
