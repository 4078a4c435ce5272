package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Format names recognised by CodecFor.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Codec serializes a State to and from bytes. Unmarshal returns a nil State
// for empty input; content that does not parse into the State shape fails
// with ErrMalformedState.
type Codec interface {
	Name() string
	Marshal(state State) ([]byte, error)
	Unmarshal(data []byte) (State, error)
}

// CodecFor returns the codec registered for format. An empty format selects
// JSON.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return JSONCodec{}, nil
	case FormatProto:
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown storage format: %s", format)
	}
}

// JSONCodec stores State as a single JSON object. Integer literals decode
// as int64 and every other number as float64.
type JSONCodec struct {
	Indent bool
}

func (JSONCodec) Name() string { return FormatJSON }

func (c JSONCodec) Marshal(state State) ([]byte, error) {
	state, err := state.Normalize()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = State{}
	}
	var data []byte
	if c.Indent {
		data, err = json.MarshalIndent(state, "", "  ")
	} else {
		data, err = json.Marshal(state)
	}
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte) (State, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after state", ErrMalformedState)
	}
	return fromRaw(raw, false)
}

// ParseDocument decodes one JSON object into a Document using the number
// rules of JSONCodec.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedState)
	}
	if fields == nil {
		return Document{}, nil
	}
	doc, err := docFromRaw(fields, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return doc, nil
}

// ProtoCodec stores State as a binary google.protobuf.Value wrapping a
// Struct. Protobuf has a single number type, so whole numbers decode as
// int64 and everything else as float64.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return FormatProto }

func (ProtoCodec) Marshal(state State) ([]byte, error) {
	s, err := ToStruct(state)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(structpb.NewStructValue(s))
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

func (ProtoCodec) Unmarshal(data []byte) (State, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v structpb.Value
	if err := proto.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return FromValue(&v)
}

// ToStruct converts state into a protobuf Struct.
func ToStruct(state State) (*structpb.Struct, error) {
	state, err := state.Normalize()
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(toRaw(state))
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return s, nil
}

// FromValue converts a protobuf Value produced by ToStruct back into a State.
// A null or unset Value is the absent State.
func FromValue(v *structpb.Value) (State, error) {
	if v == nil || v.GetKind() == nil {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return nil, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%w: expected struct, got %T", ErrMalformedState, v.GetKind())
	}
	return fromRaw(s.AsMap(), true)
}

func toRaw(state State) map[string]any {
	raw := make(map[string]any, len(state))
	for name, t := range state {
		docs := make(map[string]any, len(t))
		for id, doc := range t {
			docs[id] = map[string]any(doc)
		}
		raw[name] = docs
	}
	return raw
}
