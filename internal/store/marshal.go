package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
)

// timeLayout is the stored timestamp format. Fixed-width fractional seconds
// keep lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalProps converts a property bag to canonical JSON TEXT for storage.
func marshalProps(b props.Bag) (string, error) {
	data, err := props.MarshalCanonical(b)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(data), nil
}

// marshalOptionalProps stores nil bags as SQL NULL.
func marshalOptionalProps(b props.Bag) (any, error) {
	if b == nil {
		return nil, nil
	}
	return marshalProps(b)
}

// unmarshalProps parses canonical JSON TEXT into a property bag.
// Integers stay Int; numbers with a fraction or exponent become Float.
func unmarshalProps(data string) (props.Bag, error) {
	if data == "" || data == "{}" {
		return props.Bag{}, nil
	}
	var b props.Bag
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return b, nil
}

func unmarshalOptionalProps(data *string) (props.Bag, error) {
	if data == nil {
		return nil, nil
	}
	return unmarshalProps(*data)
}

// marshalActor converts an actor to JSON TEXT. Map keys are sorted by
// encoding/json.
func marshalActor(a model.Actor) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal actor: %w", err)
	}
	return string(data), nil
}

func unmarshalActor(data string) (model.Actor, error) {
	var a model.Actor
	if data == "" || data == "{}" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return model.Actor{}, fmt.Errorf("unmarshal actor: %w", err)
	}
	return a, nil
}
