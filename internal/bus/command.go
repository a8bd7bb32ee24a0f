// Package bus implements the camera command protocol carried over a
// per-location AMQP direct exchange: a small JSON array-of-arrays grammar
// for open/close/get/set commands, fanned out point-to-point by camera IP
// or broadcast to every camera on the location, with acknowledgements
// routed back through a reply-to queue.
package bus

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a command verb.
type Kind string

const (
	Open  Kind = "open"
	Close Kind = "close"
	Get   Kind = "get"
	Set   Kind = "set"
)

// Command is one element of a JSON command batch, encoded positionally:
// ["open"], ["set", "TriggerSoftware", 1727000000000], ["get", "fps"].
type Command struct {
	Kind  Kind
	Node  string
	Value interface{}
}

// OpenCmd, CloseCmd, GetCmd, and SetCmd are constructors for the four
// command shapes the grammar supports.
func OpenCmd() Command           { return Command{Kind: Open} }
func CloseCmd() Command          { return Command{Kind: Close} }
func GetCmd(node string) Command { return Command{Kind: Get, Node: node} }
func SetCmd(node string, value interface{}) Command {
	return Command{Kind: Set, Node: node, Value: value}
}

// MarshalJSON renders a Command as its positional array form.
func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case Open, Close:
		return json.Marshal([]interface{}{c.Kind})
	case Get:
		return json.Marshal([]interface{}{c.Kind, c.Node})
	case Set:
		return json.Marshal([]interface{}{c.Kind, c.Node, c.Value})
	default:
		return nil, fmt.Errorf("bus: unknown command kind %q", c.Kind)
	}
}

// UnmarshalJSON parses a positional array back into a Command.
func (c *Command) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("bus: command must be a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("bus: command array must not be empty")
	}
	var kind Kind
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("bus: command verb must be a string: %w", err)
	}
	switch kind {
	case Open, Close:
		*c = Command{Kind: kind}
	case Get:
		if len(parts) < 2 {
			return fmt.Errorf("bus: %q command requires a node name", kind)
		}
		var node string
		if err := json.Unmarshal(parts[1], &node); err != nil {
			return fmt.Errorf("bus: %q node must be a string: %w", kind, err)
		}
		*c = Command{Kind: kind, Node: node}
	case Set:
		if len(parts) < 3 {
			return fmt.Errorf("bus: %q command requires a node name and value", kind)
		}
		var node string
		if err := json.Unmarshal(parts[1], &node); err != nil {
			return fmt.Errorf("bus: %q node must be a string: %w", kind, err)
		}
		var value interface{}
		if err := json.Unmarshal(parts[2], &value); err != nil {
			return fmt.Errorf("bus: %q value is not valid JSON: %w", kind, err)
		}
		*c = Command{Kind: kind, Node: node, Value: value}
	default:
		return fmt.Errorf("bus: unknown command verb %q", kind)
	}
	return nil
}

// EncodeCommands renders cmds as the JSON array-of-arrays message body.
func EncodeCommands(cmds []Command) ([]byte, error) {
	return json.Marshal(cmds)
}

// DecodeCommands parses a message body back into a command list.
func DecodeCommands(data []byte) ([]Command, error) {
	var cmds []Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("bus: decoding command list: %w", err)
	}
	return cmds, nil
}

// Result is one command's outcome: the originating command, a status
// ("done" or "error"), and, for a successful `get`, the fetched value.
// Only `get` commands carry a value back.
type Result struct {
	Command Command
	Status  string
	Value   interface{}
	Detail  string
}

// MarshalJSON renders a Result as [verb, (node), status, (value-or-detail)].
func (r Result) MarshalJSON() ([]byte, error) {
	parts := []interface{}{r.Command.Kind}
	switch r.Command.Kind {
	case Get, Set:
		parts = append(parts, r.Command.Node)
	}
	parts = append(parts, r.Status)
	switch {
	case r.Status == "error":
		parts = append(parts, r.Detail)
	case r.Command.Kind == Get:
		parts = append(parts, r.Value)
	}
	return json.Marshal(parts)
}

// UnmarshalJSON parses a [verb, (node), status, (value-or-detail)] array
// back into a Result.
func (r *Result) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("bus: result must be a JSON array: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("bus: result array too short")
	}
	var kind Kind
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("bus: result verb must be a string: %w", err)
	}
	r.Command = Command{Kind: kind}
	i := 1
	switch kind {
	case Get, Set:
		if i >= len(parts) {
			return fmt.Errorf("bus: result missing node name")
		}
		if err := json.Unmarshal(parts[i], &r.Command.Node); err != nil {
			return fmt.Errorf("bus: result node must be a string: %w", err)
		}
		i++
	}
	if i >= len(parts) {
		return fmt.Errorf("bus: result missing status")
	}
	if err := json.Unmarshal(parts[i], &r.Status); err != nil {
		return fmt.Errorf("bus: result status must be a string: %w", err)
	}
	i++
	if i < len(parts) {
		var trailing interface{}
		if err := json.Unmarshal(parts[i], &trailing); err != nil {
			return fmt.Errorf("bus: result trailing field invalid: %w", err)
		}
		if r.Status == "error" {
			if s, ok := trailing.(string); ok {
				r.Detail = s
			}
		} else {
			r.Value = trailing
		}
	}
	return nil
}

// ReplyEnvelope is the JSON object a camera's reply travels as:
// {"ip":"<ip>","response":[["get","Width","done",2448],...]}.
type ReplyEnvelope struct {
	IP       string   `json:"ip"`
	Response []Result `json:"response"`
}

// EncodeReply renders a reply body from a camera's IP and its per-command
// results.
func EncodeReply(ip string, results []Result) ([]byte, error) {
	return json.Marshal(ReplyEnvelope{IP: ip, Response: results})
}

// DecodeReply parses a reply body back into its envelope.
func DecodeReply(data []byte) (ReplyEnvelope, error) {
	var env ReplyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ReplyEnvelope{}, fmt.Errorf("bus: decoding reply envelope: %w", err)
	}
	return env, nil
}
