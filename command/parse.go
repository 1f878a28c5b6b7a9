// Package command implements the wire command protocol shared with the
// frontend bridge: "<target>:<action>:<payload>". It provides the address
// parser and the closed Value type that payloads and results must fit.
package command

import (
	"fmt"
	"strings"

	"github.com/xiaojinao/cellium/errors"
)

// Separator is the reserved address separator character.
const Separator = ':'

// ErrNotAddressed reports that a raw string contains no separator and is
// therefore not an addressed command. The dispatcher falls through to
// event-message interpretation on this error.
var ErrNotAddressed = errors.New("not an addressed command")

// Address is the parsed form of an inbound command string.
type Address struct {
	Target     string // cell name
	Action     string // verb, "!" deferred-execution flag stripped
	Payload    Value  // decoded payload; KindString when not structured
	RawPayload string // payload exactly as received
	Deferred   bool   // action carried the "!" deferred-execution flag
}

// Parse splits raw into (target, action, payload). Only the first two
// separator occurrences are significant; everything after the second is
// the single combined payload and may itself contain separators (file
// paths, URLs). A payload whose first non-space byte is '{' or '[' is
// decoded as JSON; on decode failure it silently downgrades to a raw
// string - malformed payloads fail at command execution, not at parse.
func Parse(raw string) (Address, error) {
	if !strings.ContainsRune(raw, Separator) {
		return Address{}, ErrNotAddressed
	}

	parts := strings.SplitN(raw, string(Separator), 3)

	target := parts[0]
	action := parts[1]
	rawPayload := ""
	if len(parts) == 3 {
		rawPayload = parts[2]
	}

	deferred := false
	if strings.HasSuffix(action, "!") {
		deferred = true
		action = strings.TrimSuffix(action, "!")
	}

	if err := validateToken(target); err != nil {
		return Address{}, errors.WrapInvalid(
			fmt.Errorf("%w: bad target %q", errors.ErrInvalidAddress, target),
			"Parser", "Parse", "target validation")
	}
	if err := validateToken(action); err != nil {
		return Address{}, errors.WrapInvalid(
			fmt.Errorf("%w: bad action %q", errors.ErrInvalidAddress, action),
			"Parser", "Parse", "action validation")
	}

	return Address{
		Target:     target,
		Action:     action,
		Payload:    decodePayload(rawPayload),
		RawPayload: rawPayload,
		Deferred:   deferred,
	}, nil
}

// decodePayload attempts a structured decode when the payload looks like
// JSON, otherwise keeps it as opaque text. Decode ambiguity never surfaces
// as an error.
func decodePayload(raw string) Value {
	trimmed := strings.TrimLeft(raw, " \t")
	if len(trimmed) == 0 {
		return String(raw)
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return String(raw)
	}

	v, err := DecodeJSON([]byte(trimmed))
	if err != nil {
		return String(raw)
	}
	return v
}

// validateToken enforces the address token charset: lowercase letters,
// digits, underscore, and dash. Empty tokens are invalid.
func validateToken(tok string) error {
	if tok == "" {
		return errors.ErrInvalidAddress
	}
	for _, r := range tok {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			return errors.ErrInvalidAddress
		}
	}
	return nil
}
