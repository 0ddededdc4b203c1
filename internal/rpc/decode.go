package rpc

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Validator is implemented by payloads that check their own values once
// decoded.
type Validator interface {
	Validate() error
}

// Decode copies a loosely typed value (a decoded JSON or msgpack map, or an
// already typed struct) into out, matching fields by their json tags.
// Numeric kinds are converted as needed. When out implements Validator, a
// failed Validate is reported as ErrBadArgs.
//
// Precondition: out must be a non-nil pointer.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
	}
	return nil
}

// DecodeArg decodes args[i] into out.
func DecodeArg(args []any, i int, out any) error {
	if i < 0 || i >= len(args) {
		return fmt.Errorf("%w: missing argument %d", ErrBadArgs, i)
	}
	if args[i] == nil {
		return fmt.Errorf("%w: argument %d is null", ErrBadArgs, i)
	}
	return Decode(args[i], out)
}

// ArgString returns args[i] as a string.
func ArgString(args []any, i int) (string, error) {
	if i < 0 || i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", ErrBadArgs, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrBadArgs, i, args[i])
	}
	return s, nil
}

// OptString returns args[i] as a string, or def when the argument is absent
// or null.
func OptString(args []any, i int, def string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	return ArgString(args, i)
}

// ArgBool returns args[i] as a bool.
func ArgBool(args []any, i int) (bool, error) {
	if i < 0 || i >= len(args) {
		return false, fmt.Errorf("%w: missing argument %d", ErrBadArgs, i)
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: argument %d is %T, want bool", ErrBadArgs, i, args[i])
	}
	return b, nil
}
