package strategy

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy is returned when a policy name is not recognized.
var ErrInvalidPolicy = errors.New("strategy: invalid policy")

func errInvalidPolicy(p Policy) error {
	return fmt.Errorf("%w: %q", ErrInvalidPolicy, string(p))
}
