package bip32

import (
	"fmt"
	"math/big"
	"strings"
)

const hardenedSuffix = "'"

func indexFrom(spec string) (*big.Int, error) {
	if strings.HasSuffix(spec, hardenedSuffix) || strings.HasSuffix(spec, "h") {
		return nil, fmt.Errorf("%w: hardened index %q", ErrInvalidIndex, spec)
	}
	for _, r := range spec {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidIndex, spec)
		}
	}
	index, ok := new(big.Int).SetString(spec, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidIndex, spec)
	}
	if err := validateIndex(index); err != nil {
		return nil, err
	}
	return index, nil
}

// PathFrom parses a path of the form "m/44/60/0" or "44/60/0".
//
// Only non-hardened indices are accepted.
func PathFrom(spec string) ([]*big.Int, error) {
	spec = strings.TrimPrefix(strings.TrimSpace(spec), "m")
	spec = strings.TrimPrefix(spec, "/")
	if len(spec) == 0 {
		return nil, ErrEmptyPath
	}

	parts := strings.Split(spec, "/")
	indices := make([]*big.Int, 0, len(parts))
	for _, s := range parts {
		index, err := indexFrom(s)
		if err != nil {
			return nil, err
		}
		indices = append(indices, index)
	}
	return indices, nil
}

// PathString formats path the way PathFrom parses it.
func PathString(path []*big.Int) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, "m")
	for _, index := range path {
		parts = append(parts, index.String())
	}
	return strings.Join(parts, "/")
}
