package cache

import (
	"encoding/json"
	"strings"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
)

const (
	maxKeyLength  = 1000
	maxTTLSeconds = 365 * 24 * 60 * 60 // one year
)

func validateKey(key string) error {
	if key == "" {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "key must not be empty", nil)
	}
	if len(key) > maxKeyLength {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "key exceeds maximum length", nil)
	}
	if strings.ContainsAny(key, "\x00\n") {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "key contains a forbidden control character", nil)
	}
	return nil
}

func validateTTL(ttlSeconds float64) error {
	if ttlSeconds < 0 {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "ttl must not be negative", nil)
	}
	if ttlSeconds > maxTTLSeconds {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "ttl exceeds the one-year maximum", nil)
	}
	return nil
}

func validateValue(value interface{}) error {
	if _, err := json.Marshal(value); err != nil {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "value is not JSON-serializable", err)
	}
	return nil
}
