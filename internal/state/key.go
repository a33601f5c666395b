package state

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keyDisplayTemplateConstant   = "%s [%s -> %s]"
	keyDigestSeparatorConstant   = "\x00"
	keyMissingComponentTemplate  = "migration state key is missing the %s"
	keyWorkflowComponentConstant = "workflow name"
	keyOriginComponentConstant   = "origin identity"
	keyTargetComponentConstant   = "destination identity"
)

// Key identifies one migration state record.
type Key struct {
	Workflow    string `json:"workflow"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}

// String renders the key for logs and console output.
func (key Key) String() string {
	return fmt.Sprintf(keyDisplayTemplateConstant, key.Workflow, key.Origin, key.Destination)
}

// Validate reports missing key components.
func (key Key) Validate() error {
	switch {
	case len(strings.TrimSpace(key.Workflow)) == 0:
		return fmt.Errorf(keyMissingComponentTemplate, keyWorkflowComponentConstant)
	case len(strings.TrimSpace(key.Origin)) == 0:
		return fmt.Errorf(keyMissingComponentTemplate, keyOriginComponentConstant)
	case len(strings.TrimSpace(key.Destination)) == 0:
		return fmt.Errorf(keyMissingComponentTemplate, keyTargetComponentConstant)
	default:
		return nil
	}
}

// Digest returns a filesystem and object-name safe identifier for the key.
func (key Key) Digest() string {
	hasher := sha256.New()
	hasher.Write([]byte(strings.Join([]string{key.Workflow, key.Origin, key.Destination}, keyDigestSeparatorConstant)))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ErrInvalidKey wraps key validation failures returned by stores.
var ErrInvalidKey = errors.New("invalid migration state key")

func validateKey(key Key) error {
	if validationError := key.Validate(); validationError != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, validationError)
	}
	return nil
}
