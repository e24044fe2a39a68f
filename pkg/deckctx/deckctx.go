package deckctx

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the three identity fields of a context string. It never
// appears in a dot-delimited UUID or in a key/action id.
const Separator = "___"

// mainSegments is the number of dot-separated segments in a main-service UUID.
// Action UUIDs extend their plugin UUID with at least one more segment.
const mainSegments = 4

// ErrMalformedContext is returned when a context string or UUID cannot be
// interpreted as a valid identity.
var ErrMalformedContext = errors.New("malformed context")

// Identity is the (uuid, key, actionId) tuple that addresses one configured
// button. For main-service connections only UUID is meaningful.
type Identity struct {
	UUID     string `json:"uuid"`
	Key      string `json:"key"`
	ActionID string `json:"actionid"`
}

// Encode returns the canonical context string for id.
// Encode does not validate; call Validate first when id comes off the wire.
func Encode(id Identity) string {
	return id.UUID + Separator + id.Key + Separator + id.ActionID
}

// String implements fmt.Stringer and returns the encoded context.
func (id Identity) String() string { return Encode(id) }

// Decode splits a context string back into its identity tuple.
// It fails with ErrMalformedContext unless ctx splits into exactly three
// segments.
func Decode(ctx string) (Identity, error) {
	parts := strings.Split(ctx, Separator)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: %q has %d segments, want 3", ErrMalformedContext, ctx, len(parts))
	}
	return Identity{UUID: parts[0], Key: parts[1], ActionID: parts[2]}, nil
}

// Validate reports whether id can be encoded injectively: UUID must be set,
// no field may contain Separator, and no underscore may touch a separator
// (a uuid ending in "_", a key starting or ending in "_", an action id
// starting with "_"), since that would make the split ambiguous.
func Validate(id Identity) error {
	if id.UUID == "" {
		return fmt.Errorf("%w: empty uuid", ErrMalformedContext)
	}
	for name, v := range map[string]string{"uuid": id.UUID, "key": id.Key, "actionid": id.ActionID} {
		if strings.Contains(v, Separator) {
			return fmt.Errorf("%w: %s %q contains %q", ErrMalformedContext, name, v, Separator)
		}
	}
	switch {
	case strings.HasSuffix(id.UUID, "_"):
		return fmt.Errorf("%w: uuid %q ends with \"_\"", ErrMalformedContext, id.UUID)
	case strings.HasPrefix(id.Key, "_") || strings.HasSuffix(id.Key, "_"):
		return fmt.Errorf("%w: key %q starts or ends with \"_\"", ErrMalformedContext, id.Key)
	case strings.HasPrefix(id.ActionID, "_"):
		return fmt.Errorf("%w: actionid %q starts with \"_\"", ErrMalformedContext, id.ActionID)
	}
	return nil
}

// MainUUID returns the owning main-service UUID of uuid, which is its first
// four dot segments. A UUID with fewer than four segments, or with an empty
// segment among the first four, is malformed.
func MainUUID(uuid string) (string, error) {
	parts := strings.Split(uuid, ".")
	if len(parts) < mainSegments {
		return "", fmt.Errorf("%w: uuid %q has %d segments, want at least %d", ErrMalformedContext, uuid, len(parts), mainSegments)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: uuid %q has an empty segment", ErrMalformedContext, uuid)
		}
	}
	return strings.Join(parts[:mainSegments], "."), nil
}

// IsMain reports whether uuid names a main service (exactly four non-empty
// dot segments).
func IsMain(uuid string) bool {
	main, err := MainUUID(uuid)
	return err == nil && main == uuid
}

// Role is what a plugin connection identifies itself as in its first
// connected message.
type Role int

const (
	RoleUnknown Role = iota
	RoleMain
	RoleAction
)

func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleAction:
		return "action"
	default:
		return "unknown"
	}
}

// Classify decides the role of a connection from the UUID carried in its
// connected message: four segments is a main service, five or more is an
// action instance. Anything else is ErrMalformedContext.
func Classify(uuid string) (Role, error) {
	if _, err := MainUUID(uuid); err != nil {
		return RoleUnknown, err
	}
	if IsMain(uuid) {
		return RoleMain, nil
	}
	return RoleAction, nil
}
