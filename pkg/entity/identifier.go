package entity

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Identifier is a federation entity identifier: an https URL with no
// fragment and no query string, per OpenID Federation's entity
// identifier syntax.
type Identifier struct {
	u url.URL
}

// NewIdentifier parses and validates a federation entity identifier.
func NewIdentifier(raw string) (Identifier, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("identifier %q is not a valid entity identifier: %w", raw, err)
	}
	if parsed.Scheme != "https" {
		return Identifier{}, fmt.Errorf("identifier %q is not a valid entity identifier: scheme must be https", raw)
	}
	if parsed.Fragment != "" {
		return Identifier{}, fmt.Errorf("identifier %q is not a valid entity identifier: has fragment", raw)
	}
	if len(parsed.Query()) > 0 {
		return Identifier{}, fmt.Errorf("identifier %q is not a valid entity identifier: has query", raw)
	}
	return Identifier{u: *parsed}, nil
}

// String returns the identifier's canonical URL form.
func (i Identifier) String() string {
	return i.u.String()
}

// Equal reports whether two identifiers refer to the same entity.
func (i Identifier) Equal(other Identifier) bool {
	return i.u.String() == other.u.String()
}

// IsZero reports whether i is the zero Identifier.
func (i Identifier) IsZero() bool {
	return i.u.String() == ""
}

func (i Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.u.String())
}

func (i *Identifier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*i = Identifier{}
		return nil
	}
	parsed, err := NewIdentifier(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
