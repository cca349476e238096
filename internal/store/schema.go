package store

import (
	"bytes"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON schema of a DBT properties document.
func GenerateSchema() string {
	r := &jsonschema.Reflector{AllowAdditionalProperties: true}
	s := r.Reflect(&Document{})
	s.Title = "DBT properties file"

	c, _ := s.MarshalJSON()
	// indent the json
	var out bytes.Buffer
	if err := json.Indent(&out, c, "", "  "); err != nil {
		return err.Error()
	}
	return out.String()
}
