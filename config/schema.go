package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Schema describes the config file accepted by Read. Every field is optional and unknown
// fields are rejected, matching FromReader.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	return r.Reflect(&Config{})
}

// SchemaJSON returns Schema indented for printing.
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode config schema")
	}
	return data, nil
}
