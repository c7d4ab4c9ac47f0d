package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Schema returns the JSON schema configuration files are checked against.
func Schema() []byte {
	return schemaJSON
}

// checkSchema validates a decoded document (JSON bytes or a YAML value)
// against the configuration schema. Unknown keys and wrongly typed values
// are reported together.
func checkSchema(document gojsonschema.JSONLoader) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	result, err := schema.Validate(document)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("schema: %s", strings.Join(problems, "; "))
}
