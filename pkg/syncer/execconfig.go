package syncer

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

// executionConfigSchema validates a job's execution config before the run
// starts. Unknown fields are rejected so typos fail loudly instead of
// silently running a full sync.
const executionConfigSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"destination_filter": {
			"type": "array",
			"items": {"type": "string", "format": "uuid"}
		},
		"skip_handlers": {
			"type": "array",
			"items": {"type": "string", "enum": ["destination", "arf", "entity_records"]}
		},
		"skip_hash_comparison": {"type": "boolean"},
		"skip_updates": {"type": "boolean"},
		"entity_filter": {"type": "string"}
	}
}`

var compiledExecutionConfigSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("execution_config.json", bytes.NewReader([]byte(executionConfigSchema))); err != nil {
		panic(err)
	}
	return c.MustCompile("execution_config.json")
}()

// ParseExecutionConfig validates and decodes a job's raw execution config.
// A nil raw config yields the zero config.
func ParseExecutionConfig(raw json.RawMessage) (domain.ExecutionConfig, error) {
	var cfg domain.ExecutionConfig
	if len(raw) == 0 {
		return cfg, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg, apierror.Wrap(apierror.KindBadRequest, "execution config is not valid JSON", err)
	}
	if err := compiledExecutionConfigSchema.Validate(doc); err != nil {
		return cfg, apierror.Wrap(apierror.KindBadRequest, "invalid execution config", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, apierror.Wrap(apierror.KindBadRequest, "failed to decode execution config", err)
	}
	return cfg, nil
}
