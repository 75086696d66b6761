// Package schema validates inbound webhook payloads against the embedded
// JSON schema before anything downstream touches them. Both the nested
// {"post": {"current": {...}}} envelope and a flat post object are accepted.
package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed webhook.json
var schemaFS embed.FS

// ErrSchema marks a payload that failed validation. The webhook handler maps
// it to a synchronous 400; nothing downstream ever sees the payload.
var ErrSchema = errors.New("schema violation")

var postSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("webhook.json")
	if err != nil {
		panic(fmt.Sprintf("schema: read embedded schema: %v", err))
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("schema: parse embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("webhook.json", doc); err != nil {
		panic(fmt.Sprintf("schema: add resource: %v", err))
	}
	sch, err := c.Compile("webhook.json")
	if err != nil {
		panic(fmt.Sprintf("schema: compile: %v", err))
	}
	return sch
}

// ValidatePost checks a raw webhook body. A nil return means the payload is
// structurally sound and safe to normalize.
func ValidatePost(payload []byte) error {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: invalid json: %v", ErrSchema, err)
	}
	if err := postSchema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
