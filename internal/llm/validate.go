package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is a compiled JSON schema for one kind of model response.
type responseSchema struct {
	name   string
	schema *jsonschema.Schema
}

func compileResponseSchema(name string, doc map[string]any) (*responseSchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s schema: %w", name, err)
	}
	url := "mem://" + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%s schema: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s schema: %w", name, err)
	}
	return &responseSchema{name: name, schema: s}, nil
}

// check reports every violation as "location: message", sorted, in one error.
func (r *responseSchema) check(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%s response is not JSON: %w", r.name, err)
	}
	err := r.schema.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	var msgs []string
	collectViolations(ve, &msgs)
	sort.Strings(msgs)
	return fmt.Errorf("%s response violates schema: %s", r.name, strings.Join(msgs, "; "))
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+ve.Message)
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}
