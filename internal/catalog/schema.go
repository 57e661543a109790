package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/invopop/jsonschema"
	sjs "github.com/santhosh-tekuri/jsonschema/v6"
)

const draft2020 = "https://json-schema.org/draft/2020-12/schema"

// buildSchema renders a tool's fields as a closed object schema. Properties
// keep field declaration order so prompts and published schemas match the
// catalog.
func buildSchema(t Tool) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	required := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		s := &jsonschema.Schema{
			Type:        string(f.Type),
			Description: f.Description,
			Default:     f.Default,
		}
		if len(f.Enum) > 0 {
			s.Enum = make([]any, len(f.Enum))
			for i, v := range f.Enum {
				s.Enum[i] = v
			}
		}
		if f.Minimum != nil {
			s.Minimum = number(*f.Minimum)
		}
		if f.Maximum != nil {
			s.Maximum = number(*f.Maximum)
		}
		props.Set(f.Name, s)
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	return &jsonschema.Schema{
		Version:              draft2020,
		Title:                t.Name,
		Description:          t.Description,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func number(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

func compileSchema(index int, raw json.RawMessage) (*sjs.Schema, error) {
	doc, err := sjs.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	loc := fmt.Sprintf("https://tutorflow.local/catalog/tool-%d.json", index)
	c := sjs.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, err
	}
	return c.Compile(loc)
}

// FileSchema returns the JSON Schema of the catalog file format, reflected
// from File.
func FileSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	return r.Reflect(&File{})
}
