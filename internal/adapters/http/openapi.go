package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIDocument []byte

var loadOpenAPI = sync.OnceValues(func() ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(openAPIDocument, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}
	return json.MarshalIndent(stringKeys(doc), "", "  ")
})

// getOpenAPIJSON returns the embedded API description as JSON. The document
// is converted once.
func getOpenAPIJSON() ([]byte, error) {
	return loadOpenAPI()
}

// stringKeys makes decoded YAML encodable as JSON. Non-string keys, such as
// numeric response codes decoded into nested interface maps, are formatted.
func stringKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, value := range v {
			v[key] = stringKeys(value)
		}
		return v
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[fmt.Sprint(key)] = stringKeys(value)
		}
		return out
	case []interface{}:
		for i, value := range v {
			v[i] = stringKeys(value)
		}
		return v
	default:
		return v
	}
}
