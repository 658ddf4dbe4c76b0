package codec

import "gopkg.in/yaml.v3"

// YAMLCodec implements YAML encoding/decoding
type YAMLCodec struct{}

func (c *YAMLCodec) Encode(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (c *YAMLCodec) Decode(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

func (c *YAMLCodec) Name() string {
	return "yaml"
}

func (c *YAMLCodec) ContentType() string {
	return "application/yaml"
}
