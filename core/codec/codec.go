// Package codec encodes response bodies and picks an encoding from the
// request's Accept header.
package codec

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/searchktools/tiny-server/core/http"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec encodes and decodes message bodies
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string

	// ContentType is the media type written with encoded bodies.
	ContentType() string
}

var (
	JSON     Codec = &JSONCodec{}
	Protobuf Codec = &ProtobufCodec{}
	YAML     Codec = &YAMLCodec{}
)

// ByName returns a codec by name
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json":
		return JSON, nil
	case "protobuf", "proto":
		return Protobuf, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// Negotiate returns the first codec whose media type appears in accept.
// An empty header, "*/*" or no match falls back to JSON.
func Negotiate(accept string) Codec {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.ToLower(strings.TrimSpace(mediaType)) {
		case http.ContentTypeJSON:
			return JSON
		case http.ContentTypeProtobuf, "application/protobuf":
			return Protobuf
		case "application/yaml", "application/x-yaml", "text/yaml":
			return YAML
		case "*/*":
			return JSON
		}
	}
	return JSON
}

// Respond encodes v with the codec negotiated for req.
func Respond(req *http.Request, v any) *http.Response {
	c := Negotiate(req.GetHeader(http.HeaderAccept))
	body, err := c.Encode(v)
	if err != nil {
		return http.NewResponse().
			WithStatus(http.StatusInternalServerError).
			WithString(err.Error())
	}
	return http.NewResponse().WithBytes(body, c.ContentType())
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) ContentType() string {
	return http.ContentTypeJSON
}
