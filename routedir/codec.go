package routedir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonCodec formats the route configurations written to the directory.
type jsonCodec struct {
	prefix string
	indent string
}

var defaultCodec = jsonCodec{indent: "  "}

func (c jsonCodec) format(config []byte) ([]byte, error) {
	var b bytes.Buffer
	if err := json.Indent(&b, bytes.TrimSpace(config), c.prefix, c.indent); err != nil {
		return nil, fmt.Errorf("invalid route configuration: %w", err)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
