package validation

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DecodeJSON parses a JSON request body into the map form the validator
// walks. An empty body decodes to an empty map so required-field rules
// still apply.
func DecodeJSON(body []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]interface{}{}, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	return payload, nil
}

// DecodeXML converts an XML document (a SOAP body, typically) into the
// same nested map shape JSON decodes to. Repeated sibling elements
// collapse into arrays; leaf text that parses as a number or boolean is
// coerced so numeric rules work on SOAP payloads too. Namespace prefixes
// on element names are dropped.
func DecodeXML(body []byte) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return map[string]interface{}{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml body: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			value, err := decodeElement(decoder, start)
			if err != nil {
				return nil, fmt.Errorf("decode xml body: %w", err)
			}
			if obj, ok := value.(map[string]interface{}); ok {
				return obj, nil
			}
			return map[string]interface{}{localName(start.Name): value}, nil
		}
	}
}

func decodeElement(decoder *xml.Decoder, start xml.StartElement) (interface{}, error) {
	children := map[string]interface{}{}
	var text strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			child, err := decodeElement(decoder, t)
			if err != nil {
				return nil, err
			}
			name := localName(t.Name)
			existing, ok := children[name]
			if !ok {
				children[name] = child
			} else if items, isArr := existing.([]interface{}); isArr {
				children[name] = append(items, child)
			} else {
				children[name] = []interface{}{existing, child}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) > 0 {
				return children, nil
			}
			return coerceScalar(strings.TrimSpace(text.String())), nil
		}
	}
}

func localName(name xml.Name) string {
	return name.Local
}

func coerceScalar(text string) interface{} {
	if text == "" {
		return ""
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return n
	}
	switch text {
	case "true":
		return true
	case "false":
		return false
	}
	return text
}
