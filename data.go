package flowgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// DefaultModel is the model a freshly added llm node starts with.
const DefaultModel = "gemini-2.5-flash"

// OutputType describes what an llm run or an output node carries.
type OutputType string

const (
	OutputText  OutputType = "text"
	OutputImage OutputType = "image"
	OutputBoth  OutputType = "both"
)

// NodeData is the type-specific payload of a node. The set of
// implementations is closed: TextData, ImageData, LLMData and OutputData.
type NodeData interface {
	Kind() Kind
	clone() NodeData
}

// TextData holds freeform user text.
type TextData struct {
	Value string `json:"value,omitempty"`
}

// ImageData holds a data-URI encoded image.
type ImageData struct {
	Preview string `json:"preview,omitempty"`
}

// LLMData holds the manual fallback inputs and the transient run state of an llm node.
type LLMData struct {
	Model        string     `json:"model"`
	Loading      bool       `json:"loading"`
	Error        string     `json:"error,omitempty"`
	Output       string     `json:"output,omitempty"`
	OutputImage  string     `json:"outputImage,omitempty"`
	OutputType   OutputType `json:"outputType,omitempty"`
	SystemPrompt string     `json:"systemPrompt,omitempty"`
	UserMessage  string     `json:"userMessage,omitempty"`
}

// OutputData is the materialized mirror of an output node's upstream.
// It is derived by the graph and never edited directly.
type OutputData struct {
	Value string     `json:"value,omitempty"`
	Type  OutputType `json:"type,omitempty"`
	Text  string     `json:"text,omitempty"`
	Image string     `json:"image,omitempty"`
}

func (*TextData) Kind() Kind   { return KindText }
func (*ImageData) Kind() Kind  { return KindImage }
func (*LLMData) Kind() Kind    { return KindLLM }
func (*OutputData) Kind() Kind { return KindOutput }

func (d *TextData) clone() NodeData   { c := *d; return &c }
func (d *ImageData) clone() NodeData  { c := *d; return &c }
func (d *LLMData) clone() NodeData    { c := *d; return &c }
func (d *OutputData) clone() NodeData { c := *d; return &c }

// defaultData returns the initial data for a new node of kind k.
func defaultData(k Kind) NodeData {
	switch k {
	case KindText:
		return &TextData{}
	case KindImage:
		return &ImageData{}
	case KindLLM:
		return &LLMData{Model: DefaultModel}
	case KindOutput:
		return &OutputData{}
	}
	return nil
}

// decodeData builds typed node data from a loosely typed field map.
// Array-valued strings collapse to their first element. Keys the typed data
// does not model are returned verbatim in extra.
func decodeData(k Kind, fields map[string]any) (data NodeData, extra map[string]json.RawMessage, err error) {
	out := defaultData(k)
	if out == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, k)
	}
	if k == KindLLM {
		// An explicit model in fields overrides the default; otherwise keep it.
		if _, ok := fields["model"]; !ok {
			fields["model"] = DefaultModel
		}
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		Metadata:   &md,
		DecodeHook: firstElementHook,
		MatchName:  func(key, field string) bool { return key == field },
	})
	if err != nil {
		return nil, nil, err
	}
	if err := dec.Decode(fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	for _, key := range md.Unused {
		b, err := json.Marshal(fields[key])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage, len(md.Unused))
		}
		extra[key] = b
	}
	return out, extra, nil
}

// decodeFields parses a JSON object, keeping numbers as written.
func decodeFields(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// firstElementHook lets a string field accept a list by keeping its first entry.
func firstElementHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if from.Kind() != reflect.Slice && from.Kind() != reflect.Array {
		return data, nil
	}
	v := reflect.ValueOf(data)
	if v.Len() == 0 {
		return "", nil
	}
	return v.Index(0).Interface(), nil
}

// mergeData shallow-merges patch into the node's data, unmodelled keys
// included. A nil value clears the field.
func mergeData(n Node, patch map[string]any) (NodeData, map[string]json.RawMessage, error) {
	b, err := n.encodeData()
	if err != nil {
		return nil, nil, err
	}
	fields, err := decodeFields(b)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range patch {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	return decodeData(n.Type, fields)
}
