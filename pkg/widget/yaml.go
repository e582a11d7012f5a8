package widget

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// schemaFile is the layout of a schema file:
//
//	total_bytes:
//	  data_bytes: 48
//	  end_bytes: 2
//	widgets:
//	  hand:    {byte: 0, bit: 7}
//	  accel_x: {byte: [6, 7], signed: true, single_value: true}
//	  tp_x:    {bit: [8, 9, 10, 11]}
//
// The presence of `signed` or `single_value` enables the flag, whatever
// its value: `signed: false` is still signed.
type schemaFile struct {
	TotalBytes struct {
		DataBytes int `yaml:"data_bytes"`
		EndBytes  int `yaml:"end_bytes"`
	} `yaml:"total_bytes"`
	Widgets yaml.Node `yaml:"widgets"`
}

// LoadSchema parses a schema file. Widgets keep the order of the file.
func LoadSchema(r io.Reader) (*Schema, error) {
	var f schemaFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	var widgets []Spec
	if f.Widgets.Kind != 0 {
		if f.Widgets.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: widgets must be a mapping", f.Widgets.Line)
		}
		for n := 0; n+1 < len(f.Widgets.Content); n += 2 {
			w, err := parseWidget(f.Widgets.Content[n].Value, f.Widgets.Content[n+1])
			if err != nil {
				return nil, err
			}
			widgets = append(widgets, w)
		}
	}
	return NewSchema(f.TotalBytes.DataBytes, f.TotalBytes.EndBytes, widgets...)
}

// LoadSchemaFile parses a schema file from path.
func LoadSchemaFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := LoadSchema(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func parseWidget(name string, node *yaml.Node) (w Spec, err error) {
	w.Name = name
	if node.Kind != yaml.MappingNode {
		return w, fmt.Errorf("line %d: widget %q must be a mapping", node.Line, name)
	}
	var byteNode, bitNode *yaml.Node
	var combine bool
	for n := 0; n+1 < len(node.Content); n += 2 {
		key, val := node.Content[n].Value, node.Content[n+1]
		switch key {
		case "byte":
			byteNode = val
		case "bit":
			bitNode = val
		case "signed":
			w.Signed = true
		case "single_value":
			combine = true
		default:
			return w, fmt.Errorf("line %d: widget %q: unknown property %q", val.Line, name, key)
		}
	}

	switch {
	case byteNode != nil && byteNode.Kind == yaml.SequenceNode:
		if err = byteNode.Decode(&w.Offsets); err != nil {
			break
		}
		w.Kind = Bytes
		if combine {
			w.Kind = Combined
		}
	case byteNode != nil:
		if err = byteNode.Decode(&w.Offset); err != nil {
			break
		}
		w.Kind = Byte
		if bitNode != nil {
			w.Kind = ByteBit
			err = bitNode.Decode(&w.Bit)
		}
	case bitNode != nil:
		w.Kind = Bits
		err = bitNode.Decode(&w.Offsets)
	default:
		err = fmt.Errorf("neither byte nor bit is specified")
	}
	if err != nil {
		return w, fmt.Errorf("line %d: widget %q: %w", node.Line, name, err)
	}
	return w, nil
}
