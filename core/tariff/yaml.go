package tariff

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses a tariff document. The document is either a list of
// periods or a mapping with the list under "periods":
//
//	periods:
//	  - start: "00:00"
//	    end: "07:00"
//	    import_price: 0.12
//	    feed_in_price: 0.05
//
// Imported tariffs recur daily.
func ParseYAML(data []byte) ([]Tariff, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidYAML)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidYAML)
	}
	list := doc.Content[0]
	if list.Kind == yaml.MappingNode {
		list = mappingValue(list, "periods")
		if list == nil {
			return nil, fmt.Errorf("%w: missing periods", ErrInvalidYAML)
		}
	}
	if list.Kind != yaml.SequenceNode || len(list.Content) == 0 {
		return nil, fmt.Errorf("%w: expected a non-empty list of periods", ErrInvalidYAML)
	}

	out := make([]Tariff, 0, len(list.Content))
	for i, item := range list.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: period %d is not a mapping", ErrInvalidYAML, i+1)
		}
		spec := Spec{
			Name:  scalar(item, "name"),
			Start: scalar(item, "start"),
			End:   scalar(item, "end"),
		}
		var err error
		if spec.ImportPrice, err = price(item, "import_price"); err != nil {
			return nil, fmt.Errorf("period %d: %w", i+1, err)
		}
		if spec.FeedInPrice, err = price(item, "feed_in_price"); err != nil {
			return nil, fmt.Errorf("period %d: %w", i+1, err)
		}
		t, err := spec.Tariff(i)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalar(m *yaml.Node, key string) string {
	v := mappingValue(m, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return strings.TrimSpace(v.Value)
}

func price(m *yaml.Node, key string) (float64, error) {
	v := mappingValue(m, key)
	if v == nil {
		return 0, nil
	}
	if v.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidPrice, key)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidPrice, key, v.Value)
	}
	return f, nil
}
