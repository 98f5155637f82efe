// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowconfig

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/flowengine/internal/errors"
)

// LoadHCL parses an HCL document into a Tree, the same node shape a
// production deployment would read flow.* settings from. A nested block
// becomes a chain of child nodes, one named after its type and one per
// label, so `flow-timeouts "tcp" { new = ... }` is reachable as
// "flow-timeouts.tcp.new"; attributes become scalar leaf nodes.
func LoadHCL(src []byte, filename string) (*Tree, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindConfig, fmt.Sprintf("flowconfig: parse %s", filename))
	}

	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, errors.Errorf(errors.KindConfig, "flowconfig: unexpected body type for %s", filename)
	}

	root := NewTree("root")
	if err := populate(root, body); err != nil {
		return nil, err
	}
	return root, nil
}

func populate(node *Tree, body *hclsyntax.Body) error {
	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return errors.Wrap(diags, errors.KindConfig, fmt.Sprintf("flowconfig: evaluating %s", name))
		}
		str, err := ctyToString(val)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, fmt.Sprintf("flowconfig: attribute %s", name))
		}
		node.Child(name).SetValue(str)
	}

	for _, block := range body.Blocks {
		child := node
		for _, seg := range append([]string{block.Type}, block.Labels...) {
			child = child.Child(seg)
		}
		if err := populate(child, block.Body); err != nil {
			return err
		}
	}
	return nil
}

func ctyToString(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		if v.True() {
			return "true", nil
		}
		return "false", nil
	case cty.Number:
		bf := v.AsBigFloat()
		return bf.Text('f', -1), nil
	default:
		return "", fmt.Errorf("unsupported value type %s", v.Type().FriendlyName())
	}
}
