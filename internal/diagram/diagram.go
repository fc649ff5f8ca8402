// Package diagram renders the discovered seeding tier graph (root, children,
// grandchildren, activities, files) as an ASCII box diagram for the `plan`
// command. The graph is built directly from a schema.Inspector's discovered
// tiers, so no general graph layout is needed: boxes are stacked top to
// bottom, each indented one step per depth of the tree, and the activity and
// file boxes hang directly off the root, at the same depth as the children.
package diagram

import (
	"fmt"
	"strings"
)

// Node is one box in the rendered diagram.
type Node struct {
	Label    string
	Tier     string // "root", "child", "grandchild", "activity", "file"
	Children []*Node
}

// boxPadding is the horizontal padding inside each box border.
const boxPadding = 1

// Render draws root as a top-to-bottom tree of boxes, each level indented
// further than its parent and connected to it by an arrow.
func Render(root *Node) string {
	var b strings.Builder
	renderNode(&b, root, 0)
	return b.String()
}

func renderNode(b *strings.Builder, n *Node, depth int) {
	box := boxify(fmt.Sprintf("%s [%s]", n.Label, n.Tier))
	indent := strings.Repeat("    ", depth)
	connector := indent
	if depth > 0 {
		connector = strings.Repeat("    ", depth-1) + "--> "
	}
	for i, line := range strings.Split(box, "\n") {
		if i == 1 {
			b.WriteString(connector)
		} else {
			b.WriteString(indent)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, c := range n.Children {
		renderNode(b, c, depth+1)
	}
}

// boxify draws a bordered box around label with boxPadding columns of
// horizontal padding on each side.
func boxify(label string) string {
	pad := strings.Repeat(" ", boxPadding)
	inner := pad + label + pad
	border := "+" + strings.Repeat("-", len(inner)) + "+"
	return border + "\n|" + inner + "|\n" + border
}

// BuildFromTiers assembles a Node tree from the flat tier lists a pipeline
// run discovers, for rendering by Render.
func BuildFromTiers(rootObject string, children []string, childToGrandchildren map[string][]string, includeTasks, includeEvents, includeFiles bool) *Node {
	root := &Node{Label: rootObject, Tier: "root"}

	for _, c := range children {
		childNode := &Node{Label: c, Tier: "child"}
		for _, gc := range childToGrandchildren[c] {
			childNode.Children = append(childNode.Children, &Node{Label: gc, Tier: "grandchild"})
		}
		root.Children = append(root.Children, childNode)
	}

	if includeTasks {
		root.Children = append(root.Children, &Node{Label: "Task", Tier: "activity"})
	}
	if includeEvents {
		root.Children = append(root.Children, &Node{Label: "Event", Tier: "activity"})
	}
	if includeFiles {
		root.Children = append(root.Children, &Node{Label: "ContentDocumentLink", Tier: "file"})
	}

	return root
}
