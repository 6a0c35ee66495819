// Package htmlguard provides the HTML-structural helpers shared by
// the Guardrail Validator (C7) and the Regeneration Engine (C8):
// parsing a markup fragment, rendering it back, and inspecting or
// re-grafting its data-ai-* markers, built on golang.org/x/net/html
// the way the teacher's content-safety checks walk parsed documents
// rather than pattern-matching raw strings.
package htmlguard

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fragmentContext is the implied parent used to parse a markup
// fragment that isn't a full document.
func fragmentContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// Parse parses an HTML fragment into its node forest. An empty or
// whitespace-only fragment parses to an empty forest, not an error.
func Parse(fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), fragmentContext())
	if err != nil {
		return nil, fmt.Errorf("htmlguard: parse fragment: %w", err)
	}
	return nodes, nil
}

// Render serializes a node forest back to a markup string.
func Render(nodes []*html.Node) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		if err := html.Render(&sb, n); err != nil {
			return "", fmt.Errorf("htmlguard: render: %w", err)
		}
	}
	return sb.String(), nil
}

// firstElement returns the first element node in the forest, skipping
// text/comment siblings.
func firstElement(nodes []*html.Node) *html.Node {
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n
		}
	}
	return nil
}

// TopLevelTag returns the tag name of the fragment's first element,
// or "" if the fragment has no element nodes.
func TopLevelTag(nodes []*html.Node) string {
	el := firstElement(nodes)
	if el == nil {
		return ""
	}
	return el.Data
}

// Markers walks every element in the forest and collects attributes
// whose name starts with "data-ai-", keyed by attribute name. When the
// same marker name appears on multiple elements, the first value
// found wins; callers only need these to re-graft onto a
// top-level-tag-preserving regeneration, not to round-trip an entire
// tree of markers.
func Markers(nodes []*html.Node) map[string]string {
	markers := map[string]string{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if strings.HasPrefix(attr.Key, "data-ai-") {
					if _, exists := markers[attr.Key]; !exists {
						markers[attr.Key] = attr.Val
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return markers
}

// RegraftMarkers ensures every (name, value) in markers is present as
// an attribute on the fragment's top-level element, adding or
// overwriting as needed. It mutates nodes in place and is a no-op if
// the fragment has no element nodes.
func RegraftMarkers(nodes []*html.Node, markers map[string]string) {
	el := firstElement(nodes)
	if el == nil {
		return
	}
	for name, val := range markers {
		found := false
		for i := range el.Attr {
			if el.Attr[i].Key == name {
				el.Attr[i].Val = val
				found = true
				break
			}
		}
		if !found {
			el.Attr = append(el.Attr, html.Attribute{Key: name, Val: val})
		}
	}
}

// scriptTags lists element names that are rejected outright wherever
// they appear in a fragment.
var scriptTags = map[string]bool{"script": true, "iframe": true, "object": true, "embed": true}

// Violation describes a structural policy breach found while walking
// a fragment.
type Violation struct {
	Reason string
}

// FindScriptViolations walks the forest for <script>/<iframe>/etc. tags
// and for any attribute beginning with "on" (the universal DOM
// event-handler attribute prefix), neither of which spec.md §4.7
// permits regardless of an allow-list, since allow-listing specific
// event handlers would defeat the purpose of the check.
func FindScriptViolations(nodes []*html.Node) []Violation {
	var violations []Violation
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if scriptTags[n.Data] {
				violations = append(violations, Violation{Reason: fmt.Sprintf("disallowed tag <%s>", n.Data)})
			}
			for _, attr := range n.Attr {
				if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
					violations = append(violations, Violation{Reason: fmt.Sprintf("event-handler attribute %q on <%s>", attr.Key, n.Data)})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return violations
}
