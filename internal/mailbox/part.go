package mailbox

import "strings"

const mimeHTML = "text/html"

// Part is one node of a message body tree. Leaves carry Data; multipart nodes carry Parts.
type Part struct {
	MimeType string
	Data     []byte
	Parts    []*Part
}

func (p *Part) IsLeaf() bool { return len(p.Parts) == 0 }

func isHTML(p *Part) bool {
	mt := strings.ToLower(strings.TrimSpace(p.MimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == mimeHTML
}

// FindHTML returns the first text/html leaf with a payload, depth-first in part order.
func FindHTML(root *Part) *Part {
	if root == nil {
		return nil
	}
	stack := []*Part{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.IsLeaf() {
			if isHTML(n) && len(n.Data) > 0 {
				return n
			}
			continue
		}
		for i := len(n.Parts) - 1; i >= 0; i-- {
			stack = append(stack, n.Parts[i])
		}
	}
	return nil
}

// BodyHTML returns the HTML part's text, falling back to the top-level payload.
func BodyHTML(root *Part) string {
	if root == nil {
		return ""
	}
	if p := FindHTML(root); p != nil {
		return string(p.Data)
	}
	return string(root.Data)
}
