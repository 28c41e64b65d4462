package node

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the element type discriminator.
type Kind uint8

const (
	KindElement Kind = iota // container with a tag
	KindText                // leaf text
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	default:
		return "Unknown"
	}
}

// Props holds element attributes.
type Props map[string]any

// Element is a general purpose node used by the reference applier, the demo
// and tests. It records how often it was updated so reuse can be observed.
type Element struct {
	Kind  Kind
	Tag   string
	Props Props
	Text  string

	id       ID
	children []ID
	mounted  bool
	updates  int
}

// NewElement creates an element with the given tag.
func NewElement(tag string) *Element {
	return &Element{Kind: KindElement, Tag: tag, Props: Props{}}
}

// NewText creates a text leaf.
func NewText(text string) *Element {
	return &Element{Kind: KindText, Text: text}
}

// SetText replaces the text and counts an update.
func (e *Element) SetText(text string) {
	e.Text = text
	e.updates++
}

// SetProp sets a single attribute and counts an update.
func (e *Element) SetProp(key string, value any) {
	if e.Props == nil {
		e.Props = Props{}
	}
	e.Props[key] = value
	e.updates++
}

// Updates returns how many property updates the element received.
func (e *Element) Updates() int { return e.updates }

// Mounted reports whether the element is currently stored by an applier.
func (e *Element) Mounted() bool { return e.mounted }

// ID returns the ID assigned on mount.
func (e *Element) ID() ID { return e.id }

// Mount implements Mounter.
func (e *Element) Mount(id ID) {
	e.id = id
	e.mounted = true
}

// Unmount implements Unmounter.
func (e *Element) Unmount() {
	e.mounted = false
}

// InsertChild implements Parent.
func (e *Element) InsertChild(index int, child ID) {
	if index < 0 || index > len(e.children) {
		index = len(e.children)
	}
	e.children = append(e.children, 0)
	copy(e.children[index+1:], e.children[index:])
	e.children[index] = child
}

// RemoveChild implements Parent.
func (e *Element) RemoveChild(child ID) {
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return
		}
	}
}

// MoveChild implements Parent.
func (e *Element) MoveChild(from, to int) {
	if from == to || from < 0 || from >= len(e.children) {
		return
	}
	c := e.children[from]
	e.children = append(e.children[:from], e.children[from+1:]...)
	if to > len(e.children) {
		to = len(e.children)
	}
	e.children = append(e.children, 0)
	copy(e.children[to+1:], e.children[to:])
	e.children[to] = c
}

// Children implements Parent.
func (e *Element) Children() []ID {
	out := make([]ID, len(e.children))
	copy(out, e.children)
	return out
}

// String renders the element as a single line for dumps.
func (e *Element) String() string {
	if e.Kind == KindText {
		return fmt.Sprintf("%q", e.Text)
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(e.Tag)
	keys := make([]string, 0, len(e.Props))
	for k := range e.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Props[k])
	}
	b.WriteString(">")
	if e.Text != "" {
		fmt.Fprintf(&b, " %q", e.Text)
	}
	return b.String()
}
