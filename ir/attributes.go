package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// AttrType enumerates the types an attribute value can take.
type AttrType int

const (
	AttrInt AttrType = iota
	AttrInts
	AttrFloat
	AttrFloats
	AttrBool
	AttrString
)

var attrTypeNames = [...]string{"int", "ints", "float", "floats", "bool", "string"}

// String implements fmt.Stringer.
func (t AttrType) String() string {
	if int(t) < len(attrTypeNames) {
		return attrTypeNames[t]
	}
	return fmt.Sprintf("AttrType(%d)", int(t))
}

// Attr is a typed attribute value. Only the field matching Type is meaningful.
type Attr struct {
	Type   AttrType
	I      int64
	Ints   []int64
	F      float64
	Floats []float64
	B      bool
	S      string
}

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attr { return Attr{Type: AttrInt, I: v} }

// IntsAttr returns an integer array attribute.
func IntsAttr(v ...int64) Attr { return Attr{Type: AttrInts, Ints: slices.Clone(v)} }

// FloatAttr returns a float attribute.
func FloatAttr(v float64) Attr { return Attr{Type: AttrFloat, F: v} }

// FloatsAttr returns a float array attribute.
func FloatsAttr(v ...float64) Attr { return Attr{Type: AttrFloats, Floats: slices.Clone(v)} }

// BoolAttr returns a boolean attribute.
func BoolAttr(v bool) Attr { return Attr{Type: AttrBool, B: v} }

// StringAttr returns a string attribute.
func StringAttr(v string) Attr { return Attr{Type: AttrString, S: v} }

// Clone returns a deep copy.
func (a Attr) Clone() Attr {
	a.Ints = slices.Clone(a.Ints)
	a.Floats = slices.Clone(a.Floats)
	return a
}

// Equal compares type and value.
func (a Attr) Equal(other Attr) bool {
	return a.Type == other.Type && a.I == other.I && a.F == other.F && a.B == other.B && a.S == other.S &&
		slices.Equal(a.Ints, other.Ints) && slices.Equal(a.Floats, other.Floats)
}

// String implements fmt.Stringer.
func (a Attr) String() string {
	switch a.Type {
	case AttrInt:
		return strconv.FormatInt(a.I, 10)
	case AttrInts:
		parts := make([]string, len(a.Ints))
		for ii, v := range a.Ints {
			parts[ii] = strconv.FormatInt(v, 10)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case AttrFloat:
		return strconv.FormatFloat(a.F, 'g', -1, 64)
	case AttrFloats:
		parts := make([]string, len(a.Floats))
		for ii, v := range a.Floats {
			parts[ii] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case AttrBool:
		return strconv.FormatBool(a.B)
	case AttrString:
		return strconv.Quote(a.S)
	default:
		return "<invalid>"
	}
}

// NamedAttr is one entry of an attribute map.
type NamedAttr struct {
	Name  string
	Value Attr
}

// Attributes is an ordered attribute map. Names are unique.
type Attributes []NamedAttr

// Get returns the attribute with the given name.
func (attrs Attributes) Get(name string) (Attr, bool) {
	for _, attr := range attrs {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return Attr{}, false
}

// Has reports whether the attribute is present.
func (attrs Attributes) Has(name string) bool {
	_, found := attrs.Get(name)
	return found
}

// Set replaces the named attribute in place, or appends it, and returns the updated map.
func (attrs Attributes) Set(name string, value Attr) Attributes {
	for ii := range attrs {
		if attrs[ii].Name == name {
			attrs[ii].Value = value
			return attrs
		}
	}
	return append(attrs, NamedAttr{Name: name, Value: value})
}

// Clone returns a deep copy.
func (attrs Attributes) Clone() Attributes {
	if attrs == nil {
		return nil
	}
	out := make(Attributes, len(attrs))
	for ii, attr := range attrs {
		out[ii] = NamedAttr{Name: attr.Name, Value: attr.Value.Clone()}
	}
	return out
}

// String implements fmt.Stringer, e.g. "{kernel_shape=[3,3], with_bias=true}".
func (attrs Attributes) String() string {
	parts := make([]string, len(attrs))
	for ii, attr := range attrs {
		parts[ii] = attr.Name + "=" + attr.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// getAttr returns the attribute and asserts its type.
// It panics with an ErrMalformedNode error if the attribute has a different type.
func (n *Node) getAttr(name string, attrType AttrType) (Attr, bool) {
	attr, found := n.Attrs.Get(name)
	if !found {
		return Attr{}, false
	}
	if attr.Type != attrType {
		malformedf("attribute %q of %s is of type %s, expected %s", name, n, attr.Type, attrType)
	}
	return attr, true
}

// IntAttrOr returns the integer attribute or defaultValue if it is not set.
// It panics with an ErrMalformedNode error if the attribute has the wrong type.
func (n *Node) IntAttrOr(name string, defaultValue int) int {
	attr, found := n.getAttr(name, AttrInt)
	if !found {
		return defaultValue
	}
	return int(attr.I)
}

// IntsAttrOr returns the integer array attribute or defaultValues if it is not set.
// It panics with an ErrMalformedNode error if the attribute has the wrong type.
func (n *Node) IntsAttrOr(name string, defaultValues []int) []int {
	attr, found := n.getAttr(name, AttrInts)
	if !found {
		return defaultValues
	}
	out := make([]int, len(attr.Ints))
	for ii, v := range attr.Ints {
		out[ii] = int(v)
	}
	return out
}

// FloatAttrOr returns the float attribute or defaultValue. Integer attributes are accepted.
func (n *Node) FloatAttrOr(name string, defaultValue float64) float64 {
	attr, found := n.Attrs.Get(name)
	if !found {
		return defaultValue
	}
	switch attr.Type {
	case AttrFloat:
		return attr.F
	case AttrInt:
		return float64(attr.I)
	}
	malformedf("attribute %q of %s is of type %s, expected float", name, n, attr.Type)
	return 0
}

// BoolAttrOr returns the boolean attribute or defaultValue.
func (n *Node) BoolAttrOr(name string, defaultValue bool) bool {
	attr, found := n.getAttr(name, AttrBool)
	if !found {
		return defaultValue
	}
	return attr.B
}

// StringAttrOr returns the string attribute or defaultValue.
func (n *Node) StringAttrOr(name string, defaultValue string) string {
	attr, found := n.getAttr(name, AttrString)
	if !found {
		return defaultValue
	}
	return attr.S
}
