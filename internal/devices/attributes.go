package devices

import (
	"encoding/json"
	"sort"
	"strings"
)

// AttributeSet is a sorted set of string tags. The zero value is empty and
// ready to use.
type AttributeSet []string

// NewAttributeSet builds a set from attrs, dropping duplicates.
func NewAttributeSet(attrs ...string) AttributeSet {
	var s AttributeSet
	for _, a := range attrs {
		s.Add(a)
	}
	return s
}

// Add inserts attr keeping the set sorted. It reports whether attr was new.
func (s *AttributeSet) Add(attr string) bool {
	if attr == "" {
		return false
	}
	i := sort.SearchStrings(*s, attr)
	if i < len(*s) && (*s)[i] == attr {
		return false
	}
	*s = append(*s, "")
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = attr
	return true
}

// Has reports whether attr is in the set.
func (s AttributeSet) Has(attr string) bool {
	i := sort.SearchStrings(s, attr)
	return i < len(s) && s[i] == attr
}

// Union adds every attribute of other to s.
func (s *AttributeSet) Union(other AttributeSet) {
	for _, a := range other {
		s.Add(a)
	}
}

// String joins the set with commas, the form the CMDB import expects.
func (s AttributeSet) String() string {
	return strings.Join(s, ",")
}

// MarshalJSON encodes the set as a comma-joined string.
func (s AttributeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the comma-joined string form or a JSON array.
func (s *AttributeSet) UnmarshalJSON(data []byte) error {
	*s = nil
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		if joined == "" {
			return nil
		}
		for _, a := range strings.Split(joined, ",") {
			s.Add(a)
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for _, a := range list {
		s.Add(a)
	}
	return nil
}
