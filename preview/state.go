package preview

import (
	"encoding/json"
)

// ElementState is one node of the peer-computed runtime tree. It mirrors
// the source document node for node: Source points back at the descriptor
// the peer expanded, and Elements holds the expanded children when the
// descriptor is a composition. Track, GlobalTime and Duration are resolved
// by the peer and may differ from the authored values.
//
// The controller treats the whole tree as read only. It is replaced
// wholesale on every state-change event and never edited in place.
type ElementState struct {
	Source *ElementDescriptor `json:"source"`

	Track      int     `json:"track,omitempty"`
	GlobalTime float64 `json:"globalTime,omitempty"`
	Duration   float64 `json:"duration,omitempty"`

	Elements []*ElementState `json:"elements,omitempty"`
}

func ElementStateFromMap(value map[string]any) (*ElementState, error) {
	stateJson, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := &ElementState{}
	if err := json.Unmarshal(stateJson, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToSource rebuilds the source document from a state tree, inverting the
// peer's expansion exactly. A leaf returns its descriptor verbatim; a
// composition returns its descriptor with the child collection replaced by
// the recursively rebuilt children. A nil tree yields an empty document.
func ToSource(state *ElementState) *ElementDescriptor {
	if state == nil || state.Source == nil {
		return &ElementDescriptor{}
	}
	if len(state.Elements) == 0 {
		return state.Source
	}
	// shallow copy so the projection stays read only
	out := *state.Source
	out.Elements = make([]*ElementDescriptor, len(state.Elements))
	for i, element := range state.Elements {
		out.Elements[i] = ToSource(element)
	}
	return &out
}

// Flatten returns every renderable node in depth first pre-order.
// Structural containers, nodes whose descriptor has no type tag, are
// walked through but not returned. A nil tree yields an empty sequence.
func Flatten(state *ElementState) []*ElementState {
	out := []*ElementState{}
	if state == nil {
		return out
	}
	var walk func(node *ElementState)
	walk = func(node *ElementState) {
		if node.Source != nil && node.Source.Type != "" {
			out = append(out, node)
		}
		for _, element := range node.Elements {
			walk(element)
		}
	}
	walk(state)
	return out
}

// Find returns the first node matching the predicate in depth first
// pre-order, descending into children before moving to siblings.
// Containers are candidates too.
func Find(state *ElementState, predicate func(node *ElementState) bool) (*ElementState, bool) {
	if state == nil {
		return nil, false
	}
	if predicate(state) {
		return state, true
	}
	for _, element := range state.Elements {
		if found, ok := Find(element, predicate); ok {
			return found, true
		}
	}
	return nil, false
}

// FindElementState locates the state node for a source element id.
func FindElementState(state *ElementState, elementId string) (*ElementState, bool) {
	return Find(state, func(node *ElementState) bool {
		return node.Source != nil && node.Source.Id == elementId
	})
}
