package preview

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func floatPtr(f float64) *float64 {
	return &f
}

// fixtureState builds the expansion of a document with a nested
// composition, the way the peer would: every descriptor gets a state node,
// compositions get child state nodes.
//
//	root (container)
//	├── a (text, track 1)
//	├── comp (composition, track 2)
//	│   ├── b (image, track 1)
//	│   └── group (container)
//	│       └── c (shape, track 1)
//	└── d (video, track 3)
func fixtureState() *ElementState {
	a := &ElementDescriptor{Id: "a", Type: "text", Track: 1, Properties: map[string]any{"text": "hello"}}
	b := &ElementDescriptor{Id: "b", Type: "image", Track: 1}
	c := &ElementDescriptor{Id: "c", Type: "shape", Track: 1, Time: floatPtr(0.5)}
	group := &ElementDescriptor{Id: "group", Elements: []*ElementDescriptor{c}}
	comp := &ElementDescriptor{Id: "comp", Type: "composition", Track: 2, Elements: []*ElementDescriptor{b, group}}
	d := &ElementDescriptor{Id: "d", Type: "video", Track: 3}
	root := NewSourceDocument(a, comp, d)

	return &ElementState{
		Source: root,
		Elements: []*ElementState{
			{Source: a, Track: 1, GlobalTime: 0},
			{
				Source: comp,
				Track:  2,
				Elements: []*ElementState{
					{Source: b, Track: 1},
					{
						Source: group,
						Elements: []*ElementState{
							{Source: c, Track: 1, GlobalTime: 0.5},
						},
					},
				},
			},
			{Source: d, Track: 3},
		},
	}
}

func TestToSourceRoundTrip(t *testing.T) {
	state := fixtureState()

	rebuilt := ToSource(state)

	rebuiltJson, err := json.Marshal(rebuilt)
	assert.Equal(t, nil, err)
	originalJson, err := json.Marshal(state.Source)
	assert.Equal(t, nil, err)
	assert.Equal(t, string(originalJson), string(rebuiltJson))
}

func TestToSourceDoesNotMutateState(t *testing.T) {
	state := fixtureState()
	before := len(state.Source.Elements)

	rebuilt := ToSource(state)
	rebuilt.Elements = rebuilt.Elements[0:1]

	assert.Equal(t, before, len(state.Source.Elements))
}

func TestFlattenTypedPreOrder(t *testing.T) {
	state := fixtureState()

	flat := Flatten(state)

	ids := []string{}
	for _, node := range flat {
		ids = append(ids, node.Source.Id)
	}
	// containers (root, group) are skipped, order is depth first pre-order
	assert.Equal(t, []string{"a", "comp", "b", "c", "d"}, ids)
}

func TestFindDepthFirst(t *testing.T) {
	state := fixtureState()

	// children are visited before the next sibling: c comes before d
	found, ok := Find(state, func(node *ElementState) bool {
		return node.Source.Id == "c" || node.Source.Id == "d"
	})
	assert.Equal(t, true, ok)
	assert.Equal(t, "c", found.Source.Id)

	// containers are candidates
	found, ok = Find(state, func(node *ElementState) bool {
		return node.Source.Id == "group"
	})
	assert.Equal(t, true, ok)
	assert.Equal(t, "group", found.Source.Id)

	_, ok = Find(state, func(node *ElementState) bool {
		return node.Source.Id == "nope"
	})
	assert.Equal(t, false, ok)
}

func TestAbsentStateIsEmptyNotError(t *testing.T) {
	assert.Equal(t, []*ElementState{}, Flatten(nil))

	_, ok := Find(nil, func(node *ElementState) bool { return true })
	assert.Equal(t, false, ok)

	document := ToSource(nil)
	assert.NotEqual(t, document, nil)
	assert.Equal(t, 0, len(document.Elements))
}

func TestFindElementState(t *testing.T) {
	state := fixtureState()

	node, ok := FindElementState(state, "b")
	assert.Equal(t, true, ok)
	assert.Equal(t, "b", node.Source.Id)

	_, ok = FindElementState(nil, "b")
	assert.Equal(t, false, ok)
}
