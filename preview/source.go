package preview

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ElementDescriptor is one node of the authoring source document. The
// document root is itself a descriptor: a structural container with no
// type tag. Composition nests through Elements.
//
// Known fields are typed. Everything else an author or the peer puts on an
// element lives in Properties and round-trips opaquely, unknown keys
// included. Dropping keys the controller does not understand would corrupt
// documents authored against a newer peer.
type ElementDescriptor struct {
	Id       string
	Type     string
	Track    int
	Time     *float64
	Duration *float64
	Elements []*ElementDescriptor

	Properties map[string]any
}

func NewSourceDocument(elements ...*ElementDescriptor) *ElementDescriptor {
	return &ElementDescriptor{
		Elements: elements,
	}
}

func (self *ElementDescriptor) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for name, value := range self.Properties {
		out[name] = copyValue(value)
	}
	if self.Id != "" {
		out["id"] = self.Id
	}
	if self.Type != "" {
		out["type"] = self.Type
	}
	if self.Track != 0 {
		out["track"] = self.Track
	}
	if self.Time != nil {
		out["time"] = *self.Time
	}
	if self.Duration != nil {
		out["duration"] = *self.Duration
	}
	if self.Elements != nil {
		out["elements"] = self.Elements
	}
	return json.Marshal(out)
}

func (self *ElementDescriptor) UnmarshalJSON(src []byte) error {
	var known struct {
		Id       string               `json:"id"`
		Type     string               `json:"type"`
		Track    int                  `json:"track"`
		Time     *float64             `json:"time"`
		Duration *float64             `json:"duration"`
		Elements []*ElementDescriptor `json:"elements"`
	}
	if err := json.Unmarshal(src, &known); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(src, &all); err != nil {
		return err
	}
	for _, name := range []string{"id", "type", "track", "time", "duration", "elements"} {
		delete(all, name)
	}
	if len(all) == 0 {
		all = nil
	}

	self.Id = known.Id
	self.Type = known.Type
	self.Track = known.Track
	self.Time = known.Time
	self.Duration = known.Duration
	self.Elements = known.Elements
	self.Properties = all
	return nil
}

// Clone deep copies the descriptor tree, property bags included.
// Derived documents are always computed on a clone so readers of the
// shared original never observe a partial mutation.
func (self *ElementDescriptor) Clone() *ElementDescriptor {
	if self == nil {
		return nil
	}
	out := &ElementDescriptor{
		Id:    self.Id,
		Type:  self.Type,
		Track: self.Track,
	}
	if self.Time != nil {
		time := *self.Time
		out.Time = &time
	}
	if self.Duration != nil {
		duration := *self.Duration
		out.Duration = &duration
	}
	if self.Elements != nil {
		out.Elements = make([]*ElementDescriptor, len(self.Elements))
		for i, element := range self.Elements {
			out.Elements[i] = element.Clone()
		}
	}
	if self.Properties != nil {
		out.Properties = map[string]any{}
		for name, value := range self.Properties {
			out.Properties[name] = copyValue(value)
		}
	}
	return out
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := map[string]any{}
		for name, entry := range v {
			out[name] = copyValue(entry)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, entry := range v {
			out[i] = copyValue(entry)
		}
		return out
	default:
		// scalar
		return v
	}
}

// FindElement returns the descriptor with the given id, searching the
// document depth first.
func (self *ElementDescriptor) FindElement(id string) *ElementDescriptor {
	if self == nil {
		return nil
	}
	if self.Id == id {
		return self
	}
	for _, element := range self.Elements {
		if found := element.FindElement(id); found != nil {
			return found
		}
	}
	return nil
}

// RemoveElement returns a clone of the document with the element removed.
// Removing an unknown id returns an unchanged clone.
func (self *ElementDescriptor) RemoveElement(id string) *ElementDescriptor {
	out := self.Clone()
	out.removeElementInPlace(id)
	return out
}

func (self *ElementDescriptor) removeElementInPlace(id string) bool {
	for i, element := range self.Elements {
		if element.Id == id {
			self.Elements = append(self.Elements[0:i], self.Elements[i+1:]...)
			return true
		}
		if element.removeElementInPlace(id) {
			return true
		}
	}
	return false
}

// Property reads a possibly nested property by gjson path,
// e.g. "fill_color" or "animations.0.type".
func (self *ElementDescriptor) Property(path string) (any, bool) {
	if self == nil || self.Properties == nil {
		return nil, false
	}
	propertiesJson, err := json.Marshal(self.Properties)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(propertiesJson, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// ModificationPatch addresses properties as `<elementId>.<propertyPath>`.
// Values are raw replacement values.
type ModificationPatch map[string]any

// ApplyPatch computes the document that results from applying the patch
// locally. The peer stays authoritative for the live composition; this is
// for callers that derive documents offline (previewctl, render submission).
func (self *ElementDescriptor) ApplyPatch(patch ModificationPatch) (*ElementDescriptor, error) {
	out := self.Clone()
	for key, value := range patch {
		elementId, propertyPath, found := strings.Cut(key, ".")
		if !found {
			return nil, fmt.Errorf("modification key %q must be <elementId>.<propertyName>", key)
		}
		element := out.FindElement(elementId)
		if element == nil {
			return nil, fmt.Errorf("modification key %q: no element %q", key, elementId)
		}
		if err := element.setProperty(propertyPath, value); err != nil {
			return nil, fmt.Errorf("modification key %q: %s", key, err)
		}
	}
	return out, nil
}

func (self *ElementDescriptor) setProperty(path string, value any) error {
	switch path {
	case "track":
		track, ok := asInt(value)
		if !ok {
			return fmt.Errorf("track must be a number")
		}
		self.Track = track
		return nil
	case "time":
		time, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("time must be a number")
		}
		self.Time = &time
		return nil
	case "duration":
		duration, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("duration must be a number")
		}
		self.Duration = &duration
		return nil
	}

	propertiesJson := []byte("{}")
	if self.Properties != nil {
		var err error
		propertiesJson, err = json.Marshal(self.Properties)
		if err != nil {
			return err
		}
	}
	nextPropertiesJson, err := sjson.SetBytes(propertiesJson, path, value)
	if err != nil {
		return err
	}
	var nextProperties map[string]any
	if err := json.Unmarshal(nextPropertiesJson, &nextProperties); err != nil {
		return err
	}
	self.Properties = nextProperties
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func asInt(value any) (int, bool) {
	f, ok := asFloat(value)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// toMap converts the descriptor to the untyped shape the wire carries.
func (self *ElementDescriptor) toMap() (map[string]any, error) {
	documentJson, err := json.Marshal(self)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(documentJson, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ElementDescriptorFromMap converts an untyped wire value back to a
// descriptor.
func ElementDescriptorFromMap(value map[string]any) (*ElementDescriptor, error) {
	documentJson, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := &ElementDescriptor{}
	if err := json.Unmarshal(documentJson, out); err != nil {
		return nil, err
	}
	return out, nil
}
