package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// PlaybackState is the last playback state confirmed by the peer.
// The controller only requests transitions; the peer is authoritative and
// confirmation arrives through play/pause events, never through a
// command's own reply.
type PlaybackState string

const (
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

// Controller is the remote control surface over one embedded rendering
// peer. Construct one per embed frame and Close it when the frame goes
// away. There is no shared global instance; owners pass the controller to
// whatever needs it.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	dispatcher *commandDispatcher
	embed      *Embed

	stateLock        sync.Mutex
	activeElementIds []string
	playbackState    PlaybackState
	currentTime      float64
	scrubbing        bool

	removeCallbacks []func()
}

func NewControllerWithDefaults(ctx context.Context, channel MessageChannel) *Controller {
	return NewController(ctx, channel, nil, nil)
}

// NewController wires the controller over a channel. `embed` may be nil
// when the hosting surface is managed elsewhere. `generateId` may be nil
// to use the default ulid generator.
func NewController(ctx context.Context, channel MessageChannel, embed *Embed, generateId IdGenerator) *Controller {
	cancelCtx, cancel := context.WithCancel(ctx)

	controller := &Controller{
		ctx:           cancelCtx,
		cancel:        cancel,
		dispatcher:    newCommandDispatcher(cancelCtx, channel, generateId),
		embed:         embed,
		playbackState: PlaybackStopped,
	}

	controller.removeCallbacks = []func(){
		controller.dispatcher.AddEventCallback(EventPlay, controller.playEvent),
		controller.dispatcher.AddEventCallback(EventPause, controller.pauseEvent),
		controller.dispatcher.AddEventCallback(EventTimeChange, controller.timeChangeEvent),
		controller.dispatcher.AddEventCallback(EventActiveElementsChange, controller.activeElementsChangeEvent),
		controller.dispatcher.AddEventCallback(EventLoadComplete, controller.loadCompleteEvent),
	}

	return controller
}

// AddEventCallback exposes dispatcher subscription so hosts can observe
// peer notifications directly. Returns a remove function.
func (self *Controller) AddEventCallback(name EventName, eventCallback EventCallback) func() {
	return self.dispatcher.AddEventCallback(name, eventCallback)
}

func (self *Controller) playEvent(event *Event) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.playbackState = PlaybackPlaying
}

func (self *Controller) pauseEvent(event *Event) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.playbackState = PlaybackPaused
}

func (self *Controller) timeChangeEvent(event *Event) {
	timeChange, err := event.TimeChange()
	if err != nil {
		glog.V(2).Infof("[ctl]time-change decode error = %s\n", err)
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.scrubbing {
		// the local scrub position wins while the user is dragging,
		// otherwise the peer echo fights the cursor
		return
	}
	self.currentTime = timeChange.Time
}

func (self *Controller) activeElementsChangeEvent(event *Event) {
	activeElementsChange, err := event.ActiveElementsChange()
	if err != nil {
		glog.V(2).Infof("[ctl]active-elements-change decode error = %s\n", err)
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.activeElementIds = activeElementsChange.ElementIds
}

func (self *Controller) loadCompleteEvent(event *Event) {
	if self.embed != nil {
		self.embed.setVisible(true)
	}
}

// State returns the cached authoritative state tree, nil before first load.
func (self *Controller) State() *ElementState {
	return self.dispatcher.State()
}

func (self *Controller) PlaybackState() PlaybackState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.playbackState
}

func (self *Controller) CurrentTime() float64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.currentTime
}

func (self *Controller) ActiveElementIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.activeElementIds)
}

// ActiveElement resolves the first id of this controller's own selection
// against the cached state tree.
func (self *Controller) ActiveElement() (*ElementState, bool) {
	self.stateLock.Lock()
	activeElementIds := self.activeElementIds
	self.stateLock.Unlock()

	if len(activeElementIds) == 0 {
		return nil, false
	}
	return FindElementState(self.State(), activeElementIds[0])
}

// stateFromReply refreshes the cache when a reply carries a state tree.
// The peer may instead emit a state-change event; both paths land in the
// same wholesale reference swap.
func (self *Controller) stateFromReply(fields map[string]any) *ElementState {
	stateMap, ok := fields["state"].(map[string]any)
	if !ok {
		return self.dispatcher.State()
	}
	state, err := ElementStateFromMap(stateMap)
	if err != nil {
		glog.Infof("[ctl]reply state decode error = %s\n", err)
		return self.dispatcher.State()
	}
	self.dispatcher.setState(state)
	return state
}

// LoadTemplate asks the peer to load and interpret a stored template.
// On success the hosting surface becomes visible.
func (self *Controller) LoadTemplate(ctx context.Context, templateId string) (*ElementState, error) {
	fields, err := self.dispatcher.Call(ctx, "setTemplate", map[string]any{
		"templateId": templateId,
	})
	if err != nil {
		return nil, err
	}
	state := self.stateFromReply(fields)
	if self.embed != nil {
		self.embed.setVisible(true)
	}
	return state, nil
}

// SetSource replaces the peer's source document wholesale.
// createUndoPoint asks the peer to record the previous document as a
// discrete undo step.
func (self *Controller) SetSource(ctx context.Context, source *ElementDescriptor, createUndoPoint bool) (*ElementState, error) {
	sourceMap, err := source.toMap()
	if err != nil {
		return nil, err
	}
	fields, err := self.dispatcher.Call(ctx, "setSource", map[string]any{
		"source":          sourceMap,
		"createUndoPoint": createUndoPoint,
	})
	if err != nil {
		return nil, err
	}
	state := self.stateFromReply(fields)
	if self.embed != nil {
		self.embed.setVisible(true)
	}
	return state, nil
}

// SetModifications replaces the full live modification set, last write
// wins across the whole patch.
func (self *Controller) SetModifications(ctx context.Context, patch ModificationPatch) (*ElementState, error) {
	fields, err := self.dispatcher.Call(ctx, "setModifications", map[string]any{
		"modifications": map[string]any(patch),
	})
	if err != nil {
		return nil, err
	}
	return self.stateFromReply(fields), nil
}

// ApplyModifications merges a partial patch onto the existing modification
// set.
func (self *Controller) ApplyModifications(ctx context.Context, patch ModificationPatch) (*ElementState, error) {
	fields, err := self.dispatcher.Call(ctx, "applyModifications", map[string]any{
		"modifications": map[string]any(patch),
	})
	if err != nil {
		return nil, err
	}
	return self.stateFromReply(fields), nil
}

// Undo steps the peer's edit history back. The peer decides whether any
// history exists; stepping past the end is a no-op there, not an error.
func (self *Controller) Undo(ctx context.Context) (*ElementState, error) {
	fields, err := self.dispatcher.Call(ctx, "undo", nil)
	if err != nil {
		return nil, err
	}
	return self.stateFromReply(fields), nil
}

func (self *Controller) Redo(ctx context.Context) (*ElementState, error) {
	fields, err := self.dispatcher.Call(ctx, "redo", nil)
	if err != nil {
		return nil, err
	}
	return self.stateFromReply(fields), nil
}

// SetActiveElements declares the selection. The new selection is observed
// later through the active-elements-change event, not through this reply.
func (self *Controller) SetActiveElements(ctx context.Context, elementIds []string) error {
	_, err := self.dispatcher.Call(ctx, "setActiveElements", map[string]any{
		"elementIds": elementIds,
	})
	return err
}

// SetTime seeks playback to an absolute time in seconds. The peer clamps
// to the valid range. The cached time updates from time-change events,
// except while scrubbing.
func (self *Controller) SetTime(ctx context.Context, time float64) error {
	self.stateLock.Lock()
	self.currentTime = time
	self.stateLock.Unlock()

	_, err := self.dispatcher.Call(ctx, "setTime", map[string]any{
		"time": time,
	})
	return err
}

// BeginScrub suppresses time-change echo while a caller drags the
// playback cursor. EndScrub resumes applying peer time.
func (self *Controller) BeginScrub() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.scrubbing = true
}

func (self *Controller) EndScrub() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.scrubbing = false
}

// Play requests stopped/paused -> playing. The reply acknowledges the
// request only; the transition is confirmed by the play event.
func (self *Controller) Play(ctx context.Context) error {
	_, err := self.dispatcher.Call(ctx, "play", nil)
	return err
}

// Pause requests playing -> paused.
func (self *Controller) Pause(ctx context.Context) error {
	_, err := self.dispatcher.Call(ctx, "pause", nil)
	return err
}

// DeleteElement derives a document without the element from the current
// state and pushes it with an undo point. The derivation runs on a deep
// clone so in-flight readers of the previous tree are never corrupted.
func (self *Controller) DeleteElement(ctx context.Context, elementId string) (*ElementState, error) {
	state := self.State()
	if state == nil {
		return nil, fmt.Errorf("deleteElement error: no content loaded")
	}
	source := ToSource(state).Clone()
	source.removeElementInPlace(elementId)
	return self.SetSource(ctx, source, true)
}

// SetElementProperty patches one property on one element through the
// modification path.
func (self *Controller) SetElementProperty(ctx context.Context, elementId string, propertyPath string, value any) (*ElementState, error) {
	return self.ApplyModifications(ctx, ModificationPatch{
		elementId + "." + propertyPath: value,
	})
}

// RearrangeTracks swaps the elements on the given track with the track
// above or below and pushes the derived document with an undo point.
// A swap that would go below track 1 is a no-op.
func (self *Controller) RearrangeTracks(ctx context.Context, track int, up bool) (*ElementState, error) {
	other := track - 1
	if up {
		other = track + 1
	}
	source := ToSource(self.State())
	swapped, changed := SwapTracks(source, track, other)
	if !changed {
		return self.State(), nil
	}
	return self.SetSource(ctx, swapped, true)
}

// Close tears down the controller and its channel. Every outstanding call
// fails with ErrChannelClosed.
func (self *Controller) Close() {
	for _, removeCallback := range self.removeCallbacks {
		removeCallback()
	}
	self.dispatcher.Close()
	self.cancel()
}
