package render

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Command is a renderer mutation emitted by Recorder, forwarded to the
// browser map that actually draws it.
type Command struct {
	Op      string `json:"op"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Command ops. Camera commands use the CameraMode as their op.
const (
	OpCreate       = "create"
	OpRemove       = "remove"
	OpAddSource    = "addSource"
	OpSetData      = "setData"
	OpRemoveSource = "removeSource"
	OpAddLayer     = "addLayer"
	OpRemoveLayer  = "removeLayer"
	OpAddImage     = "addImage"
	OpCursor       = "cursor"
)

// CommandSink receives recorder commands.
type CommandSink func(Command)

// Recorder is a headless Renderer. It keeps the full map state in memory,
// emits every mutation as a Command, and learns about readiness and user
// input from events fed back with SetStyleLoaded, SetLoaded and Emit.
// Like the Surface it is confined to the session loop.
type Recorder struct {
	sink CommandSink

	created     bool
	removed     bool
	styleLoaded bool
	loaded      bool

	sources    map[string]*recordedSource
	layerOrder []string
	layers     map[string]LayerSpec
	images     map[string]Image
	handlers   map[handlerKey][]Handler
	once       map[string][]Handler
	expansion  map[int]float64
	moves      []Camera
	cursor     string

	sourceCreates map[string]int
}

type handlerKey struct{ event, layer string }

type recordedSource struct {
	r       *Recorder
	id      string
	spec    SourceSpec
	updates int
}

func (s *recordedSource) SetData(fc *geojson.FeatureCollection) error {
	s.spec.Data = fc
	s.updates++
	s.r.emit(Command{Op: OpSetData, ID: s.id, Payload: fc})
	return nil
}

// NewRecorder returns a headless renderer publishing to sink. sink may be nil.
func NewRecorder(sink CommandSink) *Recorder {
	return &Recorder{
		sink:          sink,
		sources:       make(map[string]*recordedSource),
		layers:        make(map[string]LayerSpec),
		images:        make(map[string]Image),
		handlers:      make(map[handlerKey][]Handler),
		once:          make(map[string][]Handler),
		expansion:     make(map[int]float64),
		sourceCreates: make(map[string]int),
	}
}

func (r *Recorder) emit(cmd Command) {
	if r.sink != nil {
		r.sink(cmd)
	}
}

func (r *Recorder) Create(cfg Config) error {
	if r.created {
		return fmt.Errorf("renderer already created")
	}
	r.created = true
	r.emit(Command{Op: OpCreate, Payload: cfg})
	return nil
}

func (r *Recorder) Remove() error {
	r.removed = true
	r.handlers = make(map[handlerKey][]Handler)
	r.once = make(map[string][]Handler)
	r.emit(Command{Op: OpRemove})
	return nil
}

func (r *Recorder) On(event, layer string, h Handler) {
	k := handlerKey{event, layer}
	r.handlers[k] = append(r.handlers[k], h)
}

func (r *Recorder) Off(event, layer string, h Handler) {
	k := handlerKey{event, layer}
	hs := r.handlers[k]
	for i, x := range hs {
		if x == h {
			r.handlers[k] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

func (r *Recorder) Once(event string, h Handler) {
	for _, x := range r.once[event] {
		if x == h {
			return
		}
	}
	r.once[event] = append(r.once[event], h)
}

func (r *Recorder) IsStyleLoaded() bool { return r.created && r.styleLoaded }
func (r *Recorder) Loaded() bool        { return r.created && r.loaded }

func (r *Recorder) Move(cam Camera) error {
	if !r.created {
		return ErrNotCreated
	}
	r.moves = append(r.moves, cam)
	r.emit(Command{Op: string(cam.Mode), Payload: cam})
	return nil
}

func (r *Recorder) AddSource(id string, spec SourceSpec) error {
	if _, ok := r.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	r.sources[id] = &recordedSource{r: r, id: id, spec: spec}
	r.sourceCreates[id]++
	r.emit(Command{Op: OpAddSource, ID: id, Payload: spec})
	return nil
}

func (r *Recorder) GetSource(id string) (Source, bool) {
	s, ok := r.sources[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (r *Recorder) RemoveSource(id string) error {
	if _, ok := r.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	delete(r.sources, id)
	r.emit(Command{Op: OpRemoveSource, ID: id})
	return nil
}

func (r *Recorder) HasLayer(id string) bool {
	_, ok := r.layers[id]
	return ok
}

func (r *Recorder) AddLayer(layer LayerSpec, before string) error {
	if r.HasLayer(layer.ID) {
		return fmt.Errorf("layer %q already exists", layer.ID)
	}
	if _, ok := r.sources[layer.Source]; !ok {
		return fmt.Errorf("layer %q: source %q not found", layer.ID, layer.Source)
	}
	r.layers[layer.ID] = layer
	pos := len(r.layerOrder)
	for i, id := range r.layerOrder {
		if id == before {
			pos = i
			break
		}
	}
	r.layerOrder = append(r.layerOrder, "")
	copy(r.layerOrder[pos+1:], r.layerOrder[pos:])
	r.layerOrder[pos] = layer.ID
	r.emit(Command{Op: OpAddLayer, ID: layer.ID, Payload: map[string]any{"layer": layer, "before": before}})
	return nil
}

func (r *Recorder) RemoveLayer(id string) error {
	if !r.HasLayer(id) {
		return fmt.Errorf("layer %q not found", id)
	}
	delete(r.layers, id)
	for i, x := range r.layerOrder {
		if x == id {
			r.layerOrder = append(r.layerOrder[:i], r.layerOrder[i+1:]...)
			break
		}
	}
	r.emit(Command{Op: OpRemoveLayer, ID: id})
	return nil
}

func (r *Recorder) HasImage(id string) bool {
	_, ok := r.images[id]
	return ok
}

func (r *Recorder) AddImage(id string, img Image, opts ImageOptions) error {
	if r.HasImage(id) {
		return fmt.Errorf("image %q already exists", id)
	}
	strip, err := EncodeFrames(img)
	if err != nil {
		return fmt.Errorf("image %q: %w", id, err)
	}
	r.images[id] = img
	w, h := img.Size()
	r.emit(Command{Op: OpAddImage, ID: id, Payload: map[string]any{
		"width":      w,
		"height":     h,
		"animated":   img.Animated(),
		"pixelRatio": opts.PixelRatio,
		"frames":     strip.Frames,
		"frameMs":    strip.FrameMs,
	}})
	return nil
}

func (r *Recorder) ClusterExpansionZoom(source string, clusterID int) (float64, error) {
	if _, ok := r.sources[source]; !ok {
		return 0, fmt.Errorf("source %q not found", source)
	}
	z, ok := r.expansion[clusterID]
	if !ok {
		return 0, fmt.Errorf("cluster %d: %w", clusterID, ErrUnknownCluster)
	}
	return z, nil
}

func (r *Recorder) SetCursor(cursor string) {
	if r.cursor == cursor {
		return
	}
	r.cursor = cursor
	r.emit(Command{Op: OpCursor, Payload: cursor})
}

// SetStyleLoaded records the browser's style-loaded flag.
func (r *Recorder) SetStyleLoaded(v bool) { r.styleLoaded = v }

// SetLoaded records the browser's fully-loaded flag.
func (r *Recorder) SetLoaded(v bool) { r.loaded = v }

// SetClusterExpansion records the expansion zoom the browser computed.
func (r *Recorder) SetClusterExpansion(clusterID int, zoom float64) {
	r.expansion[clusterID] = zoom
}

// Emit dispatches ev to handlers bound to its type and layer, then to any
// one-shot handlers for its type.
func (r *Recorder) Emit(ev Event) {
	hs := append([]Handler(nil), r.handlers[handlerKey{ev.Type, ev.Layer}]...)
	if ev.Layer != "" {
		hs = append(hs, r.handlers[handlerKey{ev.Type, ""}]...)
	}
	once := r.once[ev.Type]
	delete(r.once, ev.Type)
	for _, h := range hs {
		h.HandleEvent(ev)
	}
	for _, h := range once {
		h.HandleEvent(ev)
	}
}

// HandlerCount returns how many handlers are bound for event on layer.
func (r *Recorder) HandlerCount(event, layer string) int {
	return len(r.handlers[handlerKey{event, layer}])
}

// SourceCreations returns how many times a source id was created.
func (r *Recorder) SourceCreations(id string) int { return r.sourceCreates[id] }

// SourceData returns the current data of a source.
func (r *Recorder) SourceData(id string) (*geojson.FeatureCollection, bool) {
	s, ok := r.sources[id]
	if !ok {
		return nil, false
	}
	return s.spec.Data, true
}

// SourceSpecOf returns the spec a source was created with, with its latest data.
func (r *Recorder) SourceSpecOf(id string) (SourceSpec, bool) {
	s, ok := r.sources[id]
	if !ok {
		return SourceSpec{}, false
	}
	return s.spec, true
}

// Layers returns layer ids in draw order.
func (r *Recorder) Layers() []string { return append([]string(nil), r.layerOrder...) }

// Moves returns every camera move applied.
func (r *Recorder) Moves() []Camera { return append([]Camera(nil), r.moves...) }

// Removed reports whether Remove was called.
func (r *Recorder) Removed() bool { return r.removed }
