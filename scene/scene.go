// Package scene owns meshes and entities and maintains the acceleration
// structures a ray-trace node launches against: one Geometry Acceleration
// Structure (GAS) per mesh and one scene-wide Instance Acceleration
// Structure (IAS). Structures are rebuilt or refit lazily on Commit
// depending on what changed since the last one.
package scene

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/raysim/engine/geom"
	"github.com/raysim/engine/gpumem"
	"github.com/raysim/engine/rerr"
	"github.com/raysim/engine/rlog"
)

// MeshID and EntityID are opaque handles, stringly-typed rather than
// integer indices so a removed-and-recreated mesh never aliases an old
// handle.
type MeshID string
type EntityID string

// BuildMode records whether a GAS/IAS build was a full rebuild or an
// in-place refit, for diagnostics and tests that pin the rebuild/refit
// policy.
type BuildMode int

const (
	BuildModeRebuild BuildMode = iota
	BuildModeRefit
)

func (m BuildMode) String() string {
	if m == BuildModeRefit {
		return "refit"
	}
	return "rebuild"
}

// GASHandle is the opaque result of building a mesh's acceleration
// structure. Version increments on every rebuild or refit, so callers can
// detect staleness without re-reading geometry.
type GASHandle struct {
	MeshID        MeshID
	Version       int
	TriangleCount int
	LastBuildMode BuildMode
}

// IASHandle is the opaque result of building the scene-wide instance
// acceleration structure.
type IASHandle struct {
	Version       int
	InstanceCount int
	LastBuildMode BuildMode
}

// Mesh owns vertex and index buffers and the GAS built over them.
// Invariant: if cachedGAS != nil and gasNeedsUpdate is false, cachedGAS
// reflects the current vertices/indices.
type Mesh struct {
	ID       MeshID
	Vertices []geom.V3f
	Indices  []geom.V3i

	cachedGAS      *GASHandle
	gasNeedsUpdate bool

	// vertexCountAtBuild is compared against len(Vertices) on the next
	// commit to distinguish a topology change (rebuild required) from a
	// pure position update (refit suffices).
	vertexCountAtBuild int

	// lastGood* hold the geometry as of the last successful build, so a
	// failed build can be rolled back to a known-good state.
	lastGoodVertices []geom.V3f
	lastGoodIndices  []geom.V3i

	refCount int
}

// GAS returns the mesh's cached acceleration-structure handle, or nil if
// the mesh has never been committed.
func (m *Mesh) GAS() *GASHandle { return m.cachedGAS }

// Entity is a mesh instance: a world transform, an instance id, an
// optional intensity texture, and a visibility flag. An entity never
// owns its mesh.
type Entity struct {
	ID         EntityID
	MeshID     MeshID
	Transform  geom.M3x4f
	InstanceID int32
	TextureID  string // empty when no intensity texture is attached
	Visible    bool
}

// BuildFailureInjector lets tests force a simulated device build failure
// for a given mesh or the IAS, exercising the transactional rollback
// path. op is either a MeshID string or the literal "ias".
type BuildFailureInjector func(op string) error

// Scene owns every mesh and entity and the acceleration structures built
// over them. One mutex guards all mutation and commit.
type Scene struct {
	mu sync.Mutex

	meshes   map[MeshID]*Mesh
	entities map[EntityID]*Entity

	cachedIAS         *IASHandle
	iasStructureDirty bool // an entity was added or removed
	iasTransformDirty bool // only a transform changed

	failInjector BuildFailureInjector
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		meshes:   make(map[MeshID]*Mesh),
		entities: make(map[EntityID]*Entity),
	}
}

// SetBuildFailureInjector installs a hook tests use to force a simulated
// build failure. Passing nil disables fault injection.
func (s *Scene) SetBuildFailureInjector(fn BuildFailureInjector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInjector = fn
}

func validateGeometry(vertices []geom.V3f, indices []geom.V3i) error {
	if len(vertices) == 0 {
		return rerr.New(rerr.InvalidGeometry, "mesh has no vertices")
	}
	for _, tri := range indices {
		for _, idx := range [3]int32{tri.X, tri.Y, tri.Z} {
			if idx < 0 || int(idx) >= len(vertices) {
				return rerr.New(rerr.InvalidGeometry, "triangle index %d out of range [0,%d)", idx, len(vertices))
			}
		}
	}
	return nil
}

// AddMesh validates and stores a new mesh's geometry, returning its
// handle. The mesh's GAS is built lazily on the next Commit.
func (s *Scene) AddMesh(vertices []geom.V3f, indices []geom.V3i) (MeshID, error) {
	if err := validateGeometry(vertices, indices); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := MeshID(uuid.New().String())
	s.meshes[id] = &Mesh{
		ID:             id,
		Vertices:       append([]geom.V3f(nil), vertices...),
		Indices:        append([]geom.V3i(nil), indices...),
		gasNeedsUpdate: true,
	}
	rlog.Diagf("scene: added mesh %s (%d verts, %d tris)", id, len(vertices), len(indices))
	return id, nil
}

// UpdateVertices replaces a mesh's vertex positions. If the vertex count
// is unchanged the next Commit refits the GAS; a changed count forces a
// rebuild. Geometry is validated before anything is mutated, so a
// rejected update leaves the mesh untouched.
func (s *Scene) UpdateVertices(id MeshID, vertices []geom.V3f) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meshes[id]
	if !ok {
		return rerr.New(rerr.InvalidArgument, "unknown mesh %s", id)
	}
	if err := validateGeometry(vertices, m.Indices); err != nil {
		return err
	}
	m.Vertices = append([]geom.V3f(nil), vertices...)
	m.gasNeedsUpdate = true
	return nil
}

// RemoveMesh deletes a mesh. It is an error to remove a mesh still
// referenced by an entity.
func (s *Scene) RemoveMesh(id MeshID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meshes[id]
	if !ok {
		return rerr.New(rerr.InvalidArgument, "unknown mesh %s", id)
	}
	if m.refCount > 0 {
		return rerr.New(rerr.InvalidArgument, "mesh %s still referenced by %d entities", id, m.refCount)
	}
	delete(s.meshes, id)
	return nil
}

// AddEntity instances a mesh with a world transform. Adding an entity
// always forces an IAS rebuild on the next Commit.
func (s *Scene) AddEntity(meshID MeshID, transform geom.M3x4f, instanceID int32, textureID string) (EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meshes[meshID]
	if !ok {
		return "", rerr.New(rerr.InvalidArgument, "unknown mesh %s", meshID)
	}
	id := EntityID(uuid.New().String())
	s.entities[id] = &Entity{
		ID:         id,
		MeshID:     meshID,
		Transform:  transform,
		InstanceID: instanceID,
		TextureID:  textureID,
		Visible:    true,
	}
	m.refCount++
	s.iasStructureDirty = true
	return id, nil
}

// SetTransform updates an entity's world transform. Unless a structure
// change is already pending, this only requires an IAS refit.
func (s *Scene) SetTransform(id EntityID, t geom.M3x4f) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return rerr.New(rerr.InvalidArgument, "unknown entity %s", id)
	}
	e.Transform = t
	s.iasTransformDirty = true
	return nil
}

// SetVisible toggles whether an entity is included in the IAS. It is
// treated as a structural change since it changes which instances the
// IAS contains.
func (s *Scene) SetVisible(id EntityID, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return rerr.New(rerr.InvalidArgument, "unknown entity %s", id)
	}
	if e.Visible != visible {
		s.iasStructureDirty = true
	}
	e.Visible = visible
	return nil
}

// RemoveEntity drops an entity and releases its mesh reference.
func (s *Scene) RemoveEntity(id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return rerr.New(rerr.InvalidArgument, "unknown entity %s", id)
	}
	if m, ok := s.meshes[e.MeshID]; ok {
		m.refCount--
	}
	delete(s.entities, id)
	s.iasStructureDirty = true
	return nil
}

// snapshot captures enough of the scene's mutable state to restore it if
// a commit's build fails, keeping each mutation transactional.
type snapshot struct {
	meshes            map[MeshID]meshSnapshot
	iasStructureDirty bool
	iasTransformDirty bool
	cachedIAS         *IASHandle
}

type meshSnapshot struct {
	vertices           []geom.V3f
	indices            []geom.V3i
	gasNeedsUpdate     bool
	cachedGAS          *GASHandle
	vertexCountAtBuild int
}

func (s *Scene) snapshotLocked() snapshot {
	snap := snapshot{
		meshes:            make(map[MeshID]meshSnapshot, len(s.meshes)),
		iasStructureDirty: s.iasStructureDirty,
		iasTransformDirty: s.iasTransformDirty,
		cachedIAS:         s.cachedIAS,
	}
	for id, m := range s.meshes {
		snap.meshes[id] = meshSnapshot{
			vertices:           append([]geom.V3f(nil), m.Vertices...),
			indices:            append([]geom.V3i(nil), m.Indices...),
			gasNeedsUpdate:     m.gasNeedsUpdate,
			cachedGAS:          m.cachedGAS,
			vertexCountAtBuild: m.vertexCountAtBuild,
		}
	}
	return snap
}

func (s *Scene) restoreLocked(snap snapshot) {
	for id, ms := range snap.meshes {
		m, ok := s.meshes[id]
		if !ok {
			continue
		}
		m.Vertices = ms.vertices
		m.Indices = ms.indices
		m.gasNeedsUpdate = ms.gasNeedsUpdate
		m.cachedGAS = ms.cachedGAS
		m.vertexCountAtBuild = ms.vertexCountAtBuild
	}
	s.iasStructureDirty = snap.iasStructureDirty
	s.iasTransformDirty = snap.iasTransformDirty
	s.cachedIAS = snap.cachedIAS
}

// Commit is idempotent: it (re)builds every dirty GAS and, if needed, the
// IAS, returning the current IAS handle. Builds are submitted to stream
// in mesh-ID order for determinism.
//
// This backend's "device build" is a same-process computation rather
// than genuine asynchronous hardware work, so — unlike a node's
// getFieldData — Commit holds the scene mutex across the stream
// synchronization it performs; there is no concurrent GPU progress for
// another goroutine to make in the meantime. If a build fails, the error
// is returned, dirty flags and cached handles revert to their pre-commit
// state, and every dirty mesh that has built before gets back the
// geometry of its last successful build.
func (s *Scene) Commit(stream *gpumem.Stream) (*IASHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()

	var dirty []*Mesh
	for _, m := range s.meshes {
		if m.cachedGAS == nil || m.gasNeedsUpdate {
			dirty = append(dirty, m)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].ID < dirty[j].ID })

	type meshBuildResult struct {
		gas *GASHandle
		err error
	}
	results := make([]meshBuildResult, len(dirty))

	for i, m := range dirty {
		i, m := i, m
		stream.Enqueue(func() {
			results[i] = meshBuildResult{}
			gas, err := s.buildMeshLocked(m)
			results[i].gas, results[i].err = gas, err
		})
	}

	needIASBuild := s.cachedIAS == nil || s.iasStructureDirty || s.iasTransformDirty
	var iasHandle *IASHandle
	var iasErr error
	if needIASBuild {
		stream.Enqueue(func() {
			iasHandle, iasErr = s.buildIASLocked()
		})
	}

	stream.Synchronize()

	rollback := func() {
		s.restoreLocked(snap)
		for _, m := range dirty {
			if m.lastGoodVertices != nil {
				m.Vertices = append([]geom.V3f(nil), m.lastGoodVertices...)
				m.Indices = append([]geom.V3i(nil), m.lastGoodIndices...)
				m.gasNeedsUpdate = false
			}
		}
	}
	for _, r := range results {
		if r.err != nil {
			rollback()
			return nil, r.err
		}
	}
	if iasErr != nil {
		rollback()
		return nil, iasErr
	}

	for i, m := range dirty {
		m.cachedGAS = results[i].gas
		m.gasNeedsUpdate = false
		m.vertexCountAtBuild = len(m.Vertices)
		m.lastGoodVertices = append([]geom.V3f(nil), m.Vertices...)
		m.lastGoodIndices = append([]geom.V3i(nil), m.Indices...)
	}
	if needIASBuild {
		s.cachedIAS = iasHandle
		s.iasStructureDirty = false
		s.iasTransformDirty = false
	}
	return s.cachedIAS, nil
}

func (s *Scene) buildMeshLocked(m *Mesh) (*GASHandle, error) {
	if err := validateGeometry(m.Vertices, m.Indices); err != nil {
		return nil, err
	}
	mode := BuildModeRebuild
	if m.cachedGAS != nil && len(m.Vertices) == m.vertexCountAtBuild {
		mode = BuildModeRefit
	}
	if s.failInjector != nil {
		if err := s.failInjector(string(m.ID)); err != nil {
			return nil, rerr.Wrap(rerr.DeviceError, err, "GAS %s for mesh %s failed", mode, m.ID)
		}
	}
	version := 1
	if m.cachedGAS != nil {
		version = m.cachedGAS.Version + 1
	}
	rlog.Tracef("scene: %s GAS for mesh %s (v%d, %d tris)", mode, m.ID, version, len(m.Indices))
	return &GASHandle{MeshID: m.ID, Version: version, TriangleCount: len(m.Indices), LastBuildMode: mode}, nil
}

func (s *Scene) buildIASLocked() (*IASHandle, error) {
	mode := BuildModeRebuild
	if s.cachedIAS != nil && !s.iasStructureDirty && s.iasTransformDirty {
		mode = BuildModeRefit
	}
	if s.failInjector != nil {
		if err := s.failInjector("ias"); err != nil {
			return nil, rerr.Wrap(rerr.DeviceError, err, "IAS %s failed", mode)
		}
	}
	count := 0
	for _, e := range s.entities {
		if e.Visible {
			count++
		}
	}
	version := 1
	if s.cachedIAS != nil {
		version = s.cachedIAS.Version + 1
	}
	rlog.Tracef("scene: %s IAS (v%d, %d instances)", mode, version, count)
	return &IASHandle{Version: version, InstanceCount: count, LastBuildMode: mode}, nil
}

// Mesh returns the current state of a mesh for read-only inspection
// (tests, the ray-trace node's instance-local resource lookup).
func (s *Scene) Mesh(id MeshID) (*Mesh, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meshes[id]
	return m, ok
}

// Entity returns the current state of an entity.
func (s *Scene) Entity(id EntityID) (*Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return e, ok
}

// VisibleEntities returns every currently-visible entity, in a stable
// order, for building a ray-trace node's shader binding table.
func (s *Scene) VisibleEntities() []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if e.Visible {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
