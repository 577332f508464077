package raytrace

import (
	"sort"

	"github.com/raysim/engine/scene"
)

// SBTRecord is one entity's entry in the shader binding table: the
// instance-local resources the per-ray program reads when a hit lands on
// that instance.
type SBTRecord struct {
	EntityID   scene.EntityID
	MeshID     scene.MeshID
	InstanceID int32
	TextureID  string
	RingID     int32
}

// SBT maps a hit entity to its record. Rebuilt (patched) before every
// launch from the scene's current visible entity set.
type SBT struct {
	records map[scene.EntityID]SBTRecord
}

// BuildSBT assembles the table from the scene's visible entities.
// RingIDs, when non-nil, assigns each entity a ring channel by its
// position in the scene's stable entity order; entities beyond the
// mapping get -1.
func BuildSBT(scn *scene.Scene, ringIDs []int32) *SBT {
	entities := scn.VisibleEntities()
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	t := &SBT{records: make(map[scene.EntityID]SBTRecord, len(entities))}
	for i, e := range entities {
		ring := int32(-1)
		if i < len(ringIDs) {
			ring = ringIDs[i]
		}
		t.records[e.ID] = SBTRecord{
			EntityID:   e.ID,
			MeshID:     e.MeshID,
			InstanceID: e.InstanceID,
			TextureID:  e.TextureID,
			RingID:     ring,
		}
	}
	return t
}

// Lookup returns the record for a hit entity. The zero record (ring -1)
// is returned for an unknown entity, which can only happen if the scene
// was mutated between commit and launch — forbidden, but not worth a
// panic in the hot path.
func (t *SBT) Lookup(id scene.EntityID) SBTRecord {
	r, ok := t.records[id]
	if !ok {
		return SBTRecord{EntityID: id, RingID: -1}
	}
	return r
}

// Len reports the number of instance records, for diagnostics.
func (t *SBT) Len() int { return len(t.records) }
