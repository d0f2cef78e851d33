package protocol

// Lenient decoders for the handful of server messages the pipeline needs.
// Every parser follows the same shape: iterate field-by-field, decode a
// known field when its wire type matches, and safe-skip everything else.
// Parse errors never escape a field boundary; the worst outcome of a
// malformed payload is a partial message.

// DamageType is the damage record's type discriminator.
type DamageType int32

const (
	DamageNormal   DamageType = 0
	DamageMiss     DamageType = 1
	DamageHeal     DamageType = 2
	DamageImmune   DamageType = 3
	DamageFall     DamageType = 4
	DamageAbsorbed DamageType = 5
)

// SyncDamageInfo is one damage or heal record. Every field is optional on
// the wire; nil means the server did not send it.
type SyncDamageInfo struct {
	DamageSource     *uint64 // 1
	IsMiss           *bool   // 2
	IsCrit           *bool   // 3
	Type             *int32  // 4
	TypeFlag         *uint64 // 5
	Value            *uint64 // 6
	ActualValue      *uint64 // 7
	LuckyValue       *uint64 // 8
	HPLessenValue    *uint64 // 9
	ShieldLessen     *uint64 // 10
	AttackerUUID     *uint64 // 11
	OwnerID          *uint64 // 12, the skill id
	OwnerLevel       *uint64 // 13
	OwnerStage       *uint64 // 14
	HitEventID       *uint64 // 15
	IsNormal         *bool   // 16
	IsDead           *bool   // 17
	Property         *uint64 // 18
	TopSummonerID    *uint64 // 21
	IsRainbow        *bool   // 24
	DamageMode       *uint64 // 25
}

// DamageType returns the record's type, defaulting to Normal when absent.
func (d *SyncDamageInfo) DamageType() DamageType {
	if d.Type == nil {
		return DamageNormal
	}
	return DamageType(*d.Type)
}

// Attacker resolves the attacking entity's raw id, preferring the top
// summoner so pet and summon damage attributes to the owning player.
func (d *SyncDamageInfo) Attacker() (uint64, bool) {
	if d.TopSummonerID != nil {
		return *d.TopSummonerID, true
	}
	if d.AttackerUUID != nil {
		return *d.AttackerUUID, true
	}
	return 0, false
}

// Crit reports whether the hit was a critical: either the explicit flag or
// bit 0 of type_flag suffices.
func (d *SyncDamageInfo) Crit() bool {
	if d.IsCrit != nil && *d.IsCrit {
		return true
	}
	return d.TypeFlag != nil && *d.TypeFlag&0x01 != 0
}

// Attr is one raw attribute of an entity; the id selects how Raw decodes.
type Attr struct {
	ID  uint64
	Raw []byte
}

// AttrCollection carries an entity's attribute list.
type AttrCollection struct {
	UUID    uint64
	HasUUID bool
	Attrs   []Attr
}

// SkillEffect groups the damage records of one skill application.
type SkillEffect struct {
	UUID        uint64
	HasUUID     bool
	Damages     []*SyncDamageInfo
	TotalDamage uint64
}

// AoiSyncDelta is one entity's state delta inside a near-delta message.
type AoiSyncDelta struct {
	UUID    uint64 // raw id of the entity the delta targets
	HasUUID bool
	Attrs   *AttrCollection
	Skill   *SkillEffect
}

// NearDeltaInfo is the payload of SyncNearDeltaInfo.
type NearDeltaInfo struct {
	Deltas []*AoiSyncDelta
}

// SyncEntity is one entity inside a near-entities message.
type SyncEntity struct {
	UUID    uint64
	HasUUID bool
	EntType int64
	Attrs   *AttrCollection
}

// NearEntities is the payload of SyncNearEntities.
type NearEntities struct {
	Entities []*SyncEntity
}

// ToMeDeltaInfo is the payload of SyncToMeDeltaInfo.
type ToMeDeltaInfo struct {
	BaseDelta *AoiSyncDelta
}

// CharBaseInfo is the local character's identity block.
type CharBaseInfo struct {
	CharID     uint64
	HasCharID  bool
	Name       string
	FightPoint uint64
}

// ProfessionList carries the character's current profession (class) id.
type ProfessionList struct {
	CurProfessionID uint64
	HasProfession   bool
}

// CharSerialize is the container-data character blob.
type CharSerialize struct {
	Base        *CharBaseInfo
	Professions *ProfessionList
}

// ContainerData is the payload of SyncContainerData.
type ContainerData struct {
	Char *CharSerialize
}

// speculativeDepthMax bounds the nested speculative parse of unknown
// length-delimited fields inside near-entities payloads.
const speculativeDepthMax = 4

// ParseNearDeltaInfo decodes a SyncNearDeltaInfo payload.
func ParseNearDeltaInfo(data []byte) *NearDeltaInfo {
	msg := &NearDeltaInfo{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if field == 1 && wt == WireBytes {
			if b, ok := w.ReadBytes(); ok {
				msg.Deltas = append(msg.Deltas, ParseAoiSyncDelta(b))
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

// ParseAoiSyncDelta decodes a single entity delta.
func ParseAoiSyncDelta(data []byte) *AoiSyncDelta {
	msg := &AoiSyncDelta{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.UUID = v
				msg.HasUUID = true
				continue
			}
		case field == 6 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Attrs = ParseAttrCollection(b)
				continue
			}
		case field == 7 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Skill = ParseSkillEffect(b)
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

// ParseSkillEffect decodes a skill-effect block with its damage records.
func ParseSkillEffect(data []byte) *SkillEffect {
	msg := &SkillEffect{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.UUID = v
				msg.HasUUID = true
				continue
			}
		case field == 2 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Damages = append(msg.Damages, ParseSyncDamageInfo(b))
				continue
			}
		case field == 3 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.TotalDamage = v
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

// ParseSyncDamageInfo decodes one damage record. A decode failure on any
// single field is swallowed and the field skipped.
func ParseSyncDamageInfo(data []byte) *SyncDamageInfo {
	msg := &SyncDamageInfo{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if wt != WireVarint {
			w.SkipLastField()
			continue
		}
		v, ok := w.ReadVarint()
		if !ok {
			break
		}
		switch field {
		case 1:
			msg.DamageSource = &v
		case 2:
			msg.IsMiss = boolPtr(v != 0)
		case 3:
			msg.IsCrit = boolPtr(v != 0)
		case 4:
			t := int32(v)
			msg.Type = &t
		case 5:
			msg.TypeFlag = &v
		case 6:
			msg.Value = &v
		case 7:
			msg.ActualValue = &v
		case 8:
			msg.LuckyValue = &v
		case 9:
			msg.HPLessenValue = &v
		case 10:
			msg.ShieldLessen = &v
		case 11:
			msg.AttackerUUID = &v
		case 12:
			msg.OwnerID = &v
		case 13:
			msg.OwnerLevel = &v
		case 14:
			msg.OwnerStage = &v
		case 15:
			msg.HitEventID = &v
		case 16:
			msg.IsNormal = boolPtr(v != 0)
		case 17:
			msg.IsDead = boolPtr(v != 0)
		case 18:
			msg.Property = &v
		case 21:
			msg.TopSummonerID = &v
		case 24:
			msg.IsRainbow = boolPtr(v != 0)
		case 25:
			msg.DamageMode = &v
		}
	}
	return msg
}

// ParseAttrCollection decodes an entity's attribute list.
func ParseAttrCollection(data []byte) *AttrCollection {
	msg := &AttrCollection{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.UUID = v
				msg.HasUUID = true
				continue
			}
		case field == 2 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Attrs = append(msg.Attrs, parseAttr(b))
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

func parseAttr(data []byte) Attr {
	var a Attr
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				a.ID = v
				continue
			}
		case field == 2 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				a.Raw = b
				continue
			}
		}
		w.SkipLastField()
	}
	return a
}

// ParseNearEntities decodes a SyncNearEntities payload. Unknown
// length-delimited fields are speculatively parsed as SyncEntity and added
// when they yield a uuid or attrs; failing that they are speculatively
// parsed as a nested entity list. Both fallbacks are silent on failure.
func ParseNearEntities(data []byte) *NearEntities {
	return parseNearEntities(data, 0)
}

func parseNearEntities(data []byte, depth int) *NearEntities {
	msg := &NearEntities{}
	if depth > speculativeDepthMax {
		return msg
	}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if wt != WireBytes {
			w.SkipLastField()
			continue
		}
		b, ok := w.ReadBytes()
		if !ok {
			break
		}
		if field == 1 {
			msg.Entities = append(msg.Entities, ParseSyncEntity(b))
			continue
		}
		ent := ParseSyncEntity(b)
		if ent.HasUUID || ent.Attrs != nil {
			msg.Entities = append(msg.Entities, ent)
			continue
		}
		nested := parseNearEntities(b, depth+1)
		msg.Entities = append(msg.Entities, nested.Entities...)
	}
	return msg
}

// ParseSyncEntity decodes one entity.
func ParseSyncEntity(data []byte) *SyncEntity {
	msg := &SyncEntity{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.UUID = v
				msg.HasUUID = true
				continue
			}
		case field == 2 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.EntType = int64(v)
				continue
			}
		case field == 3 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Attrs = ParseAttrCollection(b)
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

// ParseToMeDeltaInfo decodes a SyncToMeDeltaInfo payload: field 1 wraps a
// delta container whose field 2 is the base AoiSyncDelta.
func ParseToMeDeltaInfo(data []byte) *ToMeDeltaInfo {
	msg := &ToMeDeltaInfo{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if field == 1 && wt == WireBytes {
			if b, ok := w.ReadBytes(); ok {
				inner := NewWireReader(b)
				for inner.More() {
					f, iwt := inner.ReadTag()
					if f == 0 {
						break
					}
					if f == 2 && iwt == WireBytes {
						if db, ok := inner.ReadBytes(); ok {
							msg.BaseDelta = ParseAoiSyncDelta(db)
							continue
						}
					}
					inner.SkipLastField()
				}
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

// ParseContainerData decodes a SyncContainerData payload.
func ParseContainerData(data []byte) *ContainerData {
	msg := &ContainerData{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if field == 1 && wt == WireBytes {
			if b, ok := w.ReadBytes(); ok {
				msg.Char = parseCharSerialize(b)
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

func parseCharSerialize(data []byte) *CharSerialize {
	msg := &CharSerialize{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 2 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Base = parseCharBaseInfo(b)
				continue
			}
		case field == 61 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Professions = parseProfessionList(b)
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

func parseCharBaseInfo(data []byte) *CharBaseInfo {
	msg := &CharBaseInfo{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		switch {
		case field == 1 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.CharID = v
				msg.HasCharID = true
				continue
			}
		case field == 5 && wt == WireBytes:
			if b, ok := w.ReadBytes(); ok {
				msg.Name = string(b)
				continue
			}
		case field == 35 && wt == WireVarint:
			if v, ok := w.ReadVarint(); ok {
				msg.FightPoint = v
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

func parseProfessionList(data []byte) *ProfessionList {
	msg := &ProfessionList{}
	w := NewWireReader(data)
	for w.More() {
		field, wt := w.ReadTag()
		if field == 0 {
			break
		}
		if (field == 1 || field == 2) && wt == WireVarint {
			if v, ok := w.ReadVarint(); ok {
				if !msg.HasProfession {
					msg.CurProfessionID = v
					msg.HasProfession = true
				}
				continue
			}
		}
		w.SkipLastField()
	}
	return msg
}

func boolPtr(v bool) *bool { return &v }
