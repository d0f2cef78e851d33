package protocol

import "fmt"

// Opcode identifies an application message extracted from a Notify frame.
// Values match the server's method ids as they appear on the wire.
type Opcode uint32

const (
	// OpServerChange is a synthetic sentinel enqueued when the active game
	// server flow switches; it never appears in a real frame.
	OpServerChange Opcode = 0xFFFFFFFF

	OpSyncNearEntities  Opcode = 0x06
	OpSyncContainerData Opcode = 0x15
	OpSyncServerTime    Opcode = 0x2b
	OpSyncNearDeltaInfo Opcode = 0x2d
	OpSyncToMeDeltaInfo Opcode = 0x2e
)

// Known reports whether the opcode is one the pipeline dispatches on.
// Frames with any other method id are dropped.
func (op Opcode) Known() bool {
	switch op {
	case OpServerChange, OpSyncNearEntities, OpSyncContainerData,
		OpSyncServerTime, OpSyncNearDeltaInfo, OpSyncToMeDeltaInfo:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpServerChange:
		return "ServerChange"
	case OpSyncNearEntities:
		return "SyncNearEntities"
	case OpSyncContainerData:
		return "SyncContainerData"
	case OpSyncServerTime:
		return "SyncServerTime"
	case OpSyncNearDeltaInfo:
		return "SyncNearDeltaInfo"
	case OpSyncToMeDeltaInfo:
		return "SyncToMeDeltaInfo"
	default:
		return fmt.Sprintf("Opcode(0x%x)", uint32(op))
	}
}

// ServiceUUID is the fixed service identifier every Notify frame must carry.
const ServiceUUID uint64 = 0x0000000063335342
