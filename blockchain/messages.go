package blockchain

import "github.com/wdnprotocol/wdnd/types"

// ReqBlockCurrent asks for a snapshot of the in-memory current_block
// accumulator.
type ReqBlockCurrent struct{}

// AckBlockCurrent answers ReqBlockCurrent.
type AckBlockCurrent struct {
	Block Block
}

// ReqBlockSaveNodeActivation appends a signed NodeActivation to the
// current block and overwrites the three header fields it touches.
type ReqBlockSaveNodeActivation struct {
	Activation NeedSignData[NodeActivation]
	NodeRoot           types.Hash
	ActivationRoot     types.Hash
	CurrentActivation  types.Hash
}

// AckBlockSaveNodeActivation reports whether the append succeeded.
type AckBlockSaveNodeActivation struct {
	OK    bool
	Error string
}

// ReqBlockSaveTaskOperation appends TaskOperation records to the current
// block and overwrites the corresponding header fields.
type ReqBlockSaveTaskOperation struct {
	Operations  []TaskOperation
	TaskRoot    types.Hash
	TaskOpRoot  types.Hash
	CurrentOp   types.Hash
}

// AckBlockSaveTaskOperation reports whether the append succeeded.
type AckBlockSaveTaskOperation struct {
	OK    bool
	Error string
}

// ReqBlockStartTick idempotently starts the 1-second block-pack cadence.
type ReqBlockStartTick struct{}

// AckBlockStartTick reports whether the tick was (newly) started.
type AckBlockStartTick struct {
	OK bool
}

// ReqBlockPack requests an immediate pack. It carries no reply; the
// engine's own ticker is the only normal caller, but tests may send it
// directly.
type ReqBlockPack struct{}

// ReqGetBlockByIndex looks up a packed block by its header index.
type ReqGetBlockByIndex struct {
	Index uint64
}

// ReqGetBlockByHash looks up a packed block by its content hash.
type ReqGetBlockByHash struct {
	Hash types.Hash
}

// AckGetBlock answers both block lookup requests.
type AckGetBlock struct {
	Block Block
	Found bool
}
