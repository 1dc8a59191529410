package metrics

const (
	LabelEngine   = "engine"
	LabelMessage  = "message"
	LabelResource = "resource"
	LabelStrategy = "strategy"
	LabelReason   = "reason"
	LabelStage    = "stage"
	LabelKind     = "kind"
	LabelAccepted = "accepted"
)

const (
	EngineAdmission  = "admission"
	EngineOrdering   = "ordering"
	EngineDecryption = "decryption"
	EngineDispatch   = "dispatch"
	EngineEpochMgr   = "epochmgr"
)

const (
	ResourceCommitLedger        = "commit_ledger"
	ResourceOrderingQueue       = "ordering_message_queue"
	ResourceOrderingInternal    = "ordering_internal_queue"
	ResourceDecryptionQueue     = "decryption_message_queue"
	ResourceDecryptionInternal  = "decryption_internal_queue"
	ResourceGossipQueue         = "commitment_gossip_queue"
	ResourceDispatchQueue       = "dispatch_queue"
	ResourceStatusIndex         = "status_index"
	ResourcePendingOrderingSet  = "ordering_pending_set"
	ResourceShareCollectors     = "decryption_share_collectors"
)

const (
	MessageCommitmentGossip    = "commitment_gossip"
	MessageCancelGossip        = "cancel_gossip"
	MessageArrivalVector       = "arrival_vector"
	MessageOrderingProposal    = "ordering_proposal"
	MessageCertificateAnnounce = "certificate_announce"
	MessageDecryptionShare     = "decryption_share"
	MessageEpochSealed         = "epoch_sealed"
	MessageEpochAbandoned      = "epoch_abandoned"
	MessageEpochCertified      = "epoch_certified"
)

// Pipeline stages, used to label expirations.
const (
	StageOrdering   = "ordering"
	StageDecryption = "decryption"
	StageDispatch   = "dispatch"
)
