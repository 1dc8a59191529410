package channels

// Channel specifies a virtual and isolated communication medium.
// Committee members subscribed to the same channel exchange the
// protocol messages of one pipeline concern.
type Channel string

func (c Channel) String() string {
	return string(c)
}

// ChannelList is a set of channels.
type ChannelList []Channel

// Contains returns true if the ChannelList contains the given channel.
func (cl ChannelList) Contains(channel Channel) bool {
	for _, c := range cl {
		if c == channel {
			return true
		}
	}
	return false
}

const (
	// CommitmentGossip replicates admitted commitments and cancel
	// requests across the committee.
	CommitmentGossip = Channel("commitment-gossip")
	// EpochOrdering carries arrival vectors, ordering proposals and
	// certificate announcements.
	EpochOrdering = Channel("epoch-ordering")
	// EpochDecryption carries decryption shares.
	EpochDecryption = Channel("epoch-decryption")
)

// PipelineChannels returns all channels a committee member subscribes
// to.
func PipelineChannels() ChannelList {
	return ChannelList{CommitmentGossip, EpochOrdering, EpochDecryption}
}
