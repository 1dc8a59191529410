package signature

// List of domain separation tags for protocol signatures.
//
// Every protocol-level signature covers the signed bytes together with
// a domain tag naming the kind of signed object. Scoping signatures to
// a sub-protocol this way means a signature produced for one message
// kind can never be replayed as another.

// Protocol prefix and version
const protocolPrefix = "UMBRA-"
const protocolVersion = "-V01"

// an example of a domain tag output is:
// UMBRA-Arrival_Vector-V01
func tag(domain string) string {
	return protocolPrefix + domain + protocolVersion
}

var (
	// ArrivalVectorTag is used for signed per-member arrival observations
	ArrivalVectorTag = tag("Arrival_Vector")
	// OrderingProposalTag is used for ordering proposals
	OrderingProposalTag = tag("Ordering_Proposal")
	// OrderingCertificateTag is used for the threshold signature under
	// ordering certificates
	OrderingCertificateTag = tag("Ordering_Certificate")
	// CertificateAnnounceTag is used for certificate announcements
	CertificateAnnounceTag = tag("Certificate_Announce")
	// DecryptionShareTag is used for decryption share messages
	DecryptionShareTag = tag("Decryption_Share")
	// IntentCancelTag is used for wallet-signed cancellation requests
	IntentCancelTag = tag("Intent_Cancel")
	// CommitmentGossipTag is used for commitment replication messages
	CommitmentGossipTag = tag("Commitment_Gossip")
)
