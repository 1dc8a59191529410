package umbra

// OrderingCertificate fixes the publication order of a sealed epoch.
// It is final the moment t committee members have signed the same
// ordered list; decryption must not begin for any commitment in the
// epoch before this certificate exists. An epoch has at most one
// certificate, ever.
type OrderingCertificate struct {
	EpochID uint64
	// OrderedCIDs is the complete sealed set in publication order. It
	// is a permutation of the sealed commitment set; nothing is added
	// or dropped by ordering.
	OrderedCIDs IdentifierList
	// MerkleRoot commits to OrderedCIDs.
	MerkleRoot Identifier
	// SignerIndices records which members' signature shares formed the
	// aggregate, in ascending order.
	SignerIndices []int
	// AggSignature is the threshold group signature over Body.
	AggSignature []byte
}

// Body returns the signed portion of the certificate.
func (oc OrderingCertificate) Body() interface{} {
	return struct {
		EpochID     uint64
		OrderedCIDs IdentifierList
		MerkleRoot  Identifier
	}{
		EpochID:     oc.EpochID,
		OrderedCIDs: oc.OrderedCIDs,
		MerkleRoot:  oc.MerkleRoot,
	}
}

func (oc OrderingCertificate) ID() Identifier {
	return MakeID(oc.Body())
}

func (oc OrderingCertificate) Checksum() Identifier {
	return MakeID(oc)
}
