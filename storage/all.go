package storage

// All includes all the storage modules
type All struct {
	Epochs         Epochs
	CommitteeViews CommitteeViews
	Commitments    Commitments
	Certificates   Certificates
	Outcomes       Outcomes
}
