package metrics

// Prometheus metric namespaces
const (
	namespacePipeline = "umbra"
)

// Metric subsystems within the pipeline namespace
const (
	subsystemEngine    = "engine"
	subsystemMempool   = "mempool"
	subsystemEpoch     = "epoch"
	subsystemAdmission = "admission"
	subsystemRelay     = "relay"
)
