package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"

	"github.com/umbra-net/umbra-go/config"
	"github.com/umbra-net/umbra-go/engine/admission"
	"github.com/umbra-net/umbra-go/engine/decryption"
	"github.com/umbra-net/umbra-go/engine/dispatch"
	"github.com/umbra-net/umbra-go/engine/epochmgr"
	"github.com/umbra-net/umbra-go/engine/ordering"
	"github.com/umbra-net/umbra-go/model/bootstrap"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/classifier"
	"github.com/umbra-net/umbra-go/module/committee"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/mempool/stdmap"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/network/intranet"
	"github.com/umbra-net/umbra-go/network/relay"
	"github.com/umbra-net/umbra-go/state/epochs"
	bstorage "github.com/umbra-net/umbra-go/storage/badger"
)

// classifier window bounds; generous for a single node, bounded for
// adversarial destination churn.
const (
	classifierMaxDestinations = 1024
	classifierWindowSize      = 64
)

// memberNode is one committee member's fully wired component stack.
type memberNode struct {
	me         module.Local
	db         *badger.DB
	api        admission.API
	components []component.Component
}

// controllerRef forwards stage events to the epoch controller. The
// controller is constructed after the stage engines it drives, so the
// stage consumers bind to it through this reference; no event flows
// before the components start.
type controllerRef struct {
	ctrl *epochmgr.Engine
}

func (r *controllerRef) OnOrderingCertificate(cert *umbra.OrderingCertificate) {
	r.ctrl.OnOrderingCertificate(cert)
}

func (r *controllerRef) OnEpochDecrypted(epoch *umbra.Epoch, results []*decryption.Result) {
	r.ctrl.OnEpochDecrypted(epoch, results)
}

func (r *controllerRef) OnEpochDispatched(epochID uint64, drained bool) {
	r.ctrl.OnEpochDispatched(epochID, drained)
}

func (r *controllerRef) CurrentEpoch() *umbra.Epoch {
	if r.ctrl == nil {
		return nil
	}
	return r.ctrl.CurrentEpoch()
}

func (r *controllerRef) CommitmentAdmitted(epochID uint64, size uint) {
	if r.ctrl == nil {
		return
	}
	r.ctrl.CommitmentAdmitted(epochID, size)
}

// collectors bundles one member's metrics implementations. Only one
// member registers real prometheus collectors; the default registry
// admits each collector once per process.
type collectors struct {
	engine   module.EngineMetrics
	mempool  module.MempoolMetrics
	pipeline module.PipelineMetrics
}

func noopCollectors() *collectors {
	nc := metrics.NewNoopCollector()
	return &collectors{engine: nc, mempool: nc, pipeline: nc}
}

func promCollectors() *collectors {
	return &collectors{
		engine:   metrics.NewEngineCollector(),
		mempool:  metrics.NewMempoolCollector(),
		pipeline: metrics.NewPipelineCollector(),
	}
}

// buildMember wires the full pipeline stack of one committee member:
// storage, committee identity, the four stage engines and the epoch
// controller, all attached to the shared intranet hub.
func buildMember(
	log zerolog.Logger,
	conf *config.Config,
	hub *intranet.Hub,
	boot *bootstrap.Committee,
	idx int,
	col *collectors,
	client relay.Client,
) (*memberNode, error) {

	keys := boot.Members[idx]
	member, err := boot.View.Member(keys.Index)
	if err != nil {
		return nil, fmt.Errorf("could not resolve member %d: %w", keys.Index, err)
	}
	log = log.With().Int("member", keys.Index).Logger()

	dbDir := filepath.Join(conf.DataDir, fmt.Sprintf("member-%d", keys.Index))
	err = os.MkdirAll(dbDir, 0700)
	if err != nil {
		return nil, fmt.Errorf("could not create member data dir: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dbDir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("could not open protocol database: %w", err)
	}

	stores := bstorage.InitAll(db)
	err = stores.CommitteeViews.Store(boot.View)
	if err != nil {
		return nil, fmt.Errorf("could not persist committee view: %w", err)
	}
	committeeState, err := committee.NewState(boot.View, stores.CommitteeViews)
	if err != nil {
		return nil, fmt.Errorf("could not create committee state: %w", err)
	}
	local, err := committee.NewLocal(*member, keys.EncShare, keys.SigShare, keys.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("could not create local identity: %w", err)
	}

	net := hub.AddNetwork(keys.NodeID)
	state := epochs.NewState(stores.Epochs)
	commitments := stores.Commitments
	certificates := stores.Certificates
	outcomes := stores.Outcomes
	ledger := stdmap.NewCommitLedger()

	ref := &controllerRef{}

	orderingCore := ordering.NewCore(log, col.engine, local, committeeState, certificates, ref)
	orderingEngine, err := ordering.New(log, net, local, col.engine, col.mempool, orderingCore)
	if err != nil {
		return nil, fmt.Errorf("could not create ordering engine: %w", err)
	}

	decryptCore := decryption.NewCore(log, col.engine, col.pipeline, local, committeeState, ref)
	decryptEngine, err := decryption.New(log, net, local, col.engine, col.mempool, decryptCore)
	if err != nil {
		return nil, fmt.Errorf("could not create decryption engine: %w", err)
	}

	dispatchEngine, err := dispatch.New(log, col.pipeline, col.mempool, client, outcomes, ref, conf.Submit.RetryBudget)
	if err != nil {
		return nil, fmt.Errorf("could not create dispatch engine: %w", err)
	}

	mgr, err := epochmgr.New(
		log,
		col.pipeline,
		epochmgr.Config{
			EpochDuration:   conf.EpochDuration(),
			MaxBatch:        conf.Epoch.MaxBatch,
			AgreeTimeout:    conf.AgreeTimeout(),
			DecryptTimeout:  conf.DecryptTimeout(),
			DispatchTimeout: conf.DispatchTimeout(),
		},
		state, ledger, commitments, certificates, outcomes, committeeState,
		orderingEngine, decryptEngine, dispatchEngine,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create epoch controller: %w", err)
	}
	ref.ctrl = mgr

	classify, err := classifier.New(
		log,
		classifier.Thresholds{
			Low:           conf.Classifier.Thresholds.Low,
			Medium:        conf.Classifier.Thresholds.Medium,
			High:          conf.Classifier.Thresholds.High,
			SplitMinValue: conf.Split.MinValue,
			SplitChunks:   conf.Split.Chunks,
		},
		classifierMaxDestinations,
		classifierWindowSize,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create classifier: %w", err)
	}

	adm, err := admission.New(
		log, net, local, col.engine, col.mempool, col.pipeline,
		committeeState, classify, ledger, ref, outcomes, client,
		admission.DefaultConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create admission engine: %w", err)
	}

	return &memberNode{
		me:  local,
		db:  db,
		api: adm,
		// the controller starts last: it opens the first epoch only
		// once every stage engine is accepting events
		components: []component.Component{orderingEngine, decryptEngine, dispatchEngine, adm, mgr},
	}, nil
}
