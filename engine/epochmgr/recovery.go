package epochmgr

import (
	"errors"
	"fmt"
	"time"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/storage"
)

// recoverUnfinished resumes or retires every epoch that was in flight
// when the previous run stopped. Runs once, before the control loop
// accepts events.
//
// The recovery policy follows what survives a restart:
//   - OPEN epochs lose their partition with the process; they are
//     sealed empty and expired.
//   - SEALED epochs with a persisted certificate resume at decryption;
//     without one, the agreement is unrecoverable and they expire.
//   - ORDERED epochs resume at decryption from the persisted sealed
//     set and certificate.
//   - DECRYPTED epochs expire: plaintexts are never persisted, and
//     re-deriving them would need a fresh share collection the
//     committee has already torn down.
//
// No errors are expected during normal operation.
func (e *Engine) recoverUnfinished() error {
	unfinished, err := e.state.Unfinished()
	if err != nil {
		return fmt.Errorf("could not list unfinished epochs: %w", err)
	}

	for _, epochID := range unfinished {
		status, err := e.state.Status(epochID)
		if err != nil {
			return fmt.Errorf("could not get status of epoch %d: %w", epochID, err)
		}

		log := e.log.With().
			Uint64("epoch", epochID).
			Str("state", status.State.String()).
			Logger()

		switch status.State {
		case umbra.EpochStateOpen:
			err = e.state.Seal(epochID, 0)
			if err != nil {
				return fmt.Errorf("could not seal discarded epoch %d: %w", epochID, err)
			}
			err = e.state.Advance(epochID, umbra.EpochStateExpired)
			if err != nil {
				return fmt.Errorf("could not expire discarded epoch %d: %w", epochID, err)
			}
			e.pipeline.EpochExpired(epochID, metrics.StageOrdering)
			log.Warn().Msg("discarded epoch left open by previous run")

		case umbra.EpochStateSealed:
			cert, err := e.certs.ByEpoch(epochID)
			if errors.Is(err, storage.ErrNotFound) {
				err = e.expirePersisted(epochID, metrics.StageOrdering)
				if err != nil {
					return err
				}
				log.Warn().Msg("expired sealed epoch without certificate")
				continue
			}
			if err != nil {
				return fmt.Errorf("could not get certificate of epoch %d: %w", epochID, err)
			}
			err = e.state.Advance(epochID, umbra.EpochStateOrdered)
			if err != nil {
				return fmt.Errorf("could not advance recovered epoch %d: %w", epochID, err)
			}
			err = e.resumeDecryption(epochID, cert)
			if err != nil {
				return err
			}
			log.Info().Msg("resuming recovered epoch at decryption")

		case umbra.EpochStateOrdered:
			cert, err := e.certs.ByEpoch(epochID)
			if err != nil {
				return fmt.Errorf("could not get certificate of ordered epoch %d: %w", epochID, err)
			}
			err = e.resumeDecryption(epochID, cert)
			if err != nil {
				return err
			}
			log.Info().Msg("resuming recovered epoch at decryption")

		case umbra.EpochStateDecrypted:
			err = e.expirePersisted(epochID, metrics.StageDispatch)
			if err != nil {
				return err
			}
			log.Warn().Msg("expired decrypted epoch, plaintexts are not retained across restarts")

		default:
			return fmt.Errorf("unfinished epoch %d in unexpected state %s", epochID, status.State)
		}
	}

	return nil
}

// resumeDecryption restarts share collection for an epoch recovered in
// the ORDERED state, rebuilding the in-flight track from storage.
func (e *Engine) resumeDecryption(epochID uint64, cert *umbra.OrderingCertificate) error {
	epoch, err := e.state.Epoch(epochID)
	if err != nil {
		return fmt.Errorf("could not get header of epoch %d: %w", epochID, err)
	}
	sealed, err := e.commits.SealedSet(epochID)
	if err != nil {
		return fmt.Errorf("could not get sealed set of epoch %d: %w", epochID, err)
	}

	// stage clocks restart from the resume point
	now := time.Now()
	t := &track{
		epoch:       epoch,
		sealed:      sealed,
		stage:       stageDecryption,
		sealedAt:    now,
		certifiedAt: now,
	}
	e.inflight[epochID] = t

	e.decrypt.StartDecryption(epoch, cert, sealed)
	t.timer = e.stageTimer(epochID, stageDecryption, e.conf.DecryptTimeout)
	return nil
}

// expirePersisted expires a recovered epoch and records expired
// outcomes for its persisted sealed set.
func (e *Engine) expirePersisted(epochID uint64, stageName string) error {
	err := e.state.Advance(epochID, umbra.EpochStateExpired)
	if err != nil {
		return fmt.Errorf("could not expire recovered epoch %d: %w", epochID, err)
	}

	sealed, err := e.commits.SealedSet(epochID)
	if errors.Is(err, storage.ErrNotFound) {
		sealed = nil
	} else if err != nil {
		return fmt.Errorf("could not get sealed set of epoch %d: %w", epochID, err)
	}

	for _, commit := range sealed {
		outcome := &umbra.CommitOutcome{
			EpochID:  epochID,
			CommitID: commit.ID(),
			State:    umbra.OutcomeExpired,
			Reason:   fmt.Sprintf("epoch expired during %s", stageName),
		}
		err = e.outcomes.Store(outcome)
		if err != nil {
			return fmt.Errorf("could not store expired outcome: %w", err)
		}
	}

	e.pipeline.EpochExpired(epochID, stageName)
	return nil
}
