package recovery

import (
	"sync"

	"github.com/inconshreveable/log15"

	"github.com/dmitrylala/memtx/space"
)

// RowApplier is the out-of-scope collaborator that actually mutates a
// space's indexes for one recovered or replayed row. It must return
// ErrDuplicateKey when a row's primary key collides with an
// already-applied row, so the driver can apply force-recovery's
// drop-and-warn policy.
type RowApplier interface {
	Apply(tx space.Transaction, sp *space.Space, row space.Row) error
}

// SpaceResolver maps a row's space id to the Space it belongs to.
type SpaceResolver interface {
	ResolveSpace(id uint32) (*space.Space, bool)
	Spaces() []*space.Space
}

// TxFactory begins a new Transaction for one row apply.
type TxFactory interface {
	Begin() (space.Transaction, error)
}

// SecondaryBuilder drives one space's secondary indexes through a bulk
// Build from its already-populated primary index. How the primary
// index's contents get fed to Index.Build is entirely the index
// algorithm's concern (out of this module's scope); the driver only
// needs to know the build happened.
type SecondaryBuilder func(sp *space.Space) error

// AbandonedSweeper removes leftover .inprogress snapshot files from a
// prior checkpoint writer that never reached COMMITTED or ABORTED (e.g.
// a process killed mid-write). May be nil when the engine has no
// snapshot directory configured.
type AbandonedSweeper interface {
	SweepAbandoned() (int, error)
}

// Driver drives the recovery state machine. One Driver exists per
// engine instance; its exported methods must be called from the
// database task per the engine's single-writer concurrency model.
type Driver struct {
	mu            sync.Mutex
	state         State
	forceRecovery bool

	resolver       SpaceResolver
	txFactory      TxFactory
	applier        RowApplier
	buildSecondary SecondaryBuilder
	sweeper        AbandonedSweeper
	log            log15.Logger

	yieldEvery int
	onYield    func()
}

// NewDriver creates a Driver in state INITIALIZED. yieldEvery is the row
// count between cooperative yields during replay (0 selects the
// engine's default of 100000, per spec §4.5). onYield may be nil.
// sweeper may be nil when the engine has no snapshot directory.
func NewDriver(forceRecovery bool, resolver SpaceResolver, txFactory TxFactory, applier RowApplier, buildSecondary SecondaryBuilder, sweeper AbandonedSweeper, yieldEvery int, onYield func()) *Driver {
	if yieldEvery <= 0 {
		yieldEvery = 100000
	}
	return &Driver{
		state:          StateInitialized,
		forceRecovery:  forceRecovery,
		resolver:       resolver,
		txFactory:      txFactory,
		applier:        applier,
		buildSecondary: buildSecondary,
		sweeper:        sweeper,
		log:            log15.New("component", "recovery"),
		yieldEvery:     yieldEvery,
		onYield:        onYield,
	}
}

// State reports the driver's current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Bootstrap implements bootstrap(): feeds rows (the embedded bootstrap
// image) through the row applier and transitions straight to OK. Used
// only when no prior snapshot exists.
func (d *Driver) Bootstrap(rows []space.Row) error {
	d.mu.Lock()
	if d.state != StateInitialized {
		d.mu.Unlock()
		return &ErrWrongState{Op: "Bootstrap", From: d.state}
	}
	d.mu.Unlock()

	for _, row := range rows {
		if err := d.applyRow(row); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.state = StateOK
	d.mu.Unlock()
	d.log.Info("bootstrap complete", "rows", len(rows))
	return nil
}

// BeginInitialRecovery implements begin_initial_recovery(vclock): from
// INITIALIZED, goes to INITIAL_RECOVERY (fast path, primary key only)
// unless force_recovery is set, in which case it goes directly to OK so
// every index — including secondary — is enabled during snapshot
// replay, letting corruption-induced duplicates be detected and
// dropped rather than silently building a tree over broken data.
func (d *Driver) BeginInitialRecovery(vclock space.Vclock) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInitialized {
		return &ErrWrongState{Op: "BeginInitialRecovery", From: d.state}
	}
	if d.forceRecovery {
		d.state = StateOK
	} else {
		d.state = StateInitialRecovery
	}
	d.log.Info("initial recovery begun", "vclock", vclock, "force_recovery", d.forceRecovery, "state", d.state)
	return nil
}

// BeginFinalRecovery implements begin_final_recovery(): from
// INITIAL_RECOVERY, goes to FINAL_RECOVERY so the WAL can replay into
// the primary key only. Under force_recovery (already in OK by this
// point), secondary keys are built immediately instead.
func (d *Driver) BeginFinalRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.forceRecovery {
		if d.state != StateOK {
			return &ErrWrongState{Op: "BeginFinalRecovery", From: d.state}
		}
		return d.endBuildSecondaryLocked()
	}
	if d.state != StateInitialRecovery {
		return &ErrWrongState{Op: "BeginFinalRecovery", From: d.state}
	}
	d.state = StateFinalRecovery
	return nil
}

// EndRecovery implements end_recovery(): from FINAL_RECOVERY, builds
// every secondary index in bulk and transitions to OK.
func (d *Driver) EndRecovery() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateFinalRecovery {
		return &ErrWrongState{Op: "EndRecovery", From: d.state}
	}
	return d.endBuildSecondaryLocked()
}

// endBuildSecondaryLocked builds every space's secondary indexes in
// bulk from the already-populated primary index, sweeps any abandoned
// .inprogress snapshot files left by a checkpoint writer that never
// reached COMMITTED or ABORTED, and transitions to OK. Callers must
// hold d.mu. Reached from both EndRecovery's normal path and
// BeginFinalRecovery's force-recovery fast path, so the sweep runs
// exactly once recovery finishes either way.
func (d *Driver) endBuildSecondaryLocked() error {
	for _, sp := range d.resolver.Spaces() {
		if sp.Memtx && len(sp.Indexes) >= 2 && d.buildSecondary != nil {
			if err := d.buildSecondary(sp); err != nil {
				return err
			}
		}
		sp.ReplaceBehavior = space.AllKeys
	}

	if d.sweeper != nil {
		swept, err := d.sweeper.SweepAbandoned()
		if err != nil {
			d.log.Warn("abandoned snapshot sweep failed", "err", err)
		} else if swept > 0 {
			d.log.Info("swept abandoned in-progress snapshot files", "count", swept)
		}
	}

	d.state = StateOK
	d.log.Info("secondary indexes built, recovery complete")
	return nil
}
