package pool

import (
	"context"
	"errors"

	"github.com/marmos91/randpool/internal/logger"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/store/block"
)

// ReEncrypt replaces the device secret and re-encrypts every location under
// keys derived from the new one. Consumers and appenders are blocked for the
// duration.
//
// Rotation is two-phase per location: re-sealed blocks and metadata are
// staged next to the live objects, then the metadata is swapped and the
// staged blocks promoted. Opening a location with leftovers from an
// interrupted rotation finishes it if the metadata swap happened and undoes
// it otherwise.
//
// Errors: InvalidArgument for an empty new secret, DeviceSecretFailed when
// oldSecret is not the current secret, SystemError when storage fails before
// the swap. On error the pool stays usable under the old secret.
func (p *Pool) ReEncrypt(ctx context.Context, oldSecret, newSecret []byte) error {
	p.rotMu.Lock()
	defer p.rotMu.Unlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return poolerrors.New(poolerrors.ErrRandomPoolInactive, "rotate", "pool is closed")
	}

	return p.secrets.Rotate(oldSecret, newSecret, func(_, next []byte) error {
		return p.rekey(ctx, next)
	})
}

// rekeyState tracks one shard through a rotation.
type rekeyState struct {
	sh      *shard
	keys    *secret.Keys
	oldMeta []byte
	newMeta []byte
	staged  []uint64
}

func (p *Pool) rekey(ctx context.Context, newSecret []byte) error {
	states := make([]*rekeyState, 0, len(p.shards))
	for _, sh := range p.shards {
		keys, err := secret.Derive(newSecret, sh.loc.ID)
		if err != nil {
			zeroStates(states)
			return err
		}
		states = append(states, &rekeyState{sh: sh, keys: keys})
	}

	for _, st := range states {
		if err := p.stage(ctx, st); err != nil {
			p.discardStaging(ctx, states)
			zeroStates(states)
			return err
		}
	}

	for i, st := range states {
		if !st.sh.persisted {
			continue
		}
		if err := st.sh.store.WriteBlock(ctx, metaKey, st.newMeta); err != nil {
			p.log.Error("Failed to commit rotated metadata, rolling back", logger.KeyLocation, st.sh.loc.ID, logger.KeyError, err)
			p.restoreMeta(ctx, states[:i])
			p.discardStaging(ctx, states)
			zeroStates(states)
			return poolerrors.NewSystemError("rotate", st.sh.loc.ID, err)
		}
	}

	// Past this point the new secret is authoritative. Promotion failures are
	// finished by the next open.
	for _, st := range states {
		sh := st.sh
		for _, seq := range st.staged {
			if err := sh.promote(ctx, stagedBlockKey(seq), seq); err != nil {
				sh.log.Error("Failed to promote re-encrypted block", logger.KeySeq, seq, logger.KeyError, err)
				p.setActive(sh.loc.ID, false)
			}
		}
		if sh.persisted {
			if err := sh.store.DeleteBlock(ctx, stagedMetaKey); err != nil {
				sh.log.Warn("Failed to remove staged metadata", logger.KeyError, err)
			}
		}
		sh.keys.Zero()
		sh.keys = st.keys
	}

	p.log.Info("Device secret rotated", "locations", len(states))
	return nil
}

// stage writes re-sealed copies of every live block and the re-tagged
// metadata next to the originals. Blocks are staged before the metadata so
// that a staged metadata object always implies complete staged blocks.
func (p *Pool) stage(ctx context.Context, st *rekeyState) error {
	sh := st.sh
	if !sh.persisted {
		return nil
	}

	st.oldMeta = encodeMeta(sh.meta, sh.keys)
	for _, ref := range sh.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := sh.readBlock(ctx, ref.seq)
		if errors.Is(err, block.ErrBlockNotFound) {
			return poolerrors.NewCorruptedError("rotate", sh.loc.ID, "block %d is missing", ref.seq)
		}
		if err != nil {
			return poolerrors.NewSystemError("rotate", sh.loc.ID, err)
		}
		pt, err := openBlock("rotate", ref, obj, sh.keys)
		if err != nil {
			return err
		}
		sealed, err := sealBlock(ref, pt, st.keys)
		secret.Zero(pt)
		if err != nil {
			return poolerrors.NewSystemError("rotate", sh.loc.ID, err)
		}
		if err := sh.store.WriteBlock(ctx, stagedBlockKey(ref.seq), sealed); err != nil {
			return poolerrors.NewSystemError("rotate", sh.loc.ID, err)
		}
		st.staged = append(st.staged, ref.seq)
	}

	st.newMeta = encodeMeta(sh.meta, st.keys)
	if err := sh.store.WriteBlock(ctx, stagedMetaKey, st.newMeta); err != nil {
		return poolerrors.NewSystemError("rotate", sh.loc.ID, err)
	}
	return nil
}

func (p *Pool) restoreMeta(ctx context.Context, committed []*rekeyState) {
	for _, st := range committed {
		if !st.sh.persisted {
			continue
		}
		if err := st.sh.store.WriteBlock(ctx, metaKey, st.oldMeta); err != nil {
			st.sh.log.Error("Failed to restore metadata after aborted rotation", logger.KeyError, err)
		}
	}
}

func (p *Pool) discardStaging(ctx context.Context, states []*rekeyState) {
	for _, st := range states {
		sh := st.sh
		// Metadata first: once it is gone the next open rolls back whatever
		// staged blocks are left.
		if err := sh.store.DeleteBlock(ctx, stagedMetaKey); err != nil {
			sh.log.Warn("Failed to remove staged metadata", logger.KeyError, err)
		}
		for _, seq := range st.staged {
			if err := sh.store.DeleteBlock(ctx, stagedBlockKey(seq)); err != nil {
				sh.log.Warn("Failed to remove staged block", logger.KeySeq, seq, logger.KeyError, err)
			}
		}
	}
}

func zeroStates(states []*rekeyState) {
	for _, st := range states {
		st.keys.Zero()
	}
}
