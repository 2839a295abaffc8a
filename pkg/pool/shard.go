package pool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/randpool/internal/logger"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/secret"
	"github.com/marmos91/randpool/pkg/store/block"
)

// shard is the part of the pool held at one storage location: a metadata
// record and an ordered run of encrypted blocks covering the stream range
// [meta.consumed, meta.written).
//
// All fields are guarded by mu.
type shard struct {
	mu        sync.Mutex
	loc       Location
	backend   string
	store     block.Store
	keys      *secret.Keys
	meta      metadata
	persisted bool
	blocks    []blockRef
	log       *slog.Logger
}

func openShard(ctx context.Context, loc Location, backend string, st block.Store, keys *secret.Keys, now time.Time, log *slog.Logger) (*shard, error) {
	s := &shard{
		loc:     loc,
		backend: backend,
		store:   st,
		keys:    keys,
		log:     log.With(logger.KeyLocation, loc.ID),
	}

	if err := s.recover(ctx); err != nil {
		return nil, err
	}

	keysList, err := st.ListByPrefix(ctx, blockPrefix)
	if err != nil {
		return nil, poolerrors.NewSystemError("open", loc.ID, err)
	}

	buf, err := st.ReadBlock(ctx, metaKey)
	switch {
	case errors.Is(err, block.ErrBlockNotFound):
		for _, k := range keysList {
			if _, suffix, ok := parseBlockKey(k); ok && suffix == blockSuffix {
				return nil, poolerrors.NewCorruptedError("open", loc.ID, "blocks present without metadata")
			}
		}
		s.meta = metadata{created: now, nextSeq: 1}
		return s, nil
	case err != nil:
		return nil, poolerrors.NewSystemError("open", loc.ID, err)
	}

	s.meta, err = decodeMeta("open", loc.ID, buf, keys)
	if err != nil {
		return nil, err
	}
	s.persisted = true

	if err := s.loadBlocks(ctx, keysList); err != nil {
		return nil, err
	}
	return s, nil
}

// recover finishes or undoes work interrupted by a crash: a secret rotation
// (staged .rekey objects) or a partial block rewrite (.part objects).
func (s *shard) recover(ctx context.Context) error {
	keys, err := s.store.ListByPrefix(ctx, blockPrefix)
	if err != nil {
		return poolerrors.NewSystemError("recover", s.loc.ID, err)
	}

	var staged, parts []uint64
	have := make(map[uint64]bool)
	for _, k := range keys {
		seq, suffix, ok := parseBlockKey(k)
		if !ok {
			continue
		}
		switch suffix {
		case stagedSuffix:
			staged = append(staged, seq)
		case partSuffix:
			parts = append(parts, seq)
		case blockSuffix:
			have[seq] = true
		}
	}

	for _, seq := range parts {
		if have[seq] {
			err = s.store.DeleteBlock(ctx, partBlockKey(seq))
		} else {
			s.log.Warn("Completing interrupted block rewrite", logger.KeySeq, seq)
			err = s.promote(ctx, partBlockKey(seq), seq)
		}
		if err != nil {
			return poolerrors.NewSystemError("recover", s.loc.ID, err)
		}
	}

	stagedMeta, err := s.store.ReadBlock(ctx, stagedMetaKey)
	if err != nil && !errors.Is(err, block.ErrBlockNotFound) {
		return poolerrors.NewSystemError("recover", s.loc.ID, err)
	}
	if stagedMeta == nil && len(staged) == 0 {
		return nil
	}

	committed := false
	if stagedMeta != nil {
		current, err := s.store.ReadBlock(ctx, metaKey)
		if err != nil && !errors.Is(err, block.ErrBlockNotFound) {
			return poolerrors.NewSystemError("recover", s.loc.ID, err)
		}
		committed = current != nil && bytes.Equal(current, stagedMeta)
	}

	if committed {
		s.log.Warn("Rolling forward interrupted secret rotation", logger.KeyBlocks, len(staged))
		for _, seq := range staged {
			if err := s.promote(ctx, stagedBlockKey(seq), seq); err != nil {
				return poolerrors.NewSystemError("recover", s.loc.ID, err)
			}
		}
	} else {
		s.log.Warn("Rolling back interrupted secret rotation", logger.KeyBlocks, len(staged))
		for _, seq := range staged {
			if err := s.store.DeleteBlock(ctx, stagedBlockKey(seq)); err != nil {
				return poolerrors.NewSystemError("recover", s.loc.ID, err)
			}
		}
	}

	if err := s.store.DeleteBlock(ctx, stagedMetaKey); err != nil {
		return poolerrors.NewSystemError("recover", s.loc.ID, err)
	}
	return nil
}

// promote replaces the block object for seq with the object stored at from.
func (s *shard) promote(ctx context.Context, from string, seq uint64) error {
	data, err := s.store.ReadBlock(ctx, from)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBlock(ctx, blockKey(seq)); err != nil {
		return err
	}
	if err := s.store.WriteBlock(ctx, blockKey(seq), data); err != nil {
		return err
	}
	return s.store.DeleteBlock(ctx, from)
}

// readBlock returns the stored object for seq. A block whose tail rewrite
// failed after the original was erased lives on as its .part copy until the
// next open promotes it.
func (s *shard) readBlock(ctx context.Context, seq uint64) ([]byte, error) {
	obj, err := s.store.ReadBlock(ctx, blockKey(seq))
	if errors.Is(err, block.ErrBlockNotFound) {
		return s.store.ReadBlock(ctx, partBlockKey(seq))
	}
	return obj, err
}

// deleteBlock erases every object stored for seq.
func (s *shard) deleteBlock(ctx context.Context, seq uint64) error {
	if err := s.store.DeleteBlock(ctx, blockKey(seq)); err != nil {
		return err
	}
	return s.store.DeleteBlock(ctx, partBlockKey(seq))
}

// loadBlocks builds the block index from storage, discarding blocks that a
// crash left behind on either side of the live range.
func (s *shard) loadBlocks(ctx context.Context, keys []string) error {
	var refs []blockRef
	for _, k := range keys {
		seq, suffix, ok := parseBlockKey(k)
		if !ok || suffix != blockSuffix {
			continue
		}
		obj, err := s.store.ReadBlock(ctx, k)
		if err != nil {
			return poolerrors.NewSystemError("open", s.loc.ID, err)
		}
		ref, err := parseBlockHeader("open", s.loc.ID, obj)
		if err != nil {
			return err
		}
		if ref.seq != seq {
			return poolerrors.NewCorruptedError("open", s.loc.ID, "block key %s holds block %d", k, ref.seq)
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].seq < refs[j].seq })

	expect := s.meta.consumed
	for _, ref := range refs {
		switch {
		case ref.start >= s.meta.written || ref.seq >= s.meta.nextSeq:
			// Appended but never committed to metadata.
			s.log.Debug("Discarding uncommitted block", logger.KeySeq, ref.seq)
			if err := s.store.DeleteBlock(ctx, blockKey(ref.seq)); err != nil {
				return poolerrors.NewSystemError("open", s.loc.ID, err)
			}
			continue
		case ref.end() <= s.meta.consumed:
			// Consumed but not yet erased.
			s.log.Debug("Erasing consumed block", logger.KeySeq, ref.seq)
			if err := s.store.DeleteBlock(ctx, blockKey(ref.seq)); err != nil {
				return poolerrors.NewSystemError("open", s.loc.ID, err)
			}
			continue
		}

		if len(s.blocks) == 0 {
			if ref.start > expect {
				return poolerrors.NewCorruptedError("open", s.loc.ID, "first block starts at %d, consumed offset is %d", ref.start, expect)
			}
		} else if ref.start != expect {
			return poolerrors.NewCorruptedError("open", s.loc.ID, "block %d starts at %d, expected %d", ref.seq, ref.start, expect)
		}
		s.blocks = append(s.blocks, ref)
		expect = ref.end()
	}

	if s.meta.remaining() > 0 && expect != s.meta.written {
		return poolerrors.NewCorruptedError("open", s.loc.ID, "blocks cover up to %d, metadata records %d", expect, s.meta.written)
	}
	return nil
}

func (s *shard) persistMeta(ctx context.Context, m metadata) error {
	if err := s.store.WriteBlock(ctx, metaKey, encodeMeta(m, s.keys)); err != nil {
		return err
	}
	s.meta = m
	s.persisted = true
	return nil
}

// append seals data as the next block. The block is written before the
// metadata so that a crash in between leaves an uncommitted block that the
// next open discards.
func (s *shard) append(ctx context.Context, data []byte, now time.Time) (blockRef, error) {
	ref := blockRef{
		seq:     s.meta.nextSeq,
		start:   s.meta.written,
		length:  uint32(len(data)),
		created: now,
	}

	obj, err := sealBlock(ref, data, s.keys)
	if err != nil {
		return ref, poolerrors.NewSystemError("append", s.loc.ID, err)
	}
	if err := s.store.WriteBlock(ctx, blockKey(ref.seq), obj); err != nil {
		return ref, poolerrors.NewSystemError("append", s.loc.ID, err)
	}

	next := s.meta
	next.written += uint64(len(data))
	next.nextSeq++
	if err := s.persistMeta(ctx, next); err != nil {
		if derr := s.store.DeleteBlock(ctx, blockKey(ref.seq)); derr != nil {
			s.log.Warn("Failed to remove uncommitted block", logger.KeySeq, ref.seq, logger.KeyError, derr)
		}
		return ref, poolerrors.NewSystemError("append", s.loc.ID, err)
	}

	s.blocks = append(s.blocks, ref)
	return ref, nil
}

func (s *shard) expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && len(s.blocks) > 0 && now.Sub(s.blocks[0].created) > maxAge
}

// take hands out the next n bytes from the head of the shard. mutated reports
// whether the consumed offset was advanced, in which case the bytes are gone
// even if an error is returned.
func (s *shard) take(ctx context.Context, n uint64, now time.Time, maxAge time.Duration) (out []byte, offset uint64, mutated bool, err error) {
	if n > s.meta.remaining() {
		return nil, 0, false, poolerrors.NewCacheNotReadyError("consume", n, s.meta.remaining())
	}
	if s.expired(now, maxAge) {
		return nil, 0, false, &poolerrors.PoolError{
			Code:     poolerrors.ErrRandomPoolExpired,
			Op:       "consume",
			Location: s.loc.ID,
			Message:  "oldest block exceeds the maximum pool age",
		}
	}

	var plains [][]byte
	defer func() {
		for _, p := range plains {
			secret.Zero(p)
		}
	}()

	offset = s.meta.consumed
	pos := offset
	out = make([]byte, 0, n)
	used := 0
	for uint64(len(out)) < n {
		ref := s.blocks[used]
		obj, rerr := s.readBlock(ctx, ref.seq)
		if errors.Is(rerr, block.ErrBlockNotFound) {
			secret.Zero(out)
			return nil, 0, false, poolerrors.NewCorruptedError("consume", s.loc.ID, "block %d is missing", ref.seq)
		}
		if rerr != nil {
			secret.Zero(out)
			return nil, 0, false, poolerrors.NewSystemError("consume", s.loc.ID, rerr)
		}
		pt, oerr := openBlock("consume", ref, obj, s.keys)
		if oerr != nil {
			secret.Zero(out)
			return nil, 0, false, oerr
		}
		plains = append(plains, pt)

		skip := pos - ref.start
		k := min(uint64(len(pt))-skip, n-uint64(len(out)))
		out = append(out, pt[skip:skip+k]...)
		pos += k
		used++
	}

	next := s.meta
	next.consumed = pos
	if perr := s.persistMeta(ctx, next); perr != nil {
		secret.Zero(out)
		return nil, 0, false, poolerrors.NewSystemError("consume", s.loc.ID, perr)
	}

	s.erase(ctx, used, plains[used-1], pos)
	return out, offset, true, nil
}

// erase removes the storage copies of bytes below pos. The first used-1
// blocks are fully consumed; the last one read may be partially consumed,
// in which case its unconsumed tail is re-sealed in place. lastPlain is the
// decrypted content of that last block.
//
// Erase failures are logged, not returned: the metadata already marks the
// bytes consumed, and leftovers are removed on the next open.
func (s *shard) erase(ctx context.Context, used int, lastPlain []byte, pos uint64) {
	full := used
	last := s.blocks[used-1]
	partial := last.end() > pos
	if partial {
		full--
	}

	for _, ref := range s.blocks[:full] {
		if err := s.deleteBlock(ctx, ref.seq); err != nil {
			s.log.Warn("Failed to erase consumed block", logger.KeySeq, ref.seq, logger.KeyError, err)
		}
	}
	s.blocks = s.blocks[full:]

	if !partial {
		return
	}

	tail := blockRef{seq: last.seq, start: pos, length: uint32(last.end() - pos), created: last.created}
	obj, err := sealBlock(tail, lastPlain[pos-last.start:], s.keys)
	if err == nil {
		err = s.store.WriteBlock(ctx, partBlockKey(tail.seq), obj)
	}
	if err != nil {
		s.log.Warn("Failed to stage block tail", logger.KeySeq, tail.seq, logger.KeyError, err)
		return
	}
	if err := s.store.DeleteBlock(ctx, blockKey(tail.seq)); err != nil {
		s.log.Warn("Failed to erase partially consumed block", logger.KeySeq, tail.seq, logger.KeyError, err)
		_ = s.store.DeleteBlock(ctx, partBlockKey(tail.seq))
		return
	}
	if err := s.store.WriteBlock(ctx, blockKey(tail.seq), obj); err != nil {
		// The tail is served from its .part copy until the next open
		// promotes it.
		s.log.Warn("Failed to rewrite block tail, serving staged copy", logger.KeySeq, tail.seq, logger.KeyError, err)
		s.blocks[0] = tail
		return
	}
	s.blocks[0] = tail
	if err := s.store.DeleteBlock(ctx, partBlockKey(tail.seq)); err != nil {
		s.log.Warn("Failed to remove staged block tail", logger.KeySeq, tail.seq, logger.KeyError, err)
	}
}

// purgeExpired drops every head block older than maxAge and returns the
// number of unconsumed bytes discarded.
func (s *shard) purgeExpired(ctx context.Context, now time.Time, maxAge time.Duration) (uint64, int, error) {
	n := 0
	for n < len(s.blocks) && maxAge > 0 && now.Sub(s.blocks[n].created) > maxAge {
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}

	pos := s.blocks[n-1].end()
	dropped := pos - s.meta.consumed

	next := s.meta
	next.consumed = pos
	if err := s.persistMeta(ctx, next); err != nil {
		return 0, 0, poolerrors.NewSystemError("purge", s.loc.ID, err)
	}

	for _, ref := range s.blocks[:n] {
		if err := s.deleteBlock(ctx, ref.seq); err != nil {
			s.log.Warn("Failed to erase expired block", logger.KeySeq, ref.seq, logger.KeyError, err)
		}
	}
	s.blocks = s.blocks[n:]
	return dropped, n, nil
}

func (s *shard) setReady(ctx context.Context) error {
	if s.meta.ready() {
		return nil
	}
	next := s.meta
	next.flags |= flagReady
	if err := s.persistMeta(ctx, next); err != nil {
		return poolerrors.NewSystemError("mark ready", s.loc.ID, err)
	}
	return nil
}

// wipe erases everything at the location and resets the shard to an empty,
// unpersisted pool with the given ID.
func (s *shard) wipe(ctx context.Context, poolID uuid.UUID, now time.Time) error {
	if err := s.store.DeleteByPrefix(ctx, ""); err != nil {
		return poolerrors.NewSystemError("wipe", s.loc.ID, err)
	}
	s.meta = metadata{poolID: poolID, created: now, nextSeq: 1}
	s.persisted = false
	s.blocks = nil
	return nil
}

// verify re-reads the metadata and authenticates every live block.
func (s *shard) verify(ctx context.Context) error {
	buf, err := s.store.ReadBlock(ctx, metaKey)
	switch {
	case errors.Is(err, block.ErrBlockNotFound):
		if s.persisted {
			return poolerrors.NewCorruptedError("verify", s.loc.ID, "metadata is missing")
		}
		return nil
	case err != nil:
		return poolerrors.NewSystemError("verify", s.loc.ID, err)
	}

	m, err := decodeMeta("verify", s.loc.ID, buf, s.keys)
	if err != nil {
		return err
	}
	if m.written != s.meta.written || m.consumed != s.meta.consumed || m.nextSeq != s.meta.nextSeq {
		return poolerrors.NewCorruptedError("verify", s.loc.ID, "metadata changed underneath the pool")
	}

	for _, ref := range s.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := s.readBlock(ctx, ref.seq)
		if errors.Is(err, block.ErrBlockNotFound) {
			return poolerrors.NewCorruptedError("verify", s.loc.ID, "block %d is missing", ref.seq)
		}
		if err != nil {
			return poolerrors.NewSystemError("verify", s.loc.ID, err)
		}
		pt, err := openBlock("verify", ref, obj, s.keys)
		if err != nil {
			return err
		}
		secret.Zero(pt)
	}
	return nil
}

func (s *shard) oldest() (time.Time, bool) {
	if len(s.blocks) == 0 {
		return time.Time{}, false
	}
	return s.blocks[0].created, true
}
