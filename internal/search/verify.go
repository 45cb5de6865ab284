package search

import "bytes"

// verify resolves a cache block's candidate origin offsets to at most
// one match. With an origin device configured, each candidate is
// compared byte-for-byte in ascending offset order and the first equal
// one wins, which makes the lowest origin offset the documented
// tie-break among genuinely duplicate blocks. Candidates that fail the
// comparison are fingerprint collisions: counted, discarded, never
// errors. Without an origin device the lowest candidate is accepted on
// fingerprint and adjacency evidence alone.
func (e *Engine) verify(block, originBuf []byte, bases []uint64) (uint64, bool, uint64) {
	if e.cfg.Origin == nil {
		return bases[0], true, 0
	}

	size := uint64(len(block))
	var rejected uint64

	for _, base := range bases {
		if base+size > e.cfg.Origin.Size() {
			// Index was built from a larger device than the one given
			// for verification; nothing to compare against.
			continue
		}
		if err := e.cfg.Origin.ReadAt(originBuf, base); err != nil {
			e.cfg.Logger.Warnf("origin block at offset %d unreadable during verification: %s", base, err)
			continue
		}
		if bytes.Equal(block, originBuf) {
			return base, true, rejected
		}
		rejected++
	}
	return 0, false, rejected
}
