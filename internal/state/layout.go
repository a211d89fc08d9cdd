package state

import (
	"encoding/binary"
	"fmt"
)

// Fixed record sizes in bytes.
const (
	principalSetSize     = 4 + MaxAllowListEntries*PrincipalSize
	registryEntrySize    = PrincipalSize + 8
	leverageRegistrySize = 4 + MaxRegistryEntries*registryEntrySize
	GlobalLedgerSize     = PrincipalSize + 6*8 + 32 + 2*principalSetSize + leverageRegistrySize
	TraderAccountSize    = PrincipalSize + 3*8
)

// MarshalBinary encodes the ledger into its fixed GlobalLedgerSize layout.
// Unused collection slots are zero-filled.
func (g *GlobalLedger) MarshalBinary() ([]byte, error) {
	buf := make([]byte, GlobalLedgerSize)
	off := 0

	off += copy(buf[off:], g.Admin[:])
	off = putUint64(buf, off, g.FeeRate)
	off = putUint64(buf, off, g.MaintenanceMargin)
	off = putUint64(buf, off, uint64(g.MinStakeDuration))
	off = putUint64(buf, off, g.ExecutionFee)
	off = putUint64(buf, off, g.TotalStaked)
	off = putUint64(buf, off, g.TotalLiquidity)
	off += copy(buf[off:], g.OrderbookMerkleRoot[:])

	off = putPrincipalSet(buf, off, &g.AuthorizedLiquidators)
	off = putPrincipalSet(buf, off, &g.AuthorizedOrderbookUpdaters)

	binary.LittleEndian.PutUint32(buf[off:], uint32(g.ReputationBasedLeverage.n))
	off += 4
	for i := 0; i < MaxRegistryEntries; i++ {
		e := g.ReputationBasedLeverage.entries[i]
		off += copy(buf[off:], e.Trader[:])
		off = putUint64(buf, off, e.Leverage)
	}

	return buf, nil
}

// UnmarshalBinary decodes a GlobalLedgerSize layout. A collection length
// above its capacity is rejected with ErrCapacityExceeded rather than truncated.
func (g *GlobalLedger) UnmarshalBinary(data []byte) error {
	if len(data) != GlobalLedgerSize {
		return fmt.Errorf("%w: global ledger wants %d bytes, got %d", ErrInvalidLayout, GlobalLedgerSize, len(data))
	}

	var out GlobalLedger
	off := 0

	off += copy(out.Admin[:], data[off:off+PrincipalSize])
	out.FeeRate, off = getUint64(data, off)
	out.MaintenanceMargin, off = getUint64(data, off)
	var minStake uint64
	minStake, off = getUint64(data, off)
	out.MinStakeDuration = int64(minStake)
	out.ExecutionFee, off = getUint64(data, off)
	out.TotalStaked, off = getUint64(data, off)
	out.TotalLiquidity, off = getUint64(data, off)
	off += copy(out.OrderbookMerkleRoot[:], data[off:off+32])

	var err error
	if off, err = getPrincipalSet(data, off, &out.AuthorizedLiquidators); err != nil {
		return fmt.Errorf("authorized liquidators: %w", err)
	}
	if off, err = getPrincipalSet(data, off, &out.AuthorizedOrderbookUpdaters); err != nil {
		return fmt.Errorf("authorized orderbook updaters: %w", err)
	}

	n := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if n > MaxRegistryEntries {
		return fmt.Errorf("reputation registry length %d: %w", n, ErrCapacityExceeded)
	}
	out.ReputationBasedLeverage.n = int(n)
	for i := 0; i < MaxRegistryEntries; i++ {
		var e ReputationLeverage
		off += copy(e.Trader[:], data[off:off+PrincipalSize])
		e.Leverage, off = getUint64(data, off)
		out.ReputationBasedLeverage.entries[i] = e
	}

	*g = out
	return nil
}

// MarshalBinary encodes the account as owner | staked | open | stake_ts.
func (a *TraderAccount) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TraderAccountSize)
	off := copy(buf, a.Owner[:])
	off = putUint64(buf, off, a.StakedAmount)
	off = putUint64(buf, off, a.OpenPosition)
	putUint64(buf, off, uint64(a.StakeTimestamp))
	return buf, nil
}

// UnmarshalBinary decodes a TraderAccountSize layout.
func (a *TraderAccount) UnmarshalBinary(data []byte) error {
	if len(data) != TraderAccountSize {
		return fmt.Errorf("%w: trader account wants %d bytes, got %d", ErrInvalidLayout, TraderAccountSize, len(data))
	}
	var out TraderAccount
	off := copy(out.Owner[:], data[:PrincipalSize])
	out.StakedAmount, off = getUint64(data, off)
	out.OpenPosition, off = getUint64(data, off)
	ts, _ := getUint64(data, off)
	out.StakeTimestamp = int64(ts)
	*a = out
	return nil
}

func putUint64(buf []byte, off int, v uint64) int {
	binary.LittleEndian.PutUint64(buf[off:], v)
	return off + 8
}

func getUint64(buf []byte, off int) (uint64, int) {
	return binary.LittleEndian.Uint64(buf[off:]), off + 8
}

func putPrincipalSet(buf []byte, off int, s *PrincipalSet) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(s.n))
	off += 4
	for i := 0; i < MaxAllowListEntries; i++ {
		off += copy(buf[off:], s.items[i][:])
	}
	return off
}

func getPrincipalSet(buf []byte, off int, s *PrincipalSet) (int, error) {
	n := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if n > MaxAllowListEntries {
		return off, fmt.Errorf("length %d: %w", n, ErrCapacityExceeded)
	}
	s.n = int(n)
	for i := 0; i < MaxAllowListEntries; i++ {
		off += copy(s.items[i][:], buf[off:off+PrincipalSize])
	}
	return off, nil
}
