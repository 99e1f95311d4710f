// Package dedup provides the per-account, per-run "probably already indexed"
// filter used by the bulk scan.
package dedup

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const (
	ExpectedEntries   = 100_000
	FalsePositiveRate = 0.01
)

// Filter is a salted bloom filter. It is not safe for concurrent use and is
// never shared between accounts or runs.
type Filter struct {
	salt string
	bf   *bloom.BloomFilter
}

func NewSalt() string { return uuid.NewString() }

func New(salt string) *Filter {
	return &Filter{
		salt: salt,
		bf:   bloom.NewWithEstimates(ExpectedEntries, FalsePositiveRate),
	}
}

// Seed builds a filter holding every address currently in the account's directory.
func Seed(ctx context.Context, idx storage.Index, account storage.AccountRef, salt string) (*Filter, error) {
	entries, err := idx.List(ctx, account, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("seed dedup filter for %s: %w", account, err)
	}
	f := New(salt)
	for _, e := range entries {
		f.Add(e.Address)
	}
	return f, nil
}

func (f *Filter) key(address string) string {
	return f.salt + storage.NormalizeAddress(address)
}

func (f *Filter) Add(address string) {
	f.bf.AddString(f.key(address))
}

// MightContain reports false only for addresses that were definitely never added.
func (f *Filter) MightContain(address string) bool {
	return f.bf.TestString(f.key(address))
}
