package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

// Store keeps the directory in process memory. Contents are lost on restart.
type Store struct {
	mu   sync.RWMutex
	data map[storage.AccountRef]map[string]storage.Entry
	now  func() time.Time
}

func New() *Store {
	return &Store{
		data: make(map[storage.AccountRef]map[string]storage.Entry),
		now:  time.Now,
	}
}

func (s *Store) Close() {}

func (s *Store) Get(ctx context.Context, account storage.AccountRef, address string) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[account][storage.NormalizeAddress(address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

func (s *Store) List(ctx context.Context, account storage.AccountRef, opts storage.ListOptions) ([]*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Entry
	for _, e := range s.data[account] {
		if opts.CardUID != "" && e.CardUID != opts.CardUID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) Index(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	c, err := storage.ValidateContact(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.data[account]
	if !ok {
		book = make(map[string]storage.Entry)
		s.data[account] = book
	}
	if old, exists := book[c.Address]; exists {
		if old.CardUID != "" && cardUID == "" {
			return nil
		}
		if c.DisplayName == "" {
			c.DisplayName = old.DisplayName
		}
	}
	book[c.Address] = storage.Entry{Account: account, Contact: c, CardUID: cardUID, UpdatedAt: s.now()}
	return nil
}

func (s *Store) Update(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	c, err := storage.ValidateContact(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.data[account][c.Address]
	if !ok || old.CardUID != cardUID {
		return storage.ErrNotFound
	}
	if c.DisplayName == "" {
		c.DisplayName = old.DisplayName
	}
	s.data[account][c.Address] = storage.Entry{Account: account, Contact: c, CardUID: cardUID, UpdatedAt: s.now()}
	return nil
}

func (s *Store) Delete(ctx context.Context, account storage.AccountRef, address, cardUID string) error {
	address = storage.NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.data[account]
	if e, ok := book[address]; ok && e.CardUID == cardUID {
		delete(book, address)
	}
	return nil
}
