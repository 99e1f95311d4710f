// Package mailbox gives read access to an account's sent mail.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

var ErrNoSentFolder = errors.New("no sent folder")

// Message is one sent message reduced to its recipient header block.
type Message struct {
	UID    uint32
	Header []byte
}

type Store interface {
	// ScanSent calls fn for every message in the account's sent folder and
	// returns how many were visited. A non-nil error from fn stops the scan.
	ScanSent(ctx context.Context, account storage.AccountRef, fn func(Message) error) (int, error)
}

// Memory is a Store backed by a map. Accounts without an entry have no sent
// folder.
type Memory struct {
	mu   sync.RWMutex
	sent map[storage.AccountRef][]Message
}

func NewMemory() *Memory {
	return &Memory{sent: make(map[storage.AccountRef][]Message)}
}

// Append adds a sent message, creating the folder if needed. A nil header
// only creates the folder.
func (m *Memory) Append(account storage.AccountRef, header []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.sent[account]
	if header != nil {
		msgs = append(msgs, Message{UID: uint32(len(msgs) + 1), Header: header})
	}
	m.sent[account] = msgs
}

func (m *Memory) ScanSent(ctx context.Context, account storage.AccountRef, fn func(Message) error) (int, error) {
	m.mu.RLock()
	msgs, ok := m.sent[account]
	msgs = append([]Message(nil), msgs...)
	m.mu.RUnlock()
	if !ok {
		return 0, ErrNoSentFolder
	}
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := fn(msg); err != nil {
			return i + 1, err
		}
	}
	return len(msgs), nil
}
