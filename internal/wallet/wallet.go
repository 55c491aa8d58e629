// Package wallet tracks which on-chain addresses belong to which user.
//
// Deposits arrive as ERC-20 transfers to the platform custody address.
// The only way to know who sent them is a registered link between a
// user account and their wallet address, so linking happens before the
// first deposit. Atlas never holds user keys; links are addresses only.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAddress = errors.New("wallet: invalid address")
	ErrLinkNotFound   = errors.New("wallet: link not found")
	ErrAlreadyLinked  = errors.New("wallet: address already linked")
)

// Link binds one wallet address to one user. An address belongs to at
// most one user; a user may link several addresses.
type Link struct {
	Address   string    `json:"address"` // lowercased hex
	UserID    string    `json:"userId"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists wallet links.
type Store interface {
	Create(ctx context.Context, link *Link) error
	GetByAddress(ctx context.Context, address string) (*Link, error)
	GetByUser(ctx context.Context, userID string) ([]*Link, error)
	Delete(ctx context.Context, address string) error
}

// Service validates and manages wallet links.
type Service struct {
	store Store
}

// NewService creates a wallet link service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Link registers address as belonging to userID.
func (s *Service) Link(ctx context.Context, userID, address, label string) (*Link, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidAddress)
	}

	if existing, err := s.store.GetByAddress(ctx, addr); err == nil && existing != nil {
		return nil, ErrAlreadyLinked
	}

	link := &Link{
		Address:   addr,
		UserID:    userID,
		Label:     label,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink removes a link. Only the owning user may remove it.
func (s *Service) Unlink(ctx context.Context, userID, address string) error {
	addr, err := normalizeAddress(address)
	if err != nil {
		return err
	}
	link, err := s.store.GetByAddress(ctx, addr)
	if err != nil || link == nil {
		return ErrLinkNotFound
	}
	if link.UserID != userID {
		return ErrLinkNotFound
	}
	return s.store.Delete(ctx, addr)
}

// List returns all links for a user.
func (s *Service) List(ctx context.Context, userID string) ([]*Link, error) {
	return s.store.GetByUser(ctx, userID)
}

// UserByAddress resolves a wallet address to its linked user. This is
// the deposit watcher's resolver hook.
func (s *Service) UserByAddress(ctx context.Context, address string) (string, bool) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return "", false
	}
	link, err := s.store.GetByAddress(ctx, addr)
	if err != nil || link == nil {
		return "", false
	}
	return link.UserID, true
}

func normalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	links map[string]*Link // keyed by lowercased address
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]*Link)}
}

func (m *MemoryStore) Create(ctx context.Context, link *Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link.Address]; ok {
		return ErrAlreadyLinked
	}
	m.links[link.Address] = link
	return nil
}

func (m *MemoryStore) GetByAddress(ctx context.Context, address string) (*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.links[address]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (m *MemoryStore) GetByUser(ctx context.Context, userID string) ([]*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Link
	for _, link := range m.links {
		if link.UserID == userID {
			result = append(result, link)
		}
	}
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, address)
	return nil
}
