package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/domain"
)

// ControlStore is the system of record for control-plane resources:
// organizations, users, collections, source connections, and syncs.
type ControlStore interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error)
	CreateOrganization(ctx context.Context, org *domain.Organization) error

	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User, membership domain.Membership) error
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*domain.Membership, error)

	GetCollection(ctx context.Context, orgID, id uuid.UUID) (*domain.Collection, error)
	CreateCollection(ctx context.Context, coll *domain.Collection) error

	GetSourceConnection(ctx context.Context, orgID, id uuid.UUID) (*domain.SourceConnection, error)
	ListSourceConnections(ctx context.Context, orgID, collectionID uuid.UUID) ([]domain.SourceConnection, error)
	CreateSourceConnection(ctx context.Context, conn *domain.SourceConnection) error
	DeleteSourceConnection(ctx context.Context, orgID, id uuid.UUID) error

	GetSync(ctx context.Context, orgID, id uuid.UUID) (*domain.Sync, error)
	CreateSync(ctx context.Context, s *domain.Sync) error
	UpdateSync(ctx context.Context, s *domain.Sync) error

	// OrganizationForAPIKey resolves a hashed api key to its organization.
	OrganizationForAPIKey(ctx context.Context, keyDigest string) (uuid.UUID, error)
	CreateAPIKey(ctx context.Context, orgID uuid.UUID, keyDigest string) error
}

type memControl struct {
	mu sync.RWMutex

	orgs        map[uuid.UUID]domain.Organization
	users       map[uuid.UUID]domain.User
	usersByMail map[string]uuid.UUID
	memberships map[uuid.UUID]map[uuid.UUID]domain.Membership
	collections map[uuid.UUID]domain.Collection
	connections map[uuid.UUID]domain.SourceConnection
	syncs       map[uuid.UUID]domain.Sync
	apiKeys     map[string]uuid.UUID
}

// NewMemoryControl creates an in-memory control store.
func NewMemoryControl() ControlStore {
	return &memControl{
		orgs:        make(map[uuid.UUID]domain.Organization),
		users:       make(map[uuid.UUID]domain.User),
		usersByMail: make(map[string]uuid.UUID),
		memberships: make(map[uuid.UUID]map[uuid.UUID]domain.Membership),
		collections: make(map[uuid.UUID]domain.Collection),
		connections: make(map[uuid.UUID]domain.SourceConnection),
		syncs:       make(map[uuid.UUID]domain.Sync),
		apiKeys:     make(map[string]uuid.UUID),
	}
}

func (s *memControl) GetOrganization(_ context.Context, id uuid.UUID) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, apierror.NotFound("organization")
	}
	out := org
	return &out, nil
}

func (s *memControl) CreateOrganization(_ context.Context, org *domain.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *memControl) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMail[strings.ToLower(email)]
	if !ok {
		return nil, apierror.NotFound("user")
	}
	out := s.users[id]
	return &out, nil
}

func (s *memControl) CreateUser(_ context.Context, user *domain.User, membership domain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = *user
	s.usersByMail[strings.ToLower(user.Email)] = user.ID
	membership.UserID = user.ID
	if s.memberships[membership.OrganizationID] == nil {
		s.memberships[membership.OrganizationID] = make(map[uuid.UUID]domain.Membership)
	}
	s.memberships[membership.OrganizationID][user.ID] = membership
	return nil
}

func (s *memControl) GetMembership(_ context.Context, orgID, userID uuid.UUID) (*domain.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[orgID][userID]
	if !ok {
		return nil, apierror.NotFound("membership")
	}
	out := m
	return &out, nil
}

func (s *memControl) GetCollection(_ context.Context, orgID, id uuid.UUID) (*domain.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[id]
	if !ok || coll.OrganizationID != orgID {
		return nil, apierror.NotFound("collection")
	}
	out := coll
	return &out, nil
}

func (s *memControl) CreateCollection(_ context.Context, coll *domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if coll.ID == uuid.Nil {
		coll.ID = uuid.New()
	}
	if coll.CreatedAt.IsZero() {
		coll.CreatedAt = time.Now().UTC()
	}
	s.collections[coll.ID] = *coll
	return nil
}

func (s *memControl) GetSourceConnection(_ context.Context, orgID, id uuid.UUID) (*domain.SourceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok || conn.OrganizationID != orgID {
		return nil, apierror.NotFound("source connection")
	}
	out := conn
	return &out, nil
}

func (s *memControl) ListSourceConnections(_ context.Context, orgID, collectionID uuid.UUID) ([]domain.SourceConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SourceConnection
	for _, conn := range s.connections {
		if conn.OrganizationID == orgID && conn.CollectionID == collectionID {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memControl) CreateSourceConnection(_ context.Context, conn *domain.SourceConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	s.connections[conn.ID] = *conn
	return nil
}

func (s *memControl) DeleteSourceConnection(_ context.Context, orgID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok || conn.OrganizationID != orgID {
		return apierror.NotFound("source connection")
	}
	delete(s.connections, id)
	return nil
}

func (s *memControl) GetSync(_ context.Context, orgID, id uuid.UUID) (*domain.Sync, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sy, ok := s.syncs[id]
	if !ok || sy.OrganizationID != orgID {
		return nil, apierror.NotFound("sync")
	}
	out := sy
	out.Destinations = append([]domain.SyncConnection(nil), sy.Destinations...)
	return &out, nil
}

func (s *memControl) CreateSync(_ context.Context, sy *domain.Sync) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sy.ID == uuid.Nil {
		sy.ID = uuid.New()
	}
	if err := sy.ValidateDestinations(); err != nil {
		return err
	}
	s.syncs[sy.ID] = *sy
	return nil
}

func (s *memControl) UpdateSync(_ context.Context, sy *domain.Sync) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.syncs[sy.ID]
	if !ok || existing.OrganizationID != sy.OrganizationID {
		return apierror.NotFound("sync")
	}
	if err := sy.ValidateDestinations(); err != nil {
		return err
	}
	s.syncs[sy.ID] = *sy
	return nil
}

func (s *memControl) OrganizationForAPIKey(_ context.Context, keyDigest string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgID, ok := s.apiKeys[keyDigest]
	if !ok {
		return uuid.Nil, apierror.NotFound("api key")
	}
	return orgID, nil
}

func (s *memControl) CreateAPIKey(_ context.Context, orgID uuid.UUID, keyDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[keyDigest] = orgID
	return nil
}
