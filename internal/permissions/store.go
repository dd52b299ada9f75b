package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// RoleStore persists role assignments.
type RoleStore interface {
	ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)
	GetAssignment(ctx context.Context, assignmentID int64) (RoleAssignment, error)
	CreateAssignment(ctx context.Context, assignment *RoleAssignment) error
	DeleteAssignment(ctx context.Context, assignmentID int64) error
}

// GormRoleStore reads and writes the role_assignments table.
type GormRoleStore struct {
	db *gorm.DB
}

func NewGormRoleStore(db *gorm.DB) (*GormRoleStore, error) {
	if db == nil {
		return nil, errors.New("permissions: database handle is required")
	}
	return &GormRoleStore{db: db}, nil
}

func (s *GormRoleStore) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	var assignments []RoleAssignment
	err := s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *GormRoleStore) GetAssignment(ctx context.Context, assignmentID int64) (RoleAssignment, error) {
	var assignment RoleAssignment
	err := s.db.WithContext(ctx).Where("id = ?", assignmentID).Take(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleAssignment{}, fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	if err != nil {
		return RoleAssignment{}, err
	}
	return assignment, nil
}

func (s *GormRoleStore) CreateAssignment(ctx context.Context, assignment *RoleAssignment) error {
	return s.db.WithContext(ctx).Create(assignment).Error
}

func (s *GormRoleStore) DeleteAssignment(ctx context.Context, assignmentID int64) error {
	result := s.db.WithContext(ctx).Where("id = ?", assignmentID).Delete(&RoleAssignment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	return nil
}

// MemoryRoleStore keeps assignments in process memory.
type MemoryRoleStore struct {
	mu          sync.RWMutex
	assignments map[int64]RoleAssignment
	nextID      int64
}

func NewMemoryRoleStore(seed ...RoleAssignment) *MemoryRoleStore {
	store := &MemoryRoleStore{assignments: make(map[int64]RoleAssignment)}
	for _, assignment := range seed {
		assignment := assignment
		_ = store.CreateAssignment(context.Background(), &assignment)
	}
	return store
}

func (s *MemoryRoleStore) ListAssignments(_ context.Context, principalID string) ([]RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assignments := make([]RoleAssignment, 0)
	for _, assignment := range s.assignments {
		if assignment.PrincipalID == principalID {
			assignments = append(assignments, assignment)
		}
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	return assignments, nil
}

func (s *MemoryRoleStore) GetAssignment(_ context.Context, assignmentID int64) (RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assignment, ok := s.assignments[assignmentID]
	if !ok {
		return RoleAssignment{}, fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	return assignment, nil
}

func (s *MemoryRoleStore) CreateAssignment(_ context.Context, assignment *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	assignment.ID = s.nextID
	s.assignments[assignment.ID] = *assignment
	return nil
}

func (s *MemoryRoleStore) DeleteAssignment(_ context.Context, assignmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[assignmentID]; !ok {
		return fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	delete(s.assignments, assignmentID)
	return nil
}
