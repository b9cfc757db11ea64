package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"mestredb/api/internal/models"
)

// MemoryUserRepository keeps users in process memory with the same
// uniqueness and soft-delete rules as the Postgres schema.
type MemoryUserRepository struct {
	mu     sync.Mutex
	users  map[int64]models.User
	nextID int64
	now    func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:  make(map[int64]models.User),
		nextID: 1,
		now:    time.Now,
	}
}

// emailTakenLocked reports whether an active user other than exceptID holds email.
func (r *MemoryUserRepository) emailTakenLocked(email string, exceptID int64) bool {
	for id, u := range r.users {
		if id != exceptID && u.DeletedAt == nil && u.Email == email {
			return true
		}
	}
	return false
}

func (r *MemoryUserRepository) touch(u *models.User) {
	next := r.now()
	if !next.After(u.UpdatedAt) {
		next = u.UpdatedAt.Add(time.Nanosecond)
	}
	u.UpdatedAt = next
}

func (r *MemoryUserRepository) Create(_ context.Context, in models.NewUser) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTakenLocked(in.Email, 0) {
		return models.User{}, ErrEmailTaken
	}

	now := r.now()
	u := models.User{
		ID:           r.nextID,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		IsSuperuser:  in.IsSuperuser,
		LastAccess:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[u.ID] = u
	r.nextID++
	return u, nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id int64) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByIDWithDeleted(_ context.Context, id int64) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.DeletedAt == nil && u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (r *MemoryUserRepository) FindByEmailWithDeleted(_ context.Context, email string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best  models.User
		found bool
	)
	for _, u := range r.users {
		if u.Email != email {
			continue
		}
		if u.DeletedAt == nil {
			return u, nil
		}
		if !found || u.DeletedAt.After(*best.DeletedAt) {
			best, found = u, true
		}
	}
	if !found {
		return models.User{}, ErrUserNotFound
	}
	return best, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, id int64, upd models.UserUpdate) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return models.User{}, ErrUserNotFound
	}
	if upd.Email != nil && r.emailTakenLocked(*upd.Email, id) {
		return models.User{}, ErrEmailTaken
	}

	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsSuperuser != nil {
		u.IsSuperuser = *upd.IsSuperuser
	}
	r.touch(&u)
	r.users[id] = u
	return u, nil
}

func (r *MemoryUserRepository) SoftDelete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	now := r.now()
	u.DeletedAt = &now
	r.touch(&u)
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepository) Restore(_ context.Context, id int64) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt == nil {
		return models.User{}, ErrUserNotFound
	}
	if r.emailTakenLocked(u.Email, id) {
		return models.User{}, ErrEmailTaken
	}
	u.DeletedAt = nil
	r.touch(&u)
	r.users[id] = u
	return u, nil
}

func (r *MemoryUserRepository) HardDelete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryUserRepository) List(_ context.Context, filter ListFilter) ([]models.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		if (u.DeletedAt != nil) == filter.Deleted {
			matched = append(matched, u)
		}
	}

	if filter.Deleted {
		sort.Slice(matched, func(i, j int) bool {
			a, b := matched[i], matched[j]
			if !a.DeletedAt.Equal(*b.DeletedAt) {
				return a.DeletedAt.After(*b.DeletedAt)
			}
			return a.ID < b.ID
		})
	} else {
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	}

	total := len(matched)
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && filter.Limit < end-start {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func (r *MemoryUserRepository) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	u.LastLogin = &at
	u.LastAccess = at
	r.touch(&u)
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepository) UpdateLastAccess(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrUserNotFound
	}
	u.LastAccess = at
	r.touch(&u)
	r.users[id] = u
	return nil
}
