package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/models"
	"mestredb/api/internal/repository"
)

// UserService owns the user lifecycle: active, soft-deleted, restored and
// purged.
type UserService struct {
	users  UserRepository
	hasher PasswordHasher
	audit  audit.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func NewUserService(users UserRepository, hasher PasswordHasher, publisher audit.Publisher, log zerolog.Logger) *UserService {
	if publisher == nil {
		publisher = audit.Discard{}
	}
	return &UserService{
		users:  users,
		hasher: hasher,
		audit:  publisher,
		log:    log.With().Str("component", "users").Logger(),
		now:    time.Now,
	}
}

type CreateUserInput struct {
	Name        string
	Email       string
	Password    string
	IsSuperuser bool
}

func (s *UserService) Create(ctx context.Context, actorID int64, input CreateUserInput) (models.PublicUser, error) {
	input.Email = normalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)

	var fields []FieldError
	fields = checkName(input.Name, fields)
	fields = checkEmail(input.Email, fields)
	fields = checkPassword(input.Password, fields)
	if err := validationFailed(fields); err != nil {
		return models.PublicUser{}, err
	}

	user, err := createUser(ctx, s.users, s.hasher, s.log, models.NewUser{
		Name:        input.Name,
		Email:       input.Email,
		IsSuperuser: input.IsSuperuser,
	}, input.Password)
	if err != nil {
		return models.PublicUser{}, err
	}

	s.publish(ctx, audit.UserCreated, actorID, user)
	return user.Public(), nil
}

// EnsureSuperuser creates the bootstrap administrator unless an active user
// already holds the email. It reports whether a user was created.
func (s *UserService) EnsureSuperuser(ctx context.Context, input CreateUserInput) (bool, error) {
	input.IsSuperuser = true
	_, err := s.Create(ctx, 0, input)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID hides soft-deleted users behind ErrNotFound.
func (s *UserService) GetByID(ctx context.Context, id int64) (models.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return models.PublicUser{}, s.notFound("find user by id", err)
	}

	now := s.now()
	if err := s.users.UpdateLastAccess(ctx, id, now); err != nil {
		s.log.Warn().Err(err).Int64("user_id", id).Msg("update last access failed")
	} else {
		user.LastAccess = now
	}
	return user.Public(), nil
}

type UpdateUserInput struct {
	Name        *string
	Email       *string
	Password    *string
	IsSuperuser *bool
}

func (s *UserService) Update(ctx context.Context, actorID, id int64, input UpdateUserInput) (models.PublicUser, error) {
	return s.update(ctx, actorID, id, input)
}

// UpdateProfile is the self-service variant; it never changes IsSuperuser.
func (s *UserService) UpdateProfile(ctx context.Context, id int64, input UpdateUserInput) (models.PublicUser, error) {
	input.IsSuperuser = nil
	return s.update(ctx, id, id, input)
}

func (s *UserService) update(ctx context.Context, actorID, id int64, input UpdateUserInput) (models.PublicUser, error) {
	var (
		fields []FieldError
		upd    models.UserUpdate
	)
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		fields = checkName(name, fields)
		upd.Name = &name
	}
	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		fields = checkEmail(email, fields)
		upd.Email = &email
	}
	if input.Password != nil {
		fields = checkPassword(*input.Password, fields)
	}
	if err := validationFailed(fields); err != nil {
		return models.PublicUser{}, err
	}
	upd.IsSuperuser = input.IsSuperuser

	current, err := s.users.FindByIDWithDeleted(ctx, id)
	if err != nil {
		return models.PublicUser{}, s.notFound("find user by id", err)
	}
	if current.IsDeleted() {
		return models.PublicUser{}, ErrAccountDisabled
	}

	if upd.Email != nil && *upd.Email != current.Email {
		holder, err := s.users.FindByEmail(ctx, *upd.Email)
		if err == nil && holder.ID != id {
			return models.PublicUser{}, ErrConflict
		}
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return models.PublicUser{}, internal(s.log, "find user by email", err)
		}
	}

	if input.Password != nil {
		hash, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return models.PublicUser{}, internal(s.log, "hash password", err)
		}
		upd.PasswordHash = &hash
	}

	user, err := s.users.Update(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return models.PublicUser{}, ErrConflict
		case errors.Is(err, repository.ErrUserNotFound):
			// Deleted between the read and the write.
			return models.PublicUser{}, ErrAccountDisabled
		}
		return models.PublicUser{}, internal(s.log, "update user", err)
	}

	s.publish(ctx, audit.UserUpdated, actorID, user)
	return user.Public(), nil
}

func (s *UserService) Delete(ctx context.Context, actorID, id int64) error {
	user, err := s.users.FindByIDWithDeleted(ctx, id)
	if err != nil {
		return s.notFound("find user by id", err)
	}
	if user.IsDeleted() {
		return ErrAlreadyDeleted
	}

	if err := s.users.SoftDelete(ctx, id); err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return internal(s.log, "soft delete user", err)
		}
		// Lost a race with another delete or a purge.
		if _, err := s.users.FindByIDWithDeleted(ctx, id); err != nil {
			return s.notFound("find user by id", err)
		}
		return ErrAlreadyDeleted
	}

	s.publish(ctx, audit.UserDeleted, actorID, user)
	return nil
}

func (s *UserService) Restore(ctx context.Context, actorID, id int64) (models.PublicUser, error) {
	user, err := s.users.FindByIDWithDeleted(ctx, id)
	if err != nil {
		return models.PublicUser{}, s.notFound("find user by id", err)
	}
	if !user.IsDeleted() {
		return models.PublicUser{}, ErrNotDeleted
	}

	if holder, err := s.users.FindByEmail(ctx, user.Email); err == nil && holder.ID != id {
		return models.PublicUser{}, ErrConflict
	} else if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return models.PublicUser{}, internal(s.log, "find user by email", err)
	}

	restored, err := s.users.Restore(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return models.PublicUser{}, ErrConflict
		case errors.Is(err, repository.ErrUserNotFound):
			if _, err := s.users.FindByIDWithDeleted(ctx, id); err != nil {
				return models.PublicUser{}, s.notFound("find user by id", err)
			}
			return models.PublicUser{}, ErrNotDeleted
		}
		return models.PublicUser{}, internal(s.log, "restore user", err)
	}

	s.publish(ctx, audit.UserRestored, actorID, restored)
	return restored.Public(), nil
}

// HardDelete permanently removes a user, active or deleted. Nobody may purge
// their own account.
func (s *UserService) HardDelete(ctx context.Context, id, requestingUserID int64) error {
	if id == requestingUserID {
		return ErrForbidden
	}

	user, err := s.users.FindByIDWithDeleted(ctx, id)
	if err != nil {
		return s.notFound("find user by id", err)
	}

	if err := s.users.HardDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return internal(s.log, "hard delete user", err)
	}

	s.log.Warn().
		Int64("user_id", id).
		Str("email", user.Email).
		Int64("requested_by", requestingUserID).
		Msg("user permanently deleted")
	s.publish(ctx, audit.UserPurged, requestingUserID, user)
	return nil
}

func (s *UserService) ListActive(ctx context.Context, params models.PageParams) (models.Page[models.PublicUser], error) {
	return s.list(ctx, params, false)
}

func (s *UserService) ListDeleted(ctx context.Context, params models.PageParams) (models.Page[models.PublicUser], error) {
	return s.list(ctx, params, true)
}

func (s *UserService) list(ctx context.Context, params models.PageParams, deleted bool) (models.Page[models.PublicUser], error) {
	params = params.Normalize()
	users, total, err := s.users.List(ctx, repository.ListFilter{
		Deleted: deleted,
		Limit:   params.Limit,
		Offset:  params.Offset(),
	})
	if err != nil {
		return models.Page[models.PublicUser]{}, internal(s.log, "list users", err)
	}
	return models.MapPage(models.NewPage(users, params, total), models.User.Public), nil
}

func (s *UserService) notFound(op string, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrNotFound
	}
	return internal(s.log, op, err)
}

func (s *UserService) publish(ctx context.Context, t audit.EventType, actorID int64, target models.User) {
	publishEvent(ctx, s.audit, s.log, t, func(e *audit.Event) {
		e.ActorID = actorID
		e.TargetID = target.ID
		e.Email = target.Email
	})
}
