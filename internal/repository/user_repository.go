package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"therapy-scheduling-server/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// Username lookup; an empty role matches any role.
	GetByUsername(ctx context.Context, username string, role models.Role) (*models.User, error)
	// Batch lookup used to annotate listings with display names.
	MapByUsernames(ctx context.Context, usernames []string) (map[string]*models.User, error)
	// LockByUsername takes a row lock on the user until the surrounding
	// transaction ends. Booking checks lock the therapist row first.
	LockByUsername(ctx context.Context, username string) error
	// Replaces the availability of a therapist account; unknown usernames are a no-op.
	UpdateAvailability(ctx context.Context, username string, slots []models.AvailabilitySlot) error
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) GetByUsername(ctx context.Context, username string, role models.Role) (*models.User, error) {
	q := r.db.WithContext(ctx).Where("username = ?", username)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var u models.User
	if err := q.First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *GormUserRepository) MapByUsernames(ctx context.Context, usernames []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(usernames))
	if len(usernames) == 0 {
		return result, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("username IN ?", usernames).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		result[users[i].Username] = &users[i]
	}
	return result, nil
}

func (r *GormUserRepository) LockByUsername(ctx context.Context, username string) error {
	var u models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("username = ?", username).
		First(&u).Error
	return translate(err)
}

func (r *GormUserRepository) UpdateAvailability(ctx context.Context, username string, slots []models.AvailabilitySlot) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ? AND role = ?", username, models.RoleTherapist).
		Update("available_slots", datatypes.NewJSONSlice(slots)).
		Error
}
