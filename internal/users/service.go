package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingHasher     = errors.New("password hasher is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingQuery      = errors.New("search query is required")
	errUserMissing       = errors.New("user not found")
	errUsernameTaken     = errors.New("username already exists")
	errEmailTaken        = errors.New("email already registered")
	errBadCredentials    = errors.New("username, email or password is incorrect")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew      = "users.service.new"
	opRegister        = "users.register"
	opAuthenticate    = "users.authenticate"
	opFind            = "users.find"
	opSearch          = "users.search"
	opSuggest         = "users.suggest"
	opListFollows     = "users.list_follows"
	opUpdateProfile   = "users.update_profile"
	opUpdatePassword  = "users.update_password"
	opDelete          = "users.delete"
	profileFolder     = "profiles"
	maxSearchResults  = 20
	defaultSuggestion = 5
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// AssetStore turns uploaded image sources into durable references and releases them.
type AssetStore interface {
	Store(ctx context.Context, folder, source string) (string, error)
	Release(ctx context.Context, reference string) error
}

// Cleanup runs after the deletion transaction commits.
type Cleanup = func(ctx context.Context)

// DeletionCascade removes records owned by or referencing a user inside the deletion
// transaction. The returned Cleanup, when non-nil, runs only after commit.
type DeletionCascade interface {
	PurgeUser(tx *gorm.DB, userID string) (Cleanup, error)
}

// ServiceConfig describes the dependencies of the identity store.
type ServiceConfig struct {
	Database              *gorm.DB
	Clock                 func() time.Time
	IDProvider            ids.Provider
	Hasher                PasswordHasher
	Assets                AssetStore
	DefaultProfilePicture string
	DeletionCascades      []DeletionCascade
	Logger                *zap.Logger
}

// Service manages user accounts and the follow graph they participate in.
type Service struct {
	db                    *gorm.DB
	now                   func() time.Time
	idProvider            ids.Provider
	hasher                PasswordHasher
	assets                AssetStore
	defaultProfilePicture string
	cascades              []DeletionCascade
	logger                *zap.Logger
}

// NewService constructs the identity store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Hasher == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_hasher", errMissingHasher)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:                    cfg.Database,
		now:                   clock,
		idProvider:            cfg.IDProvider,
		hasher:                cfg.Hasher,
		assets:                cfg.Assets,
		defaultProfilePicture: normalize(cfg.DefaultProfilePicture),
		cascades:              append([]DeletionCascade(nil), cfg.DeletionCascades...),
		logger:                logger,
	}, nil
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Name     string
	Username string
	Email    string
	Password string
}

// Register creates an account. A taken username or email is a conflict and leaves the
// existing account untouched.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (User, error) {
	name := normalize(request.Name)
	username := normalize(request.Username)
	email := strings.ToLower(normalize(request.Email))

	for _, check := range []struct {
		reason string
		err    error
	}{
		{"invalid_name", validateName(name)},
		{"invalid_username", validateUsername(username)},
		{"invalid_email", validateEmail(email)},
		{"invalid_password", validatePassword(request.Password)},
	} {
		if check.err != nil {
			return User{}, apperr.InvalidInput(opRegister, check.reason, check.err)
		}
	}

	db := s.db.WithContext(ctx)
	var existing User
	err := db.Where("username = ? OR email = ?", username, email).Take(&existing).Error
	if err == nil {
		if existing.Username == username {
			return User{}, apperr.Conflict(opRegister, "username_taken", errUsernameTaken)
		}
		return User{}, apperr.Conflict(opRegister, "email_taken", errEmailTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "lookup_failed", err, zap.String("username", username))
		return User{}, apperr.DependencyFailure(opRegister, "lookup_failed", err)
	}

	passwordHash, err := s.hasher.Hash(request.Password)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return User{}, apperr.DependencyFailure(opRegister, "hash_failed", err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return User{}, apperr.DependencyFailure(opRegister, "id_generation_failed", err)
	}

	now := s.now().UTC()
	user := User{
		ID:             userID,
		Name:           name,
		Username:       username,
		Email:          email,
		PasswordHash:   passwordHash,
		ProfilePicture: s.defaultProfilePicture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, apperr.Conflict(opRegister, "duplicate_user", err)
		}
		s.logError(opRegister, "insert_failed", err, zap.String("username", username))
		return User{}, apperr.DependencyFailure(opRegister, "insert_failed", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Authenticate resolves a login by username or email and verifies the password.
func (s *Service) Authenticate(ctx context.Context, usernameOrEmail, password string) (User, error) {
	login := normalize(usernameOrEmail)
	if login == "" || password == "" {
		return User{}, apperr.InvalidInput(opAuthenticate, "missing_credentials", errBadCredentials)
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.Unauthorized(opAuthenticate, "unknown_login", errBadCredentials)
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return User{}, apperr.DependencyFailure(opAuthenticate, "lookup_failed", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return User{}, apperr.Unauthorized(opAuthenticate, "wrong_password", errBadCredentials)
	}
	return user, nil
}

// FindByID loads a user by identifier.
func (s *Service) FindByID(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, apperr.InvalidInput(opFind, "missing_user_id", errMissingUserID)
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.NotFound(opFind, "user_missing", errUserMissing)
	}
	if err != nil {
		s.logError(opFind, "query_failed", err, zap.String("user_id", userID))
		return User{}, apperr.DependencyFailure(opFind, "query_failed", err)
	}
	return user, nil
}

// Find loads a user by identifier, username or email.
func (s *Service) Find(ctx context.Context, idOrLogin string) (User, error) {
	key := normalize(idOrLogin)
	if key == "" {
		return User{}, apperr.InvalidInput(opFind, "missing_user_id", errMissingUserID)
	}
	var user User
	err := s.db.WithContext(ctx).
		Where("id = ? OR username = ? OR email = ?", key, key, strings.ToLower(key)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.NotFound(opFind, "user_missing", errUserMissing)
	}
	if err != nil {
		s.logError(opFind, "query_failed", err, zap.String("key", key))
		return User{}, apperr.DependencyFailure(opFind, "query_failed", err)
	}
	return user, nil
}

// Exists reports whether an account with the identifier is present.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		s.logError(opFind, "count_failed", err, zap.String("user_id", userID))
		return false, apperr.DependencyFailure(opFind, "count_failed", err)
	}
	return count > 0, nil
}

// Search matches username or name case-insensitively.
func (s *Service) Search(ctx context.Context, query string) ([]User, error) {
	query = normalize(query)
	if query == "" {
		return nil, apperr.InvalidInput(opSearch, "missing_query", errMissingQuery)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var users []User
	if err := s.db.WithContext(ctx).
		Where(`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("username ASC").
		Limit(maxSearchResults).
		Find(&users).Error; err != nil {
		s.logError(opSearch, "query_failed", err)
		return nil, apperr.DependencyFailure(opSearch, "query_failed", err)
	}
	return users, nil
}

// Suggest draws a random sample of users the viewer neither is nor follows.
func (s *Service) Suggest(ctx context.Context, viewerID string, size int) ([]User, error) {
	if normalize(viewerID) == "" {
		return nil, apperr.InvalidInput(opSuggest, "missing_user_id", errMissingUserID)
	}
	if size <= 0 {
		size = defaultSuggestion
	}
	db := s.db.WithContext(ctx)
	followees := db.Model(&Follow{}).Select("followee_id").Where("follower_id = ?", viewerID)
	var users []User
	if err := db.
		Where("id <> ?", viewerID).
		Where("id NOT IN (?)", followees).
		Order("RANDOM()").
		Limit(size).
		Find(&users).Error; err != nil {
		s.logError(opSuggest, "query_failed", err, zap.String("user_id", viewerID))
		return nil, apperr.DependencyFailure(opSuggest, "query_failed", err)
	}
	return users, nil
}

// Followers lists the users following userID, most recent edge first.
func (s *Service) Followers(ctx context.Context, userID string) ([]User, error) {
	return s.listFollows(ctx, userID, "followee_id", "follower_id")
}

// Followings lists the users userID follows, most recent edge first.
func (s *Service) Followings(ctx context.Context, userID string) ([]User, error) {
	return s.listFollows(ctx, userID, "follower_id", "followee_id")
}

func (s *Service) listFollows(ctx context.Context, userID, matchColumn, joinColumn string) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Joins("JOIN follows ON follows."+joinColumn+" = users.id").
		Where("follows."+matchColumn+" = ?", userID).
		Order("follows.created_at DESC").
		Find(&users).Error; err != nil {
		s.logError(opListFollows, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opListFollows, "query_failed", err)
	}
	return users, nil
}

// ProfileUpdate lists the mutable profile fields; nil pointers leave a field unchanged.
type ProfileUpdate struct {
	Name                 *string
	Username             *string
	Bio                  *string
	ProfilePicture       string
	DeleteProfilePicture bool
}

// UpdateProfile applies the changed fields. A username already held by another account is a conflict.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}

	updates := map[string]interface{}{}
	if update.Name != nil {
		name := normalize(*update.Name)
		if name != "" && name != user.Name {
			if err := validateName(name); err != nil {
				return User{}, apperr.InvalidInput(opUpdateProfile, "invalid_name", err)
			}
			updates["name"] = name
		}
	}
	if update.Username != nil {
		username := normalize(*update.Username)
		if username != "" && username != user.Username {
			if err := validateUsername(username); err != nil {
				return User{}, apperr.InvalidInput(opUpdateProfile, "invalid_username", err)
			}
			var taken int64
			if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&taken).Error; err != nil {
				s.logError(opUpdateProfile, "lookup_failed", err, zap.String("user_id", userID))
				return User{}, apperr.DependencyFailure(opUpdateProfile, "lookup_failed", err)
			}
			if taken > 0 {
				return User{}, apperr.Conflict(opUpdateProfile, "username_taken", errUsernameTaken)
			}
			updates["username"] = username
		}
	}
	if update.Bio != nil {
		bio := normalize(*update.Bio)
		if bio != user.Bio {
			if err := validateBio(bio); err != nil {
				return User{}, apperr.InvalidInput(opUpdateProfile, "invalid_bio", err)
			}
			updates["bio"] = bio
		}
	}

	previousPicture := ""
	source := normalize(update.ProfilePicture)
	switch {
	case source != "" && source != user.ProfilePicture:
		if s.assets == nil {
			return User{}, apperr.DependencyFailure(opUpdateProfile, "missing_asset_store", nil)
		}
		reference, err := s.assets.Store(ctx, profileFolder, source)
		if err != nil {
			return User{}, apperr.New(apperr.KindOf(err), opUpdateProfile, "asset_store_failed", err)
		}
		updates["profile_picture"] = reference
		previousPicture = user.ProfilePicture
	case update.DeleteProfilePicture && user.ProfilePicture != "":
		updates["profile_picture"] = ""
		previousPicture = user.ProfilePicture
	}

	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = s.now().UTC()

	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, apperr.Conflict(opUpdateProfile, "username_taken", err)
		}
		s.logError(opUpdateProfile, "update_failed", err, zap.String("user_id", userID))
		return User{}, apperr.DependencyFailure(opUpdateProfile, "update_failed", err)
	}
	if previousPicture != "" && previousPicture != s.defaultProfilePicture {
		s.releaseAsset(ctx, opUpdateProfile, previousPicture)
	}
	return s.FindByID(ctx, user.ID)
}

// UpdatePassword replaces the password after verifying the current one.
func (s *Service) UpdatePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.InvalidInput(opUpdatePassword, "missing_password", errInvalidPassword)
	}
	if err := validatePassword(newPassword); err != nil {
		return apperr.InvalidInput(opUpdatePassword, "invalid_password", err)
	}
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(user.PasswordHash, oldPassword); err != nil {
		return apperr.InvalidInput(opUpdatePassword, "wrong_password", errBadCredentials)
	}
	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logError(opUpdatePassword, "hash_failed", err)
		return apperr.DependencyFailure(opUpdatePassword, "hash_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"password_hash": passwordHash,
		"updated_at":    s.now().UTC(),
	}).Error; err != nil {
		s.logError(opUpdatePassword, "update_failed", err, zap.String("user_id", userID))
		return apperr.DependencyFailure(opUpdatePassword, "update_failed", err)
	}
	return nil
}

// Delete removes the account and fans the removal out to every record that references it:
// both directions of the follow graph, then each registered cascade, then the user row.
// All steps share one transaction.
func (s *Service) Delete(ctx context.Context, userID string) error {
	userID = normalize(userID)
	if userID == "" {
		return apperr.InvalidInput(opDelete, "missing_user_id", errMissingUserID)
	}

	var (
		user     User
		cleanups []Cleanup
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", userID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(opDelete, "user_missing", errUserMissing)
		}
		if err != nil {
			s.logError(opDelete, "user_select_failed", err, zap.String("user_id", userID))
			return apperr.DependencyFailure(opDelete, "user_select_failed", err)
		}

		// followers lose a following, followees lose a follower
		unfollowed := tx.Where("follower_id = ? OR followee_id = ?", userID, userID).Delete(&Follow{})
		if unfollowed.Error != nil {
			s.logError(opDelete, "follow_delete_failed", unfollowed.Error, zap.String("user_id", userID))
			return apperr.DependencyFailure(opDelete, "follow_delete_failed", unfollowed.Error)
		}

		for _, cascade := range s.cascades {
			cleanup, err := cascade.PurgeUser(tx, userID)
			if err != nil {
				s.logError(opDelete, "cascade_failed", err, zap.String("user_id", userID))
				return apperr.New(apperr.KindOf(err), opDelete, "cascade_failed", err)
			}
			if cleanup != nil {
				cleanups = append(cleanups, cleanup)
			}
		}

		if err := tx.Where("id = ?", userID).Delete(&User{}).Error; err != nil {
			s.logError(opDelete, "user_delete_failed", err, zap.String("user_id", userID))
			return apperr.DependencyFailure(opDelete, "user_delete_failed", err)
		}

		s.logger.Info("user deleted",
			zap.String("user_id", userID),
			zap.Int64("follow_edges_removed", unfollowed.RowsAffected))
		return nil
	})
	if txErr != nil {
		return txErr
	}

	for _, cleanup := range cleanups {
		cleanup(ctx)
	}
	if user.ProfilePicture != "" && user.ProfilePicture != s.defaultProfilePicture {
		s.releaseAsset(ctx, opDelete, user.ProfilePicture)
	}
	return nil
}

func (s *Service) releaseAsset(ctx context.Context, operation, reference string) {
	if s.assets == nil {
		return
	}
	if err := s.assets.Release(ctx, reference); err != nil {
		s.logger.Warn("asset release failed",
			zap.String("operation", operation),
			zap.String("reference", reference),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
