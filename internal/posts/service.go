// Package posts stores posts with their comments and likes and composes feeds from them.
package posts

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingNotifier    = errors.New("notifier is required")
	errMissingAssets      = errors.New("asset store is required")
	errMissingUserID      = errors.New("user identifier is required")
	errMissingPostID      = errors.New("post identifier is required")
	errMissingCommentID   = errors.New("comment identifier is required")
	errMissingImage       = errors.New("image is required")
	errMissingText        = errors.New("comment text is required")
	errTextTooLong        = errors.New("text exceeds 2200 characters")
	errPostMissing        = errors.New("post not found")
	errCommentMissing     = errors.New("comment not found")
	errNotPostOwner       = errors.New("only the post owner may change this post")
	errNotCommentReviewer = errors.New("only the post owner or the comment author may delete this comment")
	noOpLogger            = zap.NewNop()
)

const (
	opServiceNew     = "posts.service.new"
	opCreate         = "posts.create"
	opUpdateCaption  = "posts.update_caption"
	opDelete         = "posts.delete"
	opGet            = "posts.get"
	opList           = "posts.list"
	opListByOwner    = "posts.list_by_owner"
	opAddComment     = "posts.add_comment"
	opDeleteComment  = "posts.delete_comment"
	opPurgeUser      = "posts.purge_user"
	postFolder       = "posts"
	maxTextRuneCount = 2200
)

// Notifier records notifications inside a transaction and delivers them after commit.
type Notifier interface {
	Record(tx *gorm.DB, entry notifications.Entry) (*notifications.Notification, error)
	Deliver(ctx context.Context, notification *notifications.Notification)
	PurgePosts(tx *gorm.DB, postIDs ...string) error
}

// ServiceConfig describes the dependencies of the content store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Assets     users.AssetStore
	Notifier   Notifier
	Logger     *zap.Logger
}

// Service manages posts, their comments and their likes.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	assets     users.AssetStore
	notifier   Notifier
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Notifier == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_notifier", errMissingNotifier)
	}
	if cfg.Assets == nil {
		return nil, apperr.DependencyFailure(opServiceNew, "missing_asset_store", errMissingAssets)
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
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		assets:     cfg.Assets,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// CreateRequest carries the image source (data URL or remote URL) and caption of a new post.
type CreateRequest struct {
	Image   string
	Caption string
}

// Create stores the image and attaches a new post to its owner.
func (s *Service) Create(ctx context.Context, ownerID string, request CreateRequest) (Post, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return Post{}, apperr.Unauthorized(opCreate, "missing_owner", errMissingUserID)
	}
	image := normalize(request.Image)
	if image == "" {
		return Post{}, apperr.InvalidInput(opCreate, "missing_image", errMissingImage)
	}
	caption := normalize(request.Caption)
	if utf8.RuneCountInString(caption) > maxTextRuneCount {
		return Post{}, apperr.InvalidInput(opCreate, "caption_too_long", errTextTooLong)
	}

	reference, err := s.assets.Store(ctx, postFolder, image)
	if err != nil {
		return Post{}, apperr.New(apperr.KindOf(err), opCreate, "asset_store_failed", err)
	}
	postID, err := s.idProvider.NewID()
	if err != nil {
		s.releaseAsset(ctx, opCreate, reference)
		s.logError(opCreate, "id_generation_failed", err)
		return Post{}, apperr.DependencyFailure(opCreate, "id_generation_failed", err)
	}

	now := s.now().UTC()
	post := Post{
		ID:        postID,
		OwnerID:   ownerID,
		ImageURL:  reference,
		Caption:   caption,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Omit("Owner", "Comments", "Likes").Create(&post).Error; err != nil {
		s.releaseAsset(ctx, opCreate, reference)
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return Post{}, apperr.DependencyFailure(opCreate, "insert_failed", err)
	}
	return s.Get(ctx, post.ID)
}

// UpdateCaption replaces the caption. Only the owner may do so.
func (s *Service) UpdateCaption(ctx context.Context, actorID, postID, caption string) (Post, error) {
	caption = normalize(caption)
	if utf8.RuneCountInString(caption) > maxTextRuneCount {
		return Post{}, apperr.InvalidInput(opUpdateCaption, "caption_too_long", errTextTooLong)
	}
	post, err := s.loadOwned(s.db.WithContext(ctx), opUpdateCaption, actorID, postID)
	if err != nil {
		return Post{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Post{}).Where("id = ?", post.ID).Updates(map[string]interface{}{
		"caption":    caption,
		"updated_at": s.now().UTC(),
	}).Error; err != nil {
		s.logError(opUpdateCaption, "update_failed", err, zap.String("post_id", post.ID))
		return Post{}, apperr.DependencyFailure(opUpdateCaption, "update_failed", err)
	}
	return s.Get(ctx, post.ID)
}

// Delete removes the post with its comments, likes and notifications, then releases its image.
// Only the owner may delete a post.
func (s *Service) Delete(ctx context.Context, actorID, postID string) error {
	var post Post
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned, err := s.loadOwned(tx, opDelete, actorID, postID)
		if err != nil {
			return err
		}
		post = owned
		if err := s.purgePosts(tx, opDelete, post.ID); err != nil {
			return err
		}
		if err := tx.Where("id = ?", post.ID).Delete(&Post{}).Error; err != nil {
			s.logError(opDelete, "post_delete_failed", err, zap.String("post_id", post.ID))
			return apperr.DependencyFailure(opDelete, "post_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.releaseAsset(ctx, opDelete, post.ImageURL)
	s.logger.Info("post deleted", zap.String("post_id", post.ID), zap.String("owner_id", post.OwnerID))
	return nil
}

// Get loads a post with its owner, likers and commenters resolved.
func (s *Service) Get(ctx context.Context, postID string) (Post, error) {
	postID = normalize(postID)
	if postID == "" {
		return Post{}, apperr.InvalidInput(opGet, "missing_post_id", errMissingPostID)
	}
	var post Post
	err := s.db.WithContext(ctx).Scopes(withDetails).Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, apperr.NotFound(opGet, "post_missing", errPostMissing)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("post_id", postID))
		return Post{}, apperr.DependencyFailure(opGet, "query_failed", err)
	}
	return post, nil
}

// Listing is one page of the all-posts listing. Random listings carry no page position.
type Listing struct {
	Mode       ListMode `json:"mode"`
	Posts      []Post   `json:"posts"`
	Page       int      `json:"page,omitempty"`
	Limit      int      `json:"limit"`
	TotalPosts int64    `json:"totalPosts"`
	TotalPages int      `json:"totalPages,omitempty"`
}

// List returns every author's posts either newest first by page or as a random draw of
// page.Limit posts.
func (s *Service) List(ctx context.Context, mode ListMode, page Page) (Listing, error) {
	if !page.valid() {
		return Listing{}, apperr.InvalidInput(opList, "invalid_page", errInvalidPage)
	}
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&Post{}).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err)
		return Listing{}, apperr.DependencyFailure(opList, "count_failed", err)
	}

	listing := Listing{Mode: mode, Limit: page.Limit, TotalPosts: total, Posts: []Post{}}
	query := db.Scopes(withDetails).Limit(page.Limit)
	switch mode {
	case ModeLatest:
		query = query.Order("created_at DESC, id DESC").Offset(page.offset())
		listing.Page = page.Number
		listing.TotalPages = page.totalPages(total)
	case ModeRandom:
		query = query.Order("RANDOM()")
	default:
		return Listing{}, apperr.InvalidInput(opList, "invalid_mode", errInvalidMode)
	}
	if err := query.Find(&listing.Posts).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("mode", string(mode)))
		return Listing{}, apperr.DependencyFailure(opList, "query_failed", err)
	}
	return listing, nil
}

// ListByOwner returns the owner's posts newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Post, error) {
	ownerID = normalize(ownerID)
	if ownerID == "" {
		return nil, apperr.InvalidInput(opListByOwner, "missing_user_id", errMissingUserID)
	}
	posts := []Post{}
	if err := s.db.WithContext(ctx).
		Scopes(withDetails).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&posts).Error; err != nil {
		s.logError(opListByOwner, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, apperr.DependencyFailure(opListByOwner, "query_failed", err)
	}
	return posts, nil
}

// AddComment appends a comment and notifies the post owner unless the author is the owner.
func (s *Service) AddComment(ctx context.Context, actorID, postID, text string) (Comment, error) {
	actorID = normalize(actorID)
	postID = normalize(postID)
	text = normalize(text)
	switch {
	case actorID == "":
		return Comment{}, apperr.Unauthorized(opAddComment, "missing_author", errMissingUserID)
	case postID == "":
		return Comment{}, apperr.InvalidInput(opAddComment, "missing_post_id", errMissingPostID)
	case text == "":
		return Comment{}, apperr.InvalidInput(opAddComment, "missing_text", errMissingText)
	case utf8.RuneCountInString(text) > maxTextRuneCount:
		return Comment{}, apperr.InvalidInput(opAddComment, "text_too_long", errTextTooLong)
	}

	var (
		comment      Comment
		notification *notifications.Notification
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.load(tx, opAddComment, postID)
		if err != nil {
			return err
		}
		commentID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddComment, "id_generation_failed", err)
			return apperr.DependencyFailure(opAddComment, "id_generation_failed", err)
		}
		comment = Comment{
			ID:        commentID,
			PostID:    post.ID,
			AuthorID:  actorID,
			Text:      text,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.Omit("Author").Create(&comment).Error; err != nil {
			s.logError(opAddComment, "insert_failed", err, zap.String("post_id", post.ID))
			return apperr.DependencyFailure(opAddComment, "insert_failed", err)
		}
		notification, err = s.notifier.Record(tx, notifications.Entry{
			Type:        notifications.TypeComment,
			RecipientID: post.OwnerID,
			SenderID:    actorID,
			PostID:      post.ID,
			Comment:     text,
		})
		return err
	})
	if txErr != nil {
		return Comment{}, txErr
	}
	s.notifier.Deliver(ctx, notification)

	if err := s.db.WithContext(ctx).Preload("Author").Where("id = ?", comment.ID).Take(&comment).Error; err != nil {
		s.logError(opAddComment, "reload_failed", err, zap.String("comment_id", comment.ID))
	}
	return comment, nil
}

// DeleteComment removes commentID from postID. The post owner may delete any comment; anyone
// else only their own.
func (s *Service) DeleteComment(ctx context.Context, actorID, postID, commentID string) error {
	actorID = normalize(actorID)
	commentID = normalize(commentID)
	if actorID == "" {
		return apperr.Unauthorized(opDeleteComment, "missing_actor", errMissingUserID)
	}
	if commentID == "" {
		return apperr.InvalidInput(opDeleteComment, "missing_comment_id", errMissingCommentID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.load(tx, opDeleteComment, postID)
		if err != nil {
			return err
		}
		var comment Comment
		err = tx.Where("id = ? AND post_id = ?", commentID, post.ID).Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(opDeleteComment, "comment_missing", errCommentMissing)
		}
		if err != nil {
			s.logError(opDeleteComment, "comment_select_failed", err, zap.String("comment_id", commentID))
			return apperr.DependencyFailure(opDeleteComment, "comment_select_failed", err)
		}
		if post.OwnerID != actorID && comment.AuthorID != actorID {
			return apperr.Unauthorized(opDeleteComment, "not_permitted", errNotCommentReviewer)
		}
		if err := tx.Where("id = ?", comment.ID).Delete(&Comment{}).Error; err != nil {
			s.logError(opDeleteComment, "delete_failed", err, zap.String("comment_id", commentID))
			return apperr.DependencyFailure(opDeleteComment, "delete_failed", err)
		}
		return nil
	})
}

// PurgeUser deletes the user's posts with everything attached to them, plus the likes and
// comments the user left on other posts. Images are released after commit.
func (s *Service) PurgeUser(tx *gorm.DB, userID string) (func(context.Context), error) {
	var owned []Post
	if err := tx.Select("id", "image_url").Where("owner_id = ?", userID).Find(&owned).Error; err != nil {
		s.logError(opPurgeUser, "post_select_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurgeUser, "post_select_failed", err)
	}
	postIDs := make([]string, 0, len(owned))
	images := make([]string, 0, len(owned))
	for _, post := range owned {
		postIDs = append(postIDs, post.ID)
		images = append(images, post.ImageURL)
	}

	if err := s.purgePosts(tx, opPurgeUser, postIDs...); err != nil {
		return nil, err
	}
	if err := tx.Where("owner_id = ?", userID).Delete(&Post{}).Error; err != nil {
		s.logError(opPurgeUser, "post_delete_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurgeUser, "post_delete_failed", err)
	}
	if err := tx.Where("author_id = ?", userID).Delete(&Comment{}).Error; err != nil {
		s.logError(opPurgeUser, "comment_delete_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurgeUser, "comment_delete_failed", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&Like{}).Error; err != nil {
		s.logError(opPurgeUser, "like_delete_failed", err, zap.String("user_id", userID))
		return nil, apperr.DependencyFailure(opPurgeUser, "like_delete_failed", err)
	}

	return func(ctx context.Context) {
		for _, image := range images {
			s.releaseAsset(ctx, opPurgeUser, image)
		}
	}, nil
}

// purgePosts removes the comments, likes and notifications attached to postIDs.
func (s *Service) purgePosts(tx *gorm.DB, operation string, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	if err := tx.Where("post_id IN ?", postIDs).Delete(&Comment{}).Error; err != nil {
		s.logError(operation, "comment_delete_failed", err, zap.Int("posts", len(postIDs)))
		return apperr.DependencyFailure(operation, "comment_delete_failed", err)
	}
	if err := tx.Where("post_id IN ?", postIDs).Delete(&Like{}).Error; err != nil {
		s.logError(operation, "like_delete_failed", err, zap.Int("posts", len(postIDs)))
		return apperr.DependencyFailure(operation, "like_delete_failed", err)
	}
	if err := s.notifier.PurgePosts(tx, postIDs...); err != nil {
		return apperr.New(apperr.KindOf(err), operation, "notification_delete_failed", err)
	}
	return nil
}

func (s *Service) load(db *gorm.DB, operation, postID string) (Post, error) {
	postID = normalize(postID)
	if postID == "" {
		return Post{}, apperr.InvalidInput(operation, "missing_post_id", errMissingPostID)
	}
	var post Post
	err := db.Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, apperr.NotFound(operation, "post_missing", errPostMissing)
	}
	if err != nil {
		s.logError(operation, "post_select_failed", err, zap.String("post_id", postID))
		return Post{}, apperr.DependencyFailure(operation, "post_select_failed", err)
	}
	return post, nil
}

func (s *Service) loadOwned(db *gorm.DB, operation, actorID, postID string) (Post, error) {
	actorID = normalize(actorID)
	if actorID == "" {
		return Post{}, apperr.Unauthorized(operation, "missing_actor", errMissingUserID)
	}
	post, err := s.load(db, operation, postID)
	if err != nil {
		return Post{}, err
	}
	if post.OwnerID != actorID {
		return Post{}, apperr.Unauthorized(operation, "not_owner", errNotPostOwner)
	}
	return post, nil
}

func (s *Service) releaseAsset(ctx context.Context, operation, reference string) {
	if reference == "" {
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
	s.logger.Error("posts service error", attrs...)
}

// withDetails resolves the owner, the likers and the commenters of the loaded posts.
func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Owner").
		Preload("Likes", func(db *gorm.DB) *gorm.DB {
			return db.Order("post_likes.created_at DESC")
		}).
		Preload("Likes.User").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("post_comments.created_at DESC, post_comments.id DESC")
		}).
		Preload("Comments.Author")
}
