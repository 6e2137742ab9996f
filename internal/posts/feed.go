package posts

import (
	"context"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opFeed = "posts.feed"

// Feed is one page of a viewer's timeline: the followed segment followed by the discovery
// segment. Both segments are paged with the same page and limit.
type Feed struct {
	Posts          []Post `json:"posts"`
	FollowedCount  int    `json:"followedCount"`
	DiscoveryCount int    `json:"discoveryCount"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
	TotalPages     int    `json:"totalPages"`
}

// Followed returns the followed segment of the page.
func (f Feed) Followed() []Post {
	return f.Posts[:f.FollowedCount]
}

// Discovery returns the discovery segment of the page.
func (f Feed) Discovery() []Post {
	return f.Posts[f.FollowedCount:]
}

// Feed composes the viewer's timeline. The followed segment holds posts by the viewer and by
// the users the viewer follows; the discovery segment holds everyone else's. Both are
// newest first and disjoint by construction.
func (s *Service) Feed(ctx context.Context, viewerID string, page Page) (Feed, error) {
	viewerID = normalize(viewerID)
	if viewerID == "" {
		return Feed{}, apperr.Unauthorized(opFeed, "missing_viewer", errMissingUserID)
	}
	if !page.valid() {
		return Feed{}, apperr.InvalidInput(opFeed, "invalid_page", errInvalidPage)
	}

	db := s.db.WithContext(ctx)
	followees := db.Model(&users.Follow{}).Select("followee_id").Where("follower_id = ?", viewerID)
	followed := func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id = ? OR owner_id IN (?)", viewerID, followees)
	}
	discovery := func(db *gorm.DB) *gorm.DB {
		return db.Where("owner_id <> ? AND owner_id NOT IN (?)", viewerID, followees)
	}

	followedPosts, followedTotal, err := s.feedSegment(db, page, followed)
	if err != nil {
		s.logError(opFeed, "followed_query_failed", err, zap.String("viewer_id", viewerID))
		return Feed{}, apperr.DependencyFailure(opFeed, "followed_query_failed", err)
	}
	discoveryPosts, discoveryTotal, err := s.feedSegment(db, page, discovery)
	if err != nil {
		s.logError(opFeed, "discovery_query_failed", err, zap.String("viewer_id", viewerID))
		return Feed{}, apperr.DependencyFailure(opFeed, "discovery_query_failed", err)
	}

	combined := make([]Post, 0, len(followedPosts)+len(discoveryPosts))
	combined = append(combined, followedPosts...)
	combined = append(combined, discoveryPosts...)
	return Feed{
		Posts:          combined,
		FollowedCount:  len(followedPosts),
		DiscoveryCount: len(discoveryPosts),
		Page:           page.Number,
		Limit:          page.Limit,
		TotalPages:     max(page.totalPages(followedTotal), page.totalPages(discoveryTotal)),
	}, nil
}

func (s *Service) feedSegment(db *gorm.DB, page Page, predicate func(*gorm.DB) *gorm.DB) ([]Post, int64, error) {
	var total int64
	if err := db.Model(&Post{}).Scopes(predicate).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var posts []Post
	if err := db.
		Scopes(predicate, withDetails).
		Order("created_at DESC, id DESC").
		Offset(page.offset()).
		Limit(page.Limit).
		Find(&posts).Error; err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}
