package posts

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
)

const (
	opParsePage      = "posts.parse_page"
	DefaultPageLimit = 10
	DefaultFeedLimit = 5
	MaxPageLimit     = 100
)

var (
	errInvalidPage  = errors.New("page must be a positive integer")
	errInvalidLimit = errors.New("limit must be an integer between 1 and 100")
	errInvalidMode  = errors.New("mode must be latest or random")
)

// ListMode selects how a listing draws posts. A response never mixes modes.
type ListMode string

const (
	ModeLatest ListMode = "latest"
	ModeRandom ListMode = "random"
)

// Page is a validated page number and size.
type Page struct {
	Number int
	Limit  int
}

// valid reports whether the page is positive, its limit is in bounds and its offset fits an int.
func (p Page) valid() bool {
	if p.Number < 1 || p.Limit < 1 || p.Limit > MaxPageLimit {
		return false
	}
	return p.Number-1 <= math.MaxInt/p.Limit
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Limit
}

func (p Page) totalPages(total int64) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}

// ParsePage validates raw query values. Empty values take the defaults.
func ParsePage(rawPage, rawLimit string, defaultLimit int) (Page, error) {
	page := Page{Number: 1, Limit: defaultLimit}
	if value := strings.TrimSpace(rawPage); value != "" {
		number, err := strconv.Atoi(value)
		if err != nil || number < 1 {
			return Page{}, apperr.InvalidInput(opParsePage, "invalid_page", errInvalidPage)
		}
		page.Number = number
	}
	if value := strings.TrimSpace(rawLimit); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 1 || limit > MaxPageLimit {
			return Page{}, apperr.InvalidInput(opParsePage, "invalid_limit", errInvalidLimit)
		}
		page.Limit = limit
	}
	if !page.valid() {
		return Page{}, apperr.InvalidInput(opParsePage, "invalid_page", errInvalidPage)
	}
	return page, nil
}

// ParseListMode maps the mode query value; empty means latest.
func ParseListMode(raw string) (ListMode, error) {
	switch ListMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeLatest:
		return ModeLatest, nil
	case ModeRandom:
		return ModeRandom, nil
	}
	return "", apperr.InvalidInput(opParsePage, "invalid_mode", errInvalidMode)
}
