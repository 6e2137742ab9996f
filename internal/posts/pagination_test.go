package posts

import (
	"math"
	"strconv"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
)

func TestParsePage(t *testing.T) {
	testCases := []struct {
		name      string
		page      string
		limit     string
		expected  Page
		wantError bool
	}{
		{name: "defaults", expected: Page{Number: 1, Limit: DefaultPageLimit}},
		{name: "explicit", page: "3", limit: "25", expected: Page{Number: 3, Limit: 25}},
		{name: "upper bound", page: "1", limit: "100", expected: Page{Number: 1, Limit: 100}},
		{name: "zero page", page: "0", wantError: true},
		{name: "negative page", page: "-2", wantError: true},
		{name: "non numeric page", page: "two", wantError: true},
		{name: "zero limit", limit: "0", wantError: true},
		{name: "limit above bound", limit: "101", wantError: true},
		{name: "non numeric limit", limit: "ten", wantError: true},
		{name: "offset overflow", page: strconv.Itoa(math.MaxInt), limit: "10", wantError: true},
		{name: "offset overflow at default limit", page: strconv.Itoa(math.MaxInt/DefaultPageLimit + 2), wantError: true},
		{name: "largest addressable page", page: strconv.Itoa(math.MaxInt/DefaultPageLimit + 1), expected: Page{Number: math.MaxInt/DefaultPageLimit + 1, Limit: DefaultPageLimit}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			page, err := ParsePage(testCase.page, testCase.limit, DefaultPageLimit)
			if testCase.wantError {
				if !apperr.Is(err, apperr.KindInvalidInput) {
					t.Fatalf("expected invalid input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if page != testCase.expected {
				t.Fatalf("expected %+v, got %+v", testCase.expected, page)
			}
		})
	}
}

func TestParseListMode(t *testing.T) {
	if mode, err := ParseListMode(""); err != nil || mode != ModeLatest {
		t.Fatalf("expected latest default, got %q (%v)", mode, err)
	}
	if mode, err := ParseListMode("RANDOM"); err != nil || mode != ModeRandom {
		t.Fatalf("expected random mode, got %q (%v)", mode, err)
	}
	if _, err := ParseListMode("shuffled"); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected invalid input for unknown mode, got %v", err)
	}
}

func TestPageValidRejectsOverflowingOffset(t *testing.T) {
	if (Page{Number: math.MaxInt, Limit: 10}).valid() {
		t.Fatalf("expected overflowing page to be invalid")
	}
	page := Page{Number: 4, Limit: 25}
	if !page.valid() {
		t.Fatalf("expected %+v to be valid", page)
	}
	if got := page.offset(); got != 75 {
		t.Fatalf("expected offset 75, got %d", got)
	}
}

func TestPageTotalPages(t *testing.T) {
	page := Page{Number: 1, Limit: 5}
	if got := page.totalPages(0); got != 0 {
		t.Fatalf("expected 0 pages, got %d", got)
	}
	if got := page.totalPages(5); got != 1 {
		t.Fatalf("expected 1 page, got %d", got)
	}
	if got := page.totalPages(11); got != 3 {
		t.Fatalf("expected 3 pages, got %d", got)
	}
}
