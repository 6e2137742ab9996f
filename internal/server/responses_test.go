package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "not found",
			err:         apperr.NotFound("posts.get", "post_missing", errors.New("post not found")),
			wantStatus:  http.StatusNotFound,
			wantKind:    "not_found",
			wantCode:    "posts.get.post_missing",
			wantMessage: "post not found",
		},
		{
			name:        "conflict",
			err:         apperr.Conflict("users.register", "username_taken", errors.New("username already exists")),
			wantStatus:  http.StatusConflict,
			wantKind:    "conflict",
			wantCode:    "users.register.username_taken",
			wantMessage: "username already exists",
		},
		{
			name:        "unauthorized",
			err:         apperr.Unauthorized("chats.send", "not_participant", nil),
			wantStatus:  http.StatusUnauthorized,
			wantKind:    "unauthorized",
			wantCode:    "chats.send.not_participant",
			wantMessage: "chats.send.not_participant",
		},
		{
			name:        "invalid input",
			err:         apperr.InvalidInput("posts.parse_page", "invalid_limit", errors.New("limit must be an integer between 1 and 100")),
			wantStatus:  http.StatusBadRequest,
			wantKind:    "invalid_input",
			wantCode:    "posts.parse_page.invalid_limit",
			wantMessage: "limit must be an integer between 1 and 100",
		},
		{
			name:        "foreign error hides cause",
			err:         errors.New("disk on fire"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "dependency_failure",
			wantMessage: "internal server error",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/posts", http.NoBody)
			handler := &httpHandler{logger: zap.NewNop()}

			handler.respondError(ctx, testCase.err)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("unexpected status: got %d, want %d", recorder.Code, testCase.wantStatus)
			}
			var payload errorPayload
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode error payload: %v", err)
			}
			if payload.Success {
				t.Fatalf("error payload must not report success")
			}
			if payload.Error != testCase.wantKind || payload.Code != testCase.wantCode || payload.Message != testCase.wantMessage {
				t.Fatalf("unexpected payload: %#v", payload)
			}
		})
	}
}

func TestRespondErrorLogsDependencyFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/posts", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{logger: zap.New(core)}

	handler.respondError(ctx, apperr.DependencyFailure("posts.list", "query_failed", errors.New("database is locked")))
	handler.respondError(ctx, apperr.NotFound("posts.get", "post_missing", nil))

	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %s", entries[0].Level)
	}
}
