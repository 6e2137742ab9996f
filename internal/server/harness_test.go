package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/database"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testCookieName = "murmur_session"

type testServer struct {
	server     *httptest.Server
	tokens     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
}

type testAccount struct {
	ID       string
	Username string
	Password string
	Token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "server.db"),
	}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := assets.NewLocalStore(assets.LocalStoreConfig{
		Directory:  t.TempDir(),
		PublicPath: "/assets",
	})
	if err != nil {
		t.Fatalf("failed to construct asset store: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "murmur-auth",
		Audience:      "murmur-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	dispatcher := realtime.NewDispatcher()
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database: db, IDProvider: idProvider, Publisher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct notifications service: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Database: db, IDProvider: idProvider, Assets: store, Notifier: notificationService,
	})
	if err != nil {
		t.Fatalf("failed to construct posts service: %v", err)
	}
	chatService, err := chats.NewService(chats.ServiceConfig{
		Database: db, IDProvider: idProvider, Publisher: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct chats service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database:         db,
		IDProvider:       idProvider,
		Hasher:           auth.NewBcryptHasher(bcrypt.MinCost),
		Assets:           store,
		DeletionCascades: []users.DeletionCascade{postService, notificationService, chatService},
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	mutator, err := graph.NewMutator(graph.MutatorConfig{Database: db, Notifier: notificationService})
	if err != nil {
		t.Fatalf("failed to construct graph mutator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokenIssuer,
		Users:         userService,
		Posts:         postService,
		Graph:         mutator,
		Notifications: notificationService,
		Chats:         chatService,
		Realtime:      dispatcher,
		Assets:        StaticAssets{Directory: store.Directory(), PublicPath: store.PublicPath()},
		CookieName:    testCookieName,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{server: server, tokens: tokenIssuer, dispatcher: dispatcher}
}

// do sends body as JSON and decodes the JSON response into a generic map.
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(context.Background(), method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil && err != io.EOF {
		t.Fatalf("failed to decode %s %s response: %v", method, path, err)
	}
	return response.StatusCode, decoded
}

func (s *testServer) register(t *testing.T) testAccount {
	t.Helper()
	username := "u" + gofakeit.LetterN(10)
	password := "pw-" + gofakeit.LetterN(12)
	status, body := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Murmur Tester",
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	if status != http.StatusCreated {
		t.Fatalf("register returned %d: %v", status, body)
	}
	user, _ := body["user"].(map[string]any)
	token, _ := body["token"].(string)
	id, _ := user["id"].(string)
	if id == "" || token == "" {
		t.Fatalf("register response missing id or token: %v", body)
	}
	return testAccount{ID: id, Username: username, Password: password, Token: token}
}

func (s *testServer) createPost(t *testing.T, owner testAccount) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/posts", owner.Token, map[string]string{
		"image":   "https://images.example.com/" + gofakeit.LetterN(8) + ".jpg",
		"caption": gofakeit.Sentence(5),
	})
	if status != http.StatusCreated {
		t.Fatalf("create post returned %d: %v", status, body)
	}
	post, _ := body["post"].(map[string]any)
	id, _ := post["id"].(string)
	if id == "" {
		t.Fatalf("create post response missing id: %v", body)
	}
	return id
}

func listField(t *testing.T, body map[string]any, key string) []any {
	t.Helper()
	value, ok := body[key].([]any)
	if !ok {
		t.Fatalf("expected %q to be a list, got %#v", key, body[key])
	}
	return value
}
