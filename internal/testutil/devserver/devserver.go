// Package devserver runs the development backend inside tests.
package devserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/schoolhub/schoolhub/internal/api"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/storage"
	"github.com/schoolhub/schoolhub/internal/testutil"
)

// Secret signs every token the test backend issues.
const Secret = "devserver-test-secret-0123456789"

// Backend is a running development backend.
type Backend struct {
	Server *httptest.Server
	API    *api.Server
	DB     *storage.DB
}

// Start runs a backend on a loopback port until the test ends.
func Start(t *testing.T) *Backend {
	t.Helper()

	db := testutil.TestDB(t)
	srv, err := api.New(api.Config{DB: db, JWTSecret: Secret})
	if err != nil {
		t.Fatalf("create api server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})

	return &Backend{Server: ts, API: srv, DB: db}
}

// URL is the REST base URL.
func (b *Backend) URL() string {
	return b.Server.URL
}

// WebSocketURL is the push channel endpoint.
func (b *Backend) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http") + "/ws/notifications"
}

// Token mints a one-hour token.
func (b *Backend) Token(t *testing.T, userID, branchID, role string) string {
	t.Helper()
	token, err := b.API.Auth().Mint(userID, branchID, role, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

// Create stores a notification and pushes it to connected clients.
func (b *Backend) Create(t *testing.T, req notifications.CreateRequest) *notifications.Notification {
	t.Helper()
	n, err := b.API.Service().Create(testutil.TestContext(t), req)
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	return n
}

// WaitForClients blocks until n push connections are authenticated.
func (b *Backend) WaitForClients(t *testing.T, n int) {
	t.Helper()
	testutil.WaitFor(t, 5*time.Second, func() bool {
		return b.API.Hub().ClientCount() == n
	}, "push connections")
}
