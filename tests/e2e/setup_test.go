//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	changeRepository "github.com/castingclouds/gerrit-sub002/internal/change/repository"
	changeRouter "github.com/castingclouds/gerrit-sub002/internal/change/router"
	changeService "github.com/castingclouds/gerrit-sub002/internal/change/service"
	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/database/migrate"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	submitRouter "github.com/castingclouds/gerrit-sub002/internal/submit/router"
	submitService "github.com/castingclouds/gerrit-sub002/internal/submit/service"
	"github.com/castingclouds/gerrit-sub002/pkg/keylock"
)

// E2ETestSuite runs the full engine against a real PostgreSQL instance.
// The git object store is in-memory; the HTTP surface is served in-process.
type E2ETestSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	db          *gorm.DB
	git         *gitstore.GitStore
	server      *httptest.Server
	httpClient  *http.Client
	base        string
	seq         int
}

// SetupSuite runs once before all tests.
func (s *E2ETestSuite) SetupSuite() {
	s.ctx = context.Background()

	pgContainer, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("review"),
		postgres.WithUsername("review"),
		postgres.WithPassword("review"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(s.T(), err, "failed to start PostgreSQL container")
	s.pgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.db, err = gorm.Open(postgresDriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err)

	// Apply the real migrations against the container.
	migrationsPath, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(s.T(), err)
	require.NoError(s.T(), os.Setenv("MIGRATIONS_PATH", migrationsPath))
	require.NoError(s.T(), migrate.Migrate(s.db))

	s.git = gitstore.NewInMemory()
	tree, err := s.git.WriteTree(s.ctx, map[string]string{"README.md": "hello\n"})
	require.NoError(s.T(), err)
	s.base, err = s.git.CreateCommit(s.ctx, gitstore.CommitData{
		Tree:      tree,
		Author:    s.ident(),
		Committer: s.ident(),
		Message:   "initial import\n",
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.git.UpdateRef(s.ctx, "refs/heads/main", "", s.base))

	repo := changeRepository.New(s.db)
	projects := project.NewRegistry()
	locks := keylock.New()
	log := zap.NewNop().Sugar()
	changes := changeService.New(repo, s.git, projects, locks, nil, log)
	engine := submitService.New(repo, changes, s.git, projects, locks, nil, log, 3)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	changeRouter.RegisterRoutes(r, changes)
	submitRouter.RegisterRoutes(r, engine)

	s.server = httptest.NewServer(r)
	s.httpClient = &http.Client{Timeout: 10 * time.Second}
}

// TearDownSuite runs once after all tests.
func (s *E2ETestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *E2ETestSuite) ident() gitstore.Ident {
	return gitstore.Ident{Name: "Alice", Email: "alice@example.com", When: time.Unix(1700000000, 0)}
}

// commit writes a commit carrying the given Change-Id footer.
func (s *E2ETestSuite) commit(parent, key, subject string) string {
	s.seq++
	tree, err := s.git.WriteTree(s.ctx, map[string]string{
		"README.md": "hello\n",
		"file-" + key[1:8] + ".txt": fmt.Sprintf("%s rev %d\n", subject, s.seq),
	})
	require.NoError(s.T(), err)
	hash, err := s.git.CreateCommit(s.ctx, gitstore.CommitData{
		Tree:      tree,
		Parents:   []string{parent},
		Author:    s.ident(),
		Committer: s.ident(),
		Message:   fmt.Sprintf("%s\n\n%s: %s\n", subject, changeid.FooterKey, key),
	})
	require.NoError(s.T(), err)
	return hash
}

func (s *E2ETestSuite) do(method, path string, body interface{}) (*http.Response, []byte) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.T(), json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(s.T(), err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(s.T(), err)
	return resp, out.Bytes()
}

func (s *E2ETestSuite) push(commitID, targetRef string) changeModel.PushResponse {
	resp, body := s.do(http.MethodPost, "/changes/push", changeModel.PushRequest{
		Project:    "demo",
		TargetRef:  targetRef,
		CommitID:   commitID,
		UploaderID: "alice",
	})
	require.Contains(s.T(), []int{http.StatusOK, http.StatusCreated}, resp.StatusCode, string(body))
	var out changeModel.PushResponse
	require.NoError(s.T(), json.Unmarshal(body, &out))
	return out
}

func (s *E2ETestSuite) review(number int64, patchSet int, user string, labels map[string]int) {
	resp, body := s.do(http.MethodPost,
		fmt.Sprintf("/changes/%d/revisions/%d/review", number, patchSet),
		changeModel.ReviewRequest{UserID: user, Labels: labels})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode, string(body))
}

func TestE2ETestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e tests in short mode")
	}
	suite.Run(t, new(E2ETestSuite))
}
