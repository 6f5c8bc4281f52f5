package integration_test

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	pgtc "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

// Tables truncated between tests, children first.
var fixtureTables = []string{
	"lead_assignment_logs",
	"lead_score_history",
	"notifications",
	"opportunities",
	"team_members",
	"teams",
	"territories",
	"lead_assignment_rules",
	"lead_scoring_rules",
	"system_settings",
	"leads",
	"users",
}

// BaseIntegrationSuite runs Postgres and NATS in containers and exposes a
// migrated repository plus a raw gorm handle for seeding fixtures.
type BaseIntegrationSuite struct {
	suite.Suite
	Postgres    *pgtc.PostgresContainer
	PostgresDSN string
	NATS        *tcnats.NATSContainer
	NATSURL     string

	Repo *storage.PostgresRepo
	DB   *gorm.DB
	Ctx  context.Context

	cancel context.CancelFunc
}

func (s *BaseIntegrationSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("integration tests need docker")
	}
	s.Ctx, s.cancel = context.WithCancel(context.Background())
	logger.Log = zaptest.NewLogger(s.T()).Named("integration")
	startTime := time.Now()

	var err error
	s.Postgres, s.PostgresDSN, err = startPostgres(s.Ctx)
	s.Require().NoError(err, "start postgres")

	s.NATS, s.NATSURL, err = startNATS(s.Ctx)
	s.Require().NoError(err, "start nats")

	s.Repo, err = storage.NewPostgresRepo(s.PostgresDSN, storage.Options{AutoMigrate: true, TxMaxElapsed: 5 * time.Second})
	s.Require().NoError(err, "init repository")

	s.DB, err = gorm.Open(postgres.Open(s.PostgresDSN), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	s.Require().NoError(err, "open fixture connection")

	log.Printf("BaseIntegrationSuite setup complete in %v", time.Since(startTime))
}

func (s *BaseIntegrationSuite) TearDownSuite() {
	if s.Repo != nil {
		if err := s.Repo.Close(context.Background()); err != nil {
			s.T().Logf("Error closing repository: %v", err)
		}
	}
	if s.NATS != nil {
		if err := s.NATS.Terminate(context.Background()); err != nil {
			s.T().Logf("Error terminating NATS container: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Terminate(context.Background()); err != nil {
			s.T().Logf("Error terminating PostgreSQL container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// SetupTest truncates every table so each test starts clean.
func (s *BaseIntegrationSuite) SetupTest() {
	for _, table := range fixtureTables {
		s.Require().NoError(s.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error, "truncate %s", table)
	}
}

// Seed inserts fixture rows in order.
func (s *BaseIntegrationSuite) Seed(rows ...interface{}) {
	for _, row := range rows {
		s.Require().NoError(s.DB.WithContext(s.Ctx).Create(row).Error)
	}
}

func (s *BaseIntegrationSuite) NATSConfig(consumer string) config.NATSConfig {
	return config.NATSConfig{
		URL:           s.NATSURL,
		Stream:        "LEADS",
		SubjectPrefix: "crm.leads",
		Consumer:      consumer,
		QueueGroup:    consumer,
		MaxAgeDays:    1,
		MaxDeliver:    3,
		AckWait:       5 * time.Second,
		NakBaseDelay:  100 * time.Millisecond,
		NakMaxDelay:   time.Second,
	}
}

func startPostgres(ctx context.Context) (*pgtc.PostgresContainer, string, error) {
	pgContainer, err := pgtc.Run(ctx,
		"postgres:17-bookworm",
		pgtc.WithDatabase("lead_routing"),
		pgtc.WithUsername("postgres"),
		pgtc.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}
	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer, "", fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	return pgContainer, dsn, nil
}

func startNATS(ctx context.Context) (*tcnats.NATSContainer, string, error) {
	natsContainer, err := tcnats.Run(ctx,
		"nats:2.11-alpine",
		tcnats.WithArgument("name", "lead-routing-test"),
		tcnats.WithArgument("store_dir", "/data"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start NATS container: %w", err)
	}
	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		return natsContainer, "", fmt.Errorf("failed to get NATS connection string: %w", err)
	}
	return natsContainer, natsURL, nil
}
