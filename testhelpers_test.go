//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rideline/ridectl/internal/apiclient"
	"github.com/rideline/ridectl/internal/application"
	"github.com/rideline/ridectl/internal/common/database"
	"github.com/rideline/ridectl/internal/common/kafka"
	"github.com/rideline/ridectl/internal/config"
	"github.com/rideline/ridectl/internal/domain/user"
	"github.com/rideline/ridectl/internal/repository"
	"github.com/rideline/ridectl/internal/securestore"
	"github.com/rideline/ridectl/internal/simulator"
)

const (
	transitionsTopic = "ride.client.transitions"
	signalsTopic     = "ride.signals"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers and returns a
// migrated GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_ridectl",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s/test_ridectl?sslmode=disable", net.JoinHostPort(pgHost, pgPort.Port()))

	// Migrations and ping run inside Connect; retry until the server accepts them.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(config.DatabaseConfig{Driver: "postgres", DSN: dsn}, zap.NewNop())
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, kafkaBrokers, transitionsTopic, signalsTopic)

	cleanup := func() {
		_ = database.Close(db)
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// rideStack is a simulated backend with a signed-in passenger and driver.
type rideStack struct {
	Sim       *simulator.Server
	Passenger *application.RideService
	Drivers   *application.DriverService
	Repo      *repository.GormTripRepository
}

func setupRideStack(t *testing.T, db *gorm.DB) *rideStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sim := simulator.New(simulator.Options{}, zap.NewNop())
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	signIn := func(email string, role user.Role) *apiclient.Client {
		_, err := sim.CreateAccount(email, email, "password123", role)
		require.NoError(t, err)
		api := apiclient.New(srv.URL, nil, securestore.NewMemoryStore(), zap.NewNop())
		_, err = application.NewAuthService(api, zap.NewNop()).Login(context.Background(), application.LoginRequest{
			Email:    email,
			Password: "password123",
		})
		require.NoError(t, err)
		return api
	}

	suffix := uuid.New().String()[:8]
	passengerAPI := signIn("rider-"+suffix+"@example.com", user.RolePassenger)
	driverAPI := signIn("driver-"+suffix+"@example.com", user.RoleDriver)

	drivers := application.NewDriverService(driverAPI, application.NewRideService(driverAPI, zap.NewNop()), zap.NewNop())
	_, err := drivers.Register(context.Background(), application.RegisterDriverRequest{
		LicenseNumber: "D-" + suffix,
		Make:          "Kia",
		Model:         "Niro",
		Plate:         "RX-" + suffix[:4],
	})
	require.NoError(t, err)

	return &rideStack{
		Sim:       sim,
		Passenger: application.NewRideService(passengerAPI, zap.NewNop()),
		Drivers:   drivers,
		Repo:      repository.NewGormTripRepository(db),
	}
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, eventType, subject string, data any) {
	t.Helper()
	producer := kafka.NewProducer(brokers, zap.NewNop())
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent("integration-test", eventType, data)
	require.NoError(t, err, "failed to create cloud event")
	ce.Subject = subject

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// consumeEvents reads from a Kafka topic until match accepts an event.
func consumeEvents(t *testing.T, brokers []string, topic string, timeout time.Duration, match func(kafka.CloudEvent) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     fmt.Sprintf("test-assert-%s", uuid.New().String()[:8]),
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for events on topic %q", topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if match(ce) {
			return
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	require.NoError(t, controllerConn.CreateTopics(topicConfigs...), "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
