package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error

	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// PostgresDSN starts a shared PostgreSQL container and returns its DSN.
// The test is skipped in short mode or when no container can be started.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL test in short mode")
	}

	pgOnce.Do(func() {
		pgDSN, pgErr = startPostgres()
	})
	if pgErr != nil {
		t.Skipf("skipping PostgreSQL test: %v", pgErr)
	}
	return pgDSN
}

func startPostgres() (dsn string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("starting postgres container panicked: %v", r)
		}
	}()

	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "masomo",
			"POSTGRES_PASSWORD": "masomo",
			"POSTGRES_DB":       "masomo_test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				// the first start is the init script run
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(2*time.Minute),
		),
	)
	if err != nil {
		return "", errors.Wrap(err, "testcontainers.Run(postgres)")
	}

	endpoint, err := pgC.Endpoint(ctx, "")
	if err != nil {
		_ = pgC.Terminate(context.Background())
		return "", errors.Wrap(err, "postgres endpoint")
	}
	return fmt.Sprintf("postgres://masomo:masomo@%s/masomo_test?sslmode=disable&timezone=utc", endpoint), nil
}

// MongoURI starts a shared single-node MongoDB replica set and returns its URI.
// Change streams need a replica set. The test is skipped in short mode or when no container can be started.
func MongoURI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB test in short mode")
	}

	mongoOnce.Do(func() {
		mongoURI, mongoErr = startMongo()
	})
	if mongoErr != nil {
		t.Skipf("skipping MongoDB test: %v", mongoErr)
	}
	return mongoURI
}

func startMongo() (uri string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("starting mongo container panicked: %v", r)
		}
	}()

	mongoC, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithCmd("mongod", "--replSet", "rs0", "--bind_ip_all"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return "", errors.Wrap(err, "testcontainers.Run(mongo)")
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(context.Background())
		return "", errors.Wrap(err, "mongo host")
	}
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(context.Background())
		return "", errors.Wrap(err, "mongo mapped port")
	}
	if host == "" || host == "localhost" || host == "::1" {
		host = "127.0.0.1"
	}

	uri = fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())
	if err := initReplicaSet(ctx, uri); err != nil {
		_ = mongoC.Terminate(context.Background())
		return "", err
	}
	return uri, nil
}

func initReplicaSet(ctx context.Context, uri string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return errors.Wrap(err, "mongo.Connect()")
	}
	defer client.Disconnect(context.Background())

	admin := client.Database("admin")
	err = admin.RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: bson.M{
		"_id":     "rs0",
		"members": bson.A{bson.M{"_id": 0, "host": "localhost:27017"}},
	}}}).Err()
	if err != nil {
		return errors.Wrap(err, "replSetInitiate")
	}

	for {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		if err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err == nil && hello.IsWritablePrimary {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for the replica set primary")
		case <-time.After(200 * time.Millisecond):
		}
	}
}
