// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tarancss/dappbridge/lib/store"
	"github.com/tarancss/dappbridge/lib/store/mongo"
	"github.com/tarancss/dappbridge/lib/store/postgres"
	"github.com/tarancss/dappbridge/lib/store/redis"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	REDIS    string = "redis"
)

// New returns a new database connection according to the options (database type). An empty type means no
// persistence and returns a nil store.
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	case REDIS:
		return redis.New(connection)
	case "":
		return nil, nil
	}

	return nil, fmt.Errorf("unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	if dh == nil {
		return nil
	}

	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	case REDIS:
		return dh.(*redis.Redis).CloseRedis()
	}

	return nil
}
