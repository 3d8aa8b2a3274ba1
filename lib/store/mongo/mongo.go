// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/dappbridge/lib/store"
)

// Database and collection holding the flags.
const (
	Database   = "dapp"
	Collection = "flags"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// MongoItem implements a store item to MongoDB.
type MongoItem struct {
	Key   string `json:"_id" bson:"_id"`
	Value string `json:"value" bson:"value"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) col() *mgo.Collection {
	return m.c.Database(Database).Collection(Collection)
}

// SetItem saves value under key, replacing any previous value.
func (m *Mongo) SetItem(key, value string) (err error) {
	_, err = m.col().UpdateOne(context.Background(),
		bson.M{"_id": key}, // filter
		bson.D{ // update
			{Key: "$set", Value: bson.D{{Key: "value", Value: value}}},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		err = fmt.Errorf("could not save %s in db: %w", key, err)
	}

	return
}

// GetItem returns the value saved under key.
func (m *Mongo) GetItem(key string) (string, error) {
	var mi MongoItem

	err := m.col().FindOne(context.Background(), bson.M{"_id": key}).Decode(&mi)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return "", store.ErrDataNotFound
	}

	return mi.Value, err
}

// RemoveItem deletes key from the database.
func (m *Mongo) RemoveItem(key string) error {
	res, err := m.col().DeleteOne(context.Background(), bson.M{"_id": key})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrDataNotFound
	}

	return err
}
