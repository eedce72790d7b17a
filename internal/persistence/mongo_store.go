package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/cadence/pkg/api"
)

// MongoInstanceStore is an InstanceStore backed by a MongoDB collection.
// Documents use the record layout with the instance ID as _id.
type MongoInstanceStore struct {
	coll *mongo.Collection
}

// Ensure it implements InstanceStore.
var _ InstanceStore = (*MongoInstanceStore)(nil)

// NewMongoInstanceStore creates a Mongo-backed instance store.
// dbName defaults to "cadence" if empty, collName defaults to "instances".
func NewMongoInstanceStore(client *mongo.Client, dbName, collName string) *MongoInstanceStore {
	if dbName == "" {
		dbName = "cadence"
	}
	if collName == "" {
		collName = "instances"
	}

	return &MongoInstanceStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

// EnsureIndexes creates the secondary index used by reference lookups.
func (s *MongoInstanceStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "reference_id", Value: 1}},
	})
	return err
}

func (s *MongoInstanceStore) InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	_, err = s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return ErrInstanceExists
	}
	return err
}

func (s *MongoInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID, "version": expectedVersion}, rec)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": rec.ID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInstanceNotFound
	}
	return ErrVersionMismatch
}

func (s *MongoInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return rec.toInstance()
}

func (s *MongoInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	bfilter := bson.M{}
	if filter.Type != "" {
		bfilter["type"] = string(filter.Type)
	}
	if filter.ReferenceID != "" {
		bfilter["reference_id"] = filter.ReferenceID
	}
	if filter.ContextKey != "" {
		bfilter["context_key"] = filter.ContextKey
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		bfilter["state"] = bson.M{"$in": states}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.WorkflowInstance
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		inst, err := rec.toInstance()
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
