package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/cadence/pkg/api"
)

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>              => HASH {v: version, doc: JSON record}
//	<prefix>idx:all                => SET of all instance IDs
//	<prefix>idx:type:<type>        => SET of instance IDs for a workflow type
//	<prefix>idx:ref:<type>:<ref>   => SET of instance IDs for a reference
//
// Inserts and version checks run as Lua scripts so the compare and the write
// are atomic on the server. State filtering happens after the documents are
// loaded.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

// NewRedisInstanceStore creates a RedisInstanceStore.
// prefix is optional but recommended (e.g. "cadence:").
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "cadence:"
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisInstanceStore) keyInstance(id string) string {
	return s.prefix + "inst:" + id
}

func (s *RedisInstanceStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisInstanceStore) keyType(typ string) string {
	return s.prefix + "idx:type:" + typ
}

func (s *RedisInstanceStore) keyReference(typ, ref string) string {
	return s.prefix + "idx:ref:" + typ + ":" + ref
}

var (
	// Returns 1 when inserted, 0 when the key already exists.
	redisInsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'doc', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('SADD', KEYS[4], ARGV[3])
return 1
`)

	// Returns 1 when swapped, 0 when missing, -1 on a version mismatch.
	redisCASScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then
	return 0
end
if cur ~= ARGV[1] then
	return -1
end
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'doc', ARGV[3])
return 1
`)
)

func (s *RedisInstanceStore) InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	data, err := encodeDocument(inst)
	if err != nil {
		return err
	}

	keys := []string{
		s.keyInstance(inst.ID),
		s.keyAll(),
		s.keyType(string(inst.Type)),
		s.keyReference(string(inst.Type), inst.ReferenceID),
	}
	n, err := redisInsertScript.Run(ctx, s.client, keys, inst.Version, data, inst.ID).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInstanceExists
	}
	return nil
}

func (s *RedisInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	data, err := encodeDocument(inst)
	if err != nil {
		return err
	}

	n, err := redisCASScript.Run(ctx, s.client,
		[]string{s.keyInstance(inst.ID)},
		expectedVersion, inst.Version, data,
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrInstanceNotFound
	default:
		return ErrVersionMismatch
	}
}

func (s *RedisInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	data, err := s.client.HGet(ctx, s.keyInstance(id), "doc").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (s *RedisInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	var ids []string
	var err error

	switch {
	case filter.Type != "" && filter.ReferenceID != "":
		ids, err = s.client.SMembers(ctx, s.keyReference(string(filter.Type), filter.ReferenceID)).Result()
	case filter.Type != "":
		ids, err = s.client.SMembers(ctx, s.keyType(string(filter.Type))).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.keyInstance(id), "doc")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	recs := make([]record, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)

	var instances []*api.WorkflowInstance
	for _, rec := range recs {
		inst, err := rec.toInstance()
		if err != nil {
			return nil, err
		}
		if filter.Match(inst) {
			instances = append(instances, inst)
		}
	}
	return instances, nil
}
