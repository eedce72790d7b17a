package persistence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/cadence/internal/testutil"
	"github.com/petrijr/cadence/pkg/api"
)

const redisTestPrefix = "cadence:test:"

type RedisStoreTestSuite struct {
	suite.Suite
	client *redis.Client
}

func TestRedisTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	client := redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &RedisStoreTestSuite{client: client})
}

func (r *RedisStoreTestSuite) SetupTest() {
	r.flush()
}

func (r *RedisStoreTestSuite) flush() {
	ctx := context.Background()

	// Clean up all keys with this prefix.
	iter := r.client.Scan(ctx, 0, redisTestPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		err := r.client.Del(ctx, iter.Val()).Err()
		r.NoErrorf(err, "redis DEL %q failed: %v", iter.Val(), err)
	}
	r.NoError(iter.Err(), "redis SCAN failed")
}

func (r *RedisStoreTestSuite) TestContract() {
	runInstanceStoreContract(r.T(), func(t *testing.T) InstanceStore {
		r.flush()
		return NewRedisInstanceStore(r.client, redisTestPrefix)
	})
}

func (r *RedisStoreTestSuite) TestConcurrentCompareAndSwapHasOneWinner() {
	store := NewRedisInstanceStore(r.client, redisTestPrefix)
	ctx := context.Background()

	inst := newWizardInstance("wiz-race", "U1", contractEpoch)
	r.Require().NoError(store.InsertInstance(ctx, inst))

	const writers = 8
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(step int) {
			next := inst.Clone()
			next.Version = 2
			next.Payload.(*api.WizardPayload).CurrentStep = step % 3
			results <- store.CompareAndSwap(ctx, next, 1)
		}(i)
	}

	wins := 0
	for i := 0; i < writers; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		r.ErrorIs(err, ErrVersionMismatch)
	}
	r.Equal(1, wins)

	got, err := store.GetInstance(ctx, "wiz-race")
	r.Require().NoError(err)
	r.EqualValues(2, got.Version)
}
