package kvutil_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread/internal/kvutil"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/types"
)

func TestEnsureBucket(t *testing.T) {
	_, nc := mqtest.StartEmbeddedNATS(t)

	ctx := context.Background()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	t.Run("successful creation on first try", func(t *testing.T) {
		kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "ensure-1", History: 1}, 3)
		require.NoError(t, err)
		require.NotNil(t, kv)
	})

	t.Run("bucket exists - should open it", func(t *testing.T) {
		cfg := jetstream.KeyValueConfig{Bucket: "ensure-2", History: 1}

		kv1, err := js.CreateKeyValue(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, kv1)

		kv2, err := kvutil.EnsureBucket(ctx, js, cfg, 0)
		require.NoError(t, err)
		require.Equal(t, "ensure-2", kv2.Bucket())
	})

	t.Run("concurrent creates - 10 readers", func(t *testing.T) {
		numReaders := 10
		cfg := jetstream.KeyValueConfig{Bucket: "ensure-3", History: 1}

		var wg sync.WaitGroup
		errs := make(chan error, numReaders)
		kvs := make([]jetstream.KeyValue, numReaders)

		for i := range numReaders {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()

				kv, err := kvutil.EnsureBucket(ctx, js, cfg, 5)
				if err != nil {
					errs <- err
					return
				}
				kvs[idx] = kv
			}(i)
		}

		wg.Wait()
		close(errs)

		var errList []error
		for err := range errs {
			errList = append(errList, err)
		}
		require.Empty(t, errList, "All readers should succeed with retry")

		for i, kv := range kvs {
			require.NotNil(t, kv, "Reader %d should have valid KV instance", i)
		}
	})

	t.Run("context timeout - should fail gracefully", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()

		time.Sleep(time.Millisecond)

		_, err := kvutil.EnsureBucket(shortCtx, js, jetstream.KeyValueConfig{Bucket: "ensure-4"}, 3)
		require.Error(t, err)
		require.Contains(t, err.Error(), "context")
	})
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	_, nc := mqtest.StartEmbeddedNATS(t)
	kv := mqtest.CreateJetStreamKV(t, nc, "kvutil-json")
	ctx := t.Context()

	var out record
	_, err := kvutil.GetJSON(ctx, kv, "missing", &out)
	require.ErrorIs(t, err, types.ErrNoKeysFound)

	rev, err := kvutil.PutJSON(ctx, kv, "a.b", record{Name: "orders", Count: 3})
	require.NoError(t, err)
	require.NotZero(t, rev)

	got, err := kvutil.GetJSON(ctx, kv, "a.b", &out)
	require.NoError(t, err)
	require.Equal(t, rev, got)
	require.Equal(t, record{Name: "orders", Count: 3}, out)

	require.NoError(t, kv.Delete(ctx, "a.b"))
	_, err = kvutil.GetJSON(ctx, kv, "a.b", &out)
	require.ErrorIs(t, err, types.ErrNoKeysFound)

	_, err = kv.Put(ctx, "broken", []byte("{"))
	require.NoError(t, err)
	_, err = kvutil.GetJSON(ctx, kv, "broken", &out)
	require.Error(t, err)
	require.NotErrorIs(t, err, types.ErrNoKeysFound)
}
