package checkpoint_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mqread"
	"github.com/arloliu/mqread/checkpoint"
	mqtest "github.com/arloliu/mqread/testing"
	"github.com/arloliu/mqread/types"
)

type store interface {
	types.ProgressStore
	Name() string
}

func openSQLite(t *testing.T) *checkpoint.SQLite {
	t.Helper()

	s, err := checkpoint.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "state", "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func openKV(t *testing.T) *checkpoint.KV {
	t.Helper()

	_, nc := mqtest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := checkpoint.NewKV(t.Context(), js, checkpoint.KVConfig{Bucket: "progress"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func sampleProgress(ts int64) *types.ReaderProgress {
	return &types.ReaderProgress{Topics: []types.Progress{
		{
			TopicName: "orders",
			Partitions: []types.PartitionProgress{
				{From: 0, To: 32767, Timestamp: ts},
				{From: 32768, To: types.MaxHashKey, Timestamp: ts + 5, OffsetInRawMsg: 2},
			},
		},
		{TopicName: "payments", Partitions: []types.PartitionProgress{{From: 0, To: types.MaxHashKey, Timestamp: 7}}},
	}}
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) store{
		"sqlite":  func(t *testing.T) store { return openSQLite(t) },
		"nats-kv": func(t *testing.T) store { return openKV(t) },
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := t.Context()
			require.Equal(t, name, s.Name())

			_, err := s.Load(ctx, "billing")
			require.ErrorIs(t, err, types.ErrNoKeysFound)

			require.NoError(t, s.Save(ctx, "billing", sampleProgress(100)))
			got, err := s.Load(ctx, "billing")
			require.NoError(t, err)
			require.Equal(t, sampleProgress(100), got)

			require.NoError(t, s.Save(ctx, "billing", sampleProgress(200)))
			got, err = s.Load(ctx, "billing")
			require.NoError(t, err)
			require.Equal(t, int64(200), got.Topics[0].Partitions[0].Timestamp)

			_, err = s.Load(ctx, "audit")
			require.ErrorIs(t, err, types.ErrNoKeysFound)

			err = s.Save(ctx, "billing", nil)
			require.ErrorIs(t, err, types.ErrInvalidParameters)
			err = s.Save(ctx, "", sampleProgress(1))
			require.ErrorIs(t, err, types.ErrInvalidParameters)
		})
	}
}

func TestSQLite_DeleteAndUpdatedAt(t *testing.T) {
	s := openSQLite(t)
	ctx := t.Context()

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Save(ctx, "billing", sampleProgress(1)))
	at, err := s.UpdatedAt(ctx, "billing")
	require.NoError(t, err)
	require.True(t, at.After(before))

	require.NoError(t, s.Delete(ctx, "billing"))
	_, err = s.Load(ctx, "billing")
	require.ErrorIs(t, err, types.ErrNoKeysFound)
	_, err = s.UpdatedAt(ctx, "billing")
	require.ErrorIs(t, err, types.ErrNoKeysFound)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := t.Context()

	s, err := checkpoint.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "billing", sampleProgress(42)))
	require.NoError(t, s.Close())

	s, err = checkpoint.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "billing")
	require.NoError(t, err)
	require.Equal(t, sampleProgress(42), got)
}

func TestKV_DeleteAndKeys(t *testing.T) {
	s := openKV(t)
	ctx := t.Context()

	require.NoError(t, s.Delete(ctx, "billing"))
	require.NoError(t, s.Save(ctx, "billing", sampleProgress(1)))
	require.NoError(t, s.Delete(ctx, "billing"))
	_, err := s.Load(ctx, "billing")
	require.ErrorIs(t, err, types.ErrNoKeysFound)

	_, err = s.Load(ctx, "bad name")
	require.ErrorIs(t, err, types.ErrInvalidParameters)
}

func TestReaderResumesFromSQLite(t *testing.T) {
	c := mqtest.NewCluster()
	c.CreateTopic("orders", 2)
	c.Broker.SetClock(func() int64 { return 1 << 40 })
	for i, ts := range []int64{10, 20, 30, 40} {
		c.Broker.Append("orders", uint32(i%2), ts, []byte("order"))
	}

	path := filepath.Join(t.TempDir(), "progress.db")
	cfg := mqread.TestConfig()
	cfg.Name = "billing"
	cfg.Progress.ResumeOnStart = true
	cfg.Topics = []mqread.TopicConfig{{Name: "orders"}}

	read := func(r *mqread.Reader, n int) []int64 {
		var got []int64
		for range n {
			msg, _, err := r.Read(t.Context(), time.Second)
			require.NoError(t, err)
			got = append(got, msg.Timestamp)
		}

		return got
	}

	s, err := checkpoint.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	first, err := mqread.NewReader(t.Context(), &cfg, c.Admin, c.Pool,
		mqread.WithProgressStore(s), mqread.WithLogger(mqtest.NewTestLogger(t)))
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, read(first, 2))
	require.NoError(t, first.Close())
	require.NoError(t, s.Close())

	s, err = checkpoint.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	defer s.Close()
	second, err := mqread.NewReader(t.Context(), &cfg, c.Admin, c.Pool,
		mqread.WithProgressStore(s), mqread.WithLogger(mqtest.NewTestLogger(t)))
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, []int64{30, 40}, read(second, 2))
}
