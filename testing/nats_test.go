package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.NotNil(t, nc)
	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(1*time.Second))

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	require.NotNil(t, js)
}

func TestStartEmbeddedNATS_ParallelTests(t *testing.T) {
	t.Parallel()

	for range 3 {
		t.Run("parallel", func(t *testing.T) {
			t.Parallel()

			_, nc := StartEmbeddedNATS(t)
			require.True(t, nc.IsConnected())
		})
	}
}

func TestCreateJetStreamKV(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)
	kv := CreateJetStreamKV(t, nc, "mq-test")

	_, err := kv.Put(t.Context(), "topic.orders", []byte("{}"))
	require.NoError(t, err)

	entry, err := kv.Get(t.Context(), "topic.orders")
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), entry.Value())
}
