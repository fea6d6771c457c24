package lwwmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docloom/collab-sdk/pkg/crdt"
)

func TestNewIsEmptyObject(t *testing.T) {
	r := New()
	assert.Equal(t, map[string]interface{}{}, r.Get())
}

func TestSetAddsAndReplacesFields(t *testing.T) {
	r := New()
	_, err := r.Set(nil, "title", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Get()["title"])

	_, err = r.Set(nil, "title", "world")
	require.NoError(t, err)
	assert.Equal(t, "world", r.Get()["title"])
}

func TestApplyFiresHandlerWithOrigin(t *testing.T) {
	r := New()
	origin := crdt.NewOrigin()

	var gotUpdate []byte
	var gotOrigin crdt.Origin
	r.OnUpdate(func(update []byte, o crdt.Origin) {
		gotUpdate = update
		gotOrigin = o
	})

	update, err := r.Set(origin, "count", 1)
	require.NoError(t, err)
	assert.Equal(t, update, gotUpdate)
	assert.Equal(t, origin, gotOrigin)
}

func TestStateVectorAdvancesWithEachApply(t *testing.T) {
	r := New()
	sv0, err := r.StateVector()
	require.NoError(t, err)

	_, err = r.Set(nil, "a", 1)
	require.NoError(t, err)
	sv1, err := r.StateVector()
	require.NoError(t, err)
	assert.NotEqual(t, sv0, sv1)

	_, err = r.Set(nil, "b", 2)
	require.NoError(t, err)
	sv2, err := r.StateVector()
	require.NoError(t, err)
	assert.NotEqual(t, sv1, sv2)
}

func TestEncodeStateRoundTripsThroughApply(t *testing.T) {
	r := New()
	_, err := r.Set(nil, "title", "hello")
	require.NoError(t, err)
	_, err = r.Set(nil, "count", 3)
	require.NoError(t, err)

	snapshot, err := r.EncodeState()
	require.NoError(t, err)

	fresh := New()
	require.NoError(t, fresh.Apply(snapshot, crdt.OriginSync))
	assert.Equal(t, r.Get(), fresh.Get())
}

func TestApplyRejectsMalformedPatch(t *testing.T) {
	r := New()
	err := r.Apply([]byte("not json"), nil)
	assert.Error(t, err)
}

func TestTransactDelegatesToFn(t *testing.T) {
	r := New()
	origin := crdt.NewOrigin()
	called := false
	err := r.Transact(origin, func() error {
		called = true
		_, err := r.Set(origin, "k", "v")
		return err
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "v", r.Get()["k"])
}

func TestCloseIsNoop(t *testing.T) {
	r := New()
	assert.NoError(t, r.Close())
}

var _ crdt.Handle = (*Replica)(nil)
