package twin

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/c360/twinflow/errors"
)

func TestStore_ModifyBumpsRevision(t *testing.T) {
	clk := testclock.NewFakePassiveClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(clk)

	first, err := store.Modify("pump-1", map[string]any{"rpm": 1200, "state": "on"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Revision)
	assert.Equal(t, clk.Now(), first.Modified)

	clk.SetTime(clk.Now().Add(time.Minute))
	second, err := store.Modify("pump-1", map[string]any{"rpm": 900, "state": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Revision)
	assert.Equal(t, map[string]any{"rpm": 900}, second.Attributes)
	assert.Equal(t, clk.Now(), second.Modified)

	assert.Equal(t, map[string]any{"rpm": 1200, "state": "on"}, first.Attributes, "earlier result unaffected")
}

func TestStore_ModifyRequiresID(t *testing.T) {
	store := NewStore(nil)
	_, err := store.Modify(" ", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingEntityID)
	assert.True(t, errors.IsInvalid(err))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store := NewStore(nil)
	_, err := store.Modify("valve-3", map[string]any{"open": true})
	require.NoError(t, err)

	got, ok := store.Get("valve-3")
	require.True(t, ok)
	got.Attributes["open"] = false

	again, _ := store.Get("valve-3")
	assert.Equal(t, true, again.Attributes["open"])

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStore_DeleteAndPut(t *testing.T) {
	store := NewStore(nil)
	_, err := store.Modify("a", nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete("a"))
	assert.ErrorIs(t, store.Delete("a"), ErrThingNotFound)
	assert.Equal(t, 0, store.Len())

	store.Put(Thing{ID: "b", Revision: 7})
	got, ok := store.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Revision)
}

func TestStore_SnapshotSorted(t *testing.T) {
	store := NewStore(nil)
	for _, id := range []string{"sensor-9", "boiler", "sensor-10", "chiller"} {
		_, err := store.Modify(id, nil)
		require.NoError(t, err)
	}
	_, err := store.Modify("chiller", map[string]any{"temp": 4})
	require.NoError(t, err)

	want := []Revision{
		{ThingID: "boiler", Revision: 1},
		{ThingID: "chiller", Revision: 2},
		{ThingID: "sensor-10", Revision: 1},
		{ThingID: "sensor-9", Revision: 1},
	}
	if diff := cmp.Diff(want, store.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ConcurrentModify(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = store.Modify(fmt.Sprintf("thing-%d", j%4), map[string]any{"writer": i})
				_ = store.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, rev := range store.Snapshot() {
		total += rev.Revision
	}
	assert.Equal(t, int64(800), total)
}

func TestStore_Apply(t *testing.T) {
	store := NewStore(nil)

	modified, err := store.Apply(Command{Op: OpModify, ThingID: "door", Attributes: map[string]any{"locked": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified.Revision)

	retrieved, err := store.Apply(Command{Op: OpRetrieve, ThingID: "door"})
	require.NoError(t, err)
	assert.Equal(t, modified.Attributes, retrieved.Attributes)

	deleted, err := store.Apply(Command{Op: OpDelete, ThingID: "door"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted.Revision)

	_, err = store.Apply(Command{Op: OpRetrieve, ThingID: "door"})
	assert.ErrorIs(t, err, ErrThingNotFound)
}

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"valid", Command{Op: OpModify, ThingID: "x"}, nil},
		{"missing id", Command{Op: OpModify}, errors.ErrMissingEntityID},
		{"unknown op", Command{Op: "explode", ThingID: "x"}, errors.ErrInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
