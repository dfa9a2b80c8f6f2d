package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

func TestInsertAndMarkUploaded(t *testing.T) {
	path := t.TempDir() + "/detections.db"
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	id, err := store.Insert(context.Background(), model.AlertEvent{
		Timestamp:     time.Now(),
		VehicleType:   model.VehicleTypeConstruction,
		DetectedClass: "excavator",
		Status:        model.StatusRegistered,
		TrackID:       1,
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(context.Background(), id, 4711))

	count, err := store.RowCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteOlderThan(t *testing.T) {
	path := t.TempDir() + "/detections.db"
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Insert(context.Background(), model.AlertEvent{Timestamp: time.Now().Add(-48 * time.Hour), TrackID: 1})
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), model.AlertEvent{Timestamp: time.Now(), TrackID: 2})
	require.NoError(t, err)

	deleted, err := store.DeleteOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	count, err := store.RowCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteOldestExcess(t *testing.T) {
	path := t.TempDir() + "/detections.db"
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := store.Insert(context.Background(), model.AlertEvent{Timestamp: base.Add(time.Duration(i) * time.Second), TrackID: int64(i)})
		require.NoError(t, err)
	}
	deleted, err := store.DeleteOldestExcess(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	count, err := store.RowCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
