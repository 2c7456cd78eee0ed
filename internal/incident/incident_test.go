package incident

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleIncident(customer string, at time.Time) Incident {
	return Incident{
		Timestamp:       at,
		RequestID:       "req-1",
		CustomerID:      customer,
		RobotType:       "franka_panda",
		EnvironmentType: "kitchen",
		ViolatedChecks: []ViolatedCheck{
			{Name: "workspace_bounds", Severity: "high", Confidence: 1, Explanation: "x=2.0000 outside [-0.6000, 0.6000]"},
		},
		Severity:    "high",
		ActionTaken: ActionReject,
		SafetyScore: 0.85,
		RawAction:   []float64{2, 0, 0, 0, 0, 0, 0.5},
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, sampleIncident("acme", base)))
	clamped := sampleIncident("acme", base.Add(time.Minute))
	clamped.ActionTaken = ActionClamp
	clamped.Severity = "low"
	clamped.RawAction = []float64{0.61, 0, 0, 0, 0, 0, 0.5}
	clamped.ClampedAction = []float64{0.6, 0, 0, 0, 0, 0, 0.5}
	require.NoError(t, s.Record(ctx, clamped))
	require.NoError(t, s.Record(ctx, sampleIncident("globex", base.Add(2*time.Minute))))

	got, err := s.List(ctx, Filter{CustomerID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ActionClamp, got[0].ActionTaken)
	require.Equal(t, []float64{0.6, 0, 0, 0, 0, 0, 0.5}, got[0].ClampedAction)
	require.Equal(t, ActionReject, got[1].ActionTaken)
	require.Nil(t, got[1].ClampedAction)
	require.Equal(t, []string{"workspace_bounds"}, got[1].CheckNames())
	require.True(t, got[1].Timestamp.Equal(base))
	require.NotEmpty(t, got[1].ID)

	all, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "globex", all[0].CustomerID)

	one, ok, err := s.Get(ctx, got[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, got[0].ID, one.ID)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteIncidentsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	inc := sampleIncident("acme", time.Now())
	inc.ID = "fixed-id"
	require.NoError(t, s.Record(ctx, inc))

	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET severity = 'low' WHERE id = ?`, inc.ID)
	require.ErrorContains(t, err, "immutable")
	_, err = s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = ?`, inc.ID)
	require.Error(t, err)

	err = s.Record(ctx, inc)
	var se *StorageError
	require.True(t, errors.As(err, &se))
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "incidents.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, sampleIncident("acme", time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRecordRejectsIncompleteIncident(t *testing.T) {
	s := openTestStore(t)
	inc := sampleIncident("", time.Now())
	err := s.Record(context.Background(), inc)
	require.ErrorContains(t, err, "customer id is required")
}

func TestFileRecorderAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "incidents.jsonl")
	r, err := NewFileRecorder(path)
	require.NoError(t, err)

	require.NoError(t, r.Record(context.Background(), sampleIncident("acme", time.Now())))
	require.NoError(t, r.Record(context.Background(), sampleIncident("globex", time.Now())))
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var customers []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var inc Incident
		require.NoError(t, json.Unmarshal(sc.Bytes(), &inc))
		require.NotEmpty(t, inc.ID)
		customers = append(customers, inc.CustomerID)
	}
	require.Equal(t, []string{"acme", "globex"}, customers)
}

type recorderFunc func(context.Context, Incident) error

func (f recorderFunc) Record(ctx context.Context, inc Incident) error { return f(ctx, inc) }

func TestMultiTriesEveryRecorderWithSharedID(t *testing.T) {
	var ids []string
	ok := recorderFunc(func(_ context.Context, inc Incident) error {
		ids = append(ids, inc.ID)
		return nil
	})
	failing := recorderFunc(func(context.Context, Incident) error {
		return &StorageError{Op: "record", Err: errors.New("disk full")}
	})

	err := Multi{failing, ok, ok}.Record(context.Background(), sampleIncident("acme", time.Now()))
	var se *StorageError
	require.True(t, errors.As(err, &se))
	require.Len(t, ids, 2)
	require.Equal(t, ids[0], ids[1])
	require.NotEmpty(t, ids[0])
}

func TestFilterLimit(t *testing.T) {
	require.Equal(t, DefaultListLimit, Filter{}.limit())
	require.Equal(t, MaxListLimit, Filter{Limit: 1 << 20}.limit())
	require.Equal(t, 7, Filter{Limit: 7}.limit())
}
