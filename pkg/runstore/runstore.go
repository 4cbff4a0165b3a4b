package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/types"
)

var (
	bucketRuns  = []byte("runs")
	bucketTasks = []byte("tasks")
)

// Store journals workflow runs and terminal operation tasks in a
// local BoltDB file so runs are inspectable after the process exits
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewStore opens (creating if needed) the run database in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: log.WithComponent("runstore")}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// PutRun upserts a run record
func (s *Store) PutRun(rec *types.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// GetRun returns a run record by id
func (s *Store) GetRun(id string) (*types.RunRecord, error) {
	var rec types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run not found: %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns all run records, most recent first
func (s *Store) ListRuns() ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(k, v []byte) error {
			var rec types.RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			runs = append(runs, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// PutTask upserts a task record
func (s *Store) PutTask(task *types.OperationTask) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

// GetTask returns a task record by id
func (s *Store) GetTask(id string) (*types.OperationTask, error) {
	var task types.OperationTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasksByContainer returns task records for one container
func (s *Store) ListTasksByContainer(containerID string) ([]*types.OperationTask, error) {
	var tasks []*types.OperationTask
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.OperationTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.ContainerID == containerID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// RecordRun implements the workflow engine's run journal. Journaling
// is best-effort; failures are logged, never surfaced.
func (s *Store) RecordRun(rec *types.RunRecord) {
	if err := s.PutRun(rec); err != nil {
		s.logger.Error().Err(err).Str("run_id", rec.ID).Msg("Failed to journal run")
	}
}

// RecordTask implements the queue's terminal-task journal
func (s *Store) RecordTask(task *types.OperationTask) {
	if err := s.PutTask(task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to journal task")
	}
}
