// Package memstore はライブなジョブ状態のインメモリ保管を提供します。
// ジョブの生成から終端までの真実はここにあり、終端後の永続化は
// postgresアーカイブが別途担う。
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
)

// Store はanalysis.Storeのインメモリ実装です。
// マップ全体をRWMutexで保護する。レコード内部の排他は各レコード自身が持つため、
// ここでの保護は登録・参照の整合性のみを対象とする。
type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*analysis.JobRecord
}

// New は新しいStoreを作成します
func New() *Store {
	return &Store{
		jobs: make(map[uuid.UUID]*analysis.JobRecord),
	}
}

// コンパイル時の型チェック
var _ analysis.Store = (*Store)(nil)

// Create は新規ジョブを登録する
func (s *Store) Create(ctx context.Context, rec *analysis.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[rec.Job.ID]; ok {
		return fmt.Errorf("job %s already exists", rec.Job.ID)
	}
	s.jobs[rec.Job.ID] = rec
	return nil
}

// Get はジョブIDでレコードを引く
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*analysis.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, analysis.ErrJobNotFound
	}
	return rec, nil
}

// List は全レコードを作成時刻順で返す
func (s *Store) List(ctx context.Context) ([]*analysis.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*analysis.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Job.CreatedAt.Before(recs[j].Job.CreatedAt)
	})
	return recs, nil
}
