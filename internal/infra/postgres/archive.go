// Package postgres は終端ジョブのPostgreSQLアーカイブを提供します。
// ライブなジョブ状態はmemstoreが持ち、ここには終端後の不変レコードのみが入る。
// スキーマは schema.sql を参照。
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
	"github.com/VolodymyrStetsenko/rukh/internal/core/finding"
	"github.com/VolodymyrStetsenko/rukh/internal/core/synthesis"
)

// Archive はanalysis.Archiverのpgx実装です
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive は新しいArchiveを作成します
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// コンパイル時の型チェック
var (
	_ analysis.Archiver      = (*Archive)(nil)
	_ analysis.ArchiveReader = (*Archive)(nil)
)

// ArchiveJob は終端ジョブと検出結果・テスト成果物を1トランザクションで保存します
func (a *Archive) ArchiveJob(ctx context.Context, job *analysis.Job, findings []*finding.Finding, artifacts []*synthesis.TestArtifact) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	phases, err := json.Marshal(job.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_jobs (
			id, artifact_ref, status, fail_reason, partial_failure,
			options, phases, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.ArtifactRef, string(job.Status), job.FailReason, job.PartialFailure,
		options, phases, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for _, f := range findings {
		location, merr := json.Marshal(f.Location)
		if merr != nil {
			return fmt.Errorf("failed to marshal location: %w", merr)
		}
		phaseList, merr := json.Marshal(f.SourcePhases)
		if merr != nil {
			return fmt.Errorf("failed to marshal source phases: %w", merr)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO findings (
				id, job_id, severity, confidence, title, description,
				location, classifier, source_phases, code_snippet, remediation, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id, job_id) DO NOTHING`,
			f.ID, job.ID, string(f.Severity), string(f.Confidence), f.Title, f.Description,
			location, f.Classifier, phaseList, f.CodeSnippet, f.Remediation, f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
		}
	}

	for _, art := range artifacts {
		_, err = tx.Exec(ctx, `
			INSERT INTO test_artifacts (id, job_id, finding_id, kind, content_ref)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id, job_id) DO NOTHING`,
			art.ID, job.ID, art.FindingID, string(art.Kind), art.ContentRef,
		)
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", art.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListArchivedJobs はアーカイブ済みジョブの一覧を新しい順で返します
func (a *Archive) ListArchivedJobs(ctx context.Context, limit int) ([]*analysis.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.pool.Query(ctx, `
		SELECT id, artifact_ref, status, fail_reason, partial_failure,
		       options, phases, created_at, updated_at
		FROM analysis_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*analysis.Job
	for rows.Next() {
		var (
			job     analysis.Job
			status  string
			options []byte
			phases  []byte
		)
		if err := rows.Scan(&job.ID, &job.ArtifactRef, &status, &job.FailReason, &job.PartialFailure,
			&options, &phases, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Status = analysis.JobStatus(status)
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
		if err := json.Unmarshal(phases, &job.Phases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal phases: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
