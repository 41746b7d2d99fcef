package store

import (
	"context"
	"fmt"

	"github.com/nao1215/notedigest/pkg/audit"
)

// AppendAudit はジョブ監査レコードを追記する。
func (s *Store) AppendAudit(ctx context.Context, r *audit.Record) error {
	var details any
	if len(r.Details) > 0 {
		details = string(r.Details)
	}

	query := fmt.Sprintf(
		"INSERT INTO job_audit_logs (id, job_name, status, message, error_details, details, created_at) VALUES (%s)",
		s.dialect.placeholders(1, 7),
	)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, query,
		r.ID, r.JobName, string(r.Status), r.Message, r.ErrorDetail, details, s.dialect.encodeTime(r.CreatedAt),
	); err != nil {
		return fmt.Errorf("監査ログの書き込みに失敗: %w", err)
	}
	return nil
}

// ListAudit は指定したジョブの監査レコードを新しい順に最大limit件返す。
func (s *Store) ListAudit(ctx context.Context, jobName string, limit int) ([]audit.Record, error) {
	query := fmt.Sprintf(
		"SELECT id, job_name, status, message, error_details, details, created_at FROM job_audit_logs"+
			" WHERE job_name = %s ORDER BY created_at DESC, id DESC LIMIT %s",
		s.dialect.placeholder(1), s.dialect.placeholder(2),
	)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		var (
			r         audit.Record
			status    string
			errDetail *string
			details   []byte
			createdAt any
		)
		if err := rows.Scan(&r.ID, &r.JobName, &status, &r.Message, &errDetail, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
		}
		if r.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, fmt.Errorf("監査ログ %s の作成日時が不正: %w", r.ID, err)
		}
		r.Status = audit.Status(status)
		r.ErrorDetail = errDetail
		if len(details) > 0 {
			r.Details = details
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
	}
	return records, nil
}
