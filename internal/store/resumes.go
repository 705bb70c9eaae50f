package store

import (
	"context"

	"trade-ledger/internal/models"
)

// InsertResume inserts a resume row whose IDs have already been allocated
func (t *Tx) InsertResume(ctx context.Context, r *models.Resume) error {
	query := `
		INSERT INTO resume (resume_id, task_id, resume_url, task_status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return t.tx.GetContext(ctx, &r.CreatedAt, query, r.ResumeID, r.TaskID, r.ResumeURL, r.TaskStatus)
}

// ListResumes returns uploaded resumes, newest first
func (s *Store) ListResumes(ctx context.Context) ([]models.Resume, error) {
	resumes := []models.Resume{}
	err := s.db.SelectContext(ctx, &resumes,
		"SELECT resume_id, task_id, resume_url, task_status, created_at FROM resume ORDER BY created_at DESC, resume_id DESC")
	return resumes, err
}

// DashboardStats reads the admin counters without locking. Values may lag
// concurrent writers.
func (s *Store) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM product WHERE available_stock > 0) AS available_products,
			(SELECT COUNT(*) FROM trading WHERE is_approved = 'pending') AS pending_trade_approvals,
			(SELECT COUNT(*) FROM wallet_transaction WHERE status = 'pending') AS pending_wallet_approvals,
			(SELECT COUNT(*) FROM resume) AS uploaded_resumes,
			(SELECT COUNT(*) FROM resume WHERE task_status = $1) AS unassigned_resumes`,
		models.TaskNotAssigned)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
