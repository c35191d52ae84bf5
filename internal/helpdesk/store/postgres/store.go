// Package postgres persists issues, experts and ratings in PostgreSQL via
// pgx. Issue updates are conditional on the stored version, which is the
// cross-process half of the per-issue serialization contract.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

// Store implements ports.Repository over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const issueColumns = `id, title, description, category, urgency, status, region,
	submitted_by, assigned_expert, rejected_by, skipped_by, reassignment_log,
	done_by_submitter, done_by_expert, resolution_notes,
	created_at, resolved_at, closed_at, version`

func (s *Store) InsertIssue(ctx context.Context, issue models.Issue) error {
	log, err := json.Marshal(issue.ReassignmentLog)
	if err != nil {
		return fmt.Errorf("marshal reassignment log: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		issue.ID, issue.Title, issue.Description, issue.Category, issue.Urgency,
		issue.Status, issue.Region, issue.SubmittedBy, issue.AssignedExpert,
		issue.RejectedBy, issue.SkippedBy, log,
		issue.DoneBySubmitter, issue.DoneByExpert, issue.ResolutionNotes,
		issue.CreatedAt, issue.ResolvedAt, issue.ClosedAt, issue.Version,
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *Store) FindIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	issue, err := scanIssue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.CodeNotFound, "issue %s not found", id)
		}
		return nil, fmt.Errorf("find issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *Store) UpdateIssue(ctx context.Context, id string, expectedVersion int64, upd models.IssueUpdate) error {
	sets := []string{"version = version + 1"}
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if upd.Status != nil {
		add("status = $%d", *upd.Status)
	}
	if upd.ClearAssignedExpert {
		sets = append(sets, "assigned_expert = NULL")
	} else if upd.AssignedExpert != nil {
		add("assigned_expert = $%d", *upd.AssignedExpert)
	}
	if upd.AppendRejectedBy != nil {
		args = append(args, *upd.AppendRejectedBy)
		n := len(args)
		sets = append(sets, fmt.Sprintf(
			"rejected_by = array_append(array_remove(rejected_by, $%d), $%d)", n, n))
	}
	if upd.AppendSkippedBy != nil {
		args = append(args, *upd.AppendSkippedBy)
		n := len(args)
		sets = append(sets, fmt.Sprintf(
			"skipped_by = array_append(array_remove(skipped_by, $%d), $%d)", n, n))
	}
	if upd.AppendReassignment != nil {
		entry, err := json.Marshal(upd.AppendReassignment)
		if err != nil {
			return fmt.Errorf("marshal reassignment entry: %w", err)
		}
		add("reassignment_log = reassignment_log || $%d::jsonb", entry)
	}
	if upd.DoneBySubmitter != nil {
		add("done_by_submitter = $%d", *upd.DoneBySubmitter)
	}
	if upd.DoneByExpert != nil {
		add("done_by_expert = $%d", *upd.DoneByExpert)
	}
	if upd.ResolutionNotes != nil {
		add("resolution_notes = $%d", *upd.ResolutionNotes)
	}
	if upd.ResolvedAt != nil {
		add("resolved_at = $%d", *upd.ResolvedAt)
	}
	if upd.ClosedAt != nil {
		add("closed_at = $%d", *upd.ClosedAt)
	}

	args = append(args, id)
	idArg := len(args)
	args = append(args, expectedVersion)
	versionArg := len(args)

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE issues SET %s WHERE id = $%d AND version = $%d`,
		strings.Join(sets, ", "), idArg, versionArg), args...)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a vanished issue from a lost optimistic race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM issues WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check issue %s: %w", id, err)
		}
		if !exists {
			return fault.Newf(fault.CodeNotFound, "issue %s not found", id)
		}
		return fault.Newf(fault.CodeConflict, "issue %s was modified concurrently", id)
	}
	return nil
}

func (s *Store) DeleteIssue(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete issue %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.CodeNotFound, "issue %s not found", id)
	}
	return nil
}

func (s *Store) ListIssues(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	where, args := issueWhere(filter)
	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM issues`+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var out []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, *issue)
	}
	return out, rows.Err()
}

func (s *Store) CountIssues(ctx context.Context, filter models.IssueFilter) (int, error) {
	where, args := issueWhere(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issues`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

const expertColumns = `id, region, verified, available, active_issues, trust_score,
	trust_votes, tags, max_concurrent, verification_notes, created_at`

func (s *Store) FindExpert(ctx context.Context, id string) (*models.Expert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+expertColumns+` FROM experts WHERE id = $1`, id)
	expert, err := scanExpert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.CodeNotFound, "expert %s not found", id)
		}
		return nil, fmt.Errorf("find expert %s: %w", id, err)
	}
	return expert, nil
}

func (s *Store) ListExperts(ctx context.Context, filter models.ExpertFilter) ([]models.Expert, error) {
	where, args := expertWhere(filter)
	rows, err := s.pool.Query(ctx,
		`SELECT `+expertColumns+` FROM experts`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()

	var out []models.Expert
	for rows.Next() {
		expert, err := scanExpert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expert: %w", err)
		}
		out = append(out, *expert)
	}
	return out, rows.Err()
}

func (s *Store) CountExperts(ctx context.Context, filter models.ExpertFilter) (int, error) {
	where, args := expertWhere(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM experts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count experts: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateExpert(ctx context.Context, id string, upd models.ExpertUpdate) error {
	sets := []string{}
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.Available != nil {
		add("available = $%d", *upd.Available)
	}
	if upd.Verified != nil {
		add("verified = $%d", *upd.Verified)
	}
	if upd.VerificationNotes != nil {
		add("verification_notes = $%d", *upd.VerificationNotes)
	}
	if upd.TrustScore != nil {
		add("trust_score = $%d", *upd.TrustScore)
	}
	if upd.TrustVotesDelta != 0 {
		add("trust_votes = trust_votes + $%d", upd.TrustVotesDelta)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE experts SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("update expert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.CodeNotFound, "expert %s not found", id)
	}
	return nil
}

func (s *Store) AdjustActiveIssues(ctx context.Context, id string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experts SET active_issues = GREATEST(0, active_issues + $1) WHERE id = $2`,
		delta, id)
	if err != nil {
		return fmt.Errorf("adjust active issues for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.CodeNotFound, "expert %s not found", id)
	}
	return nil
}

func (s *Store) InsertRating(ctx context.Context, rating models.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratings (id, issue_id, expert_id, rater_id, score, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rating.ID, rating.IssueID, rating.ExpertID, rating.RaterID,
		rating.Score, rating.Comment, rating.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fault.Newf(fault.CodeValidation, "issue %s already rated by %s", rating.IssueID, rating.RaterID)
		}
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (s *Store) HasRating(ctx context.Context, issueID, raterID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ratings WHERE issue_id = $1 AND rater_id = $2)`,
		issueID, raterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rating: %w", err)
	}
	return exists, nil
}

func issueWhere(f models.IssueFilter) (string, []any) {
	var conds []string
	var args []any
	if f.SubmittedBy != nil {
		args = append(args, *f.SubmittedBy)
		conds = append(conds, fmt.Sprintf("submitted_by = $%d", len(args)))
	}
	if f.AssignedExpert != nil {
		args = append(args, *f.AssignedExpert)
		conds = append(conds, fmt.Sprintf("assigned_expert = $%d", len(args)))
	}
	if f.Region != nil {
		args = append(args, *f.Region)
		conds = append(conds, fmt.Sprintf("region = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func expertWhere(f models.ExpertFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Region != nil {
		args = append(args, *f.Region)
		conds = append(conds, fmt.Sprintf("region = $%d", len(args)))
	}
	if f.Verified != nil {
		args = append(args, *f.Verified)
		conds = append(conds, fmt.Sprintf("verified = $%d", len(args)))
	}
	if f.Available != nil {
		args = append(args, *f.Available)
		conds = append(conds, fmt.Sprintf("available = $%d", len(args)))
	}
	if len(f.ExcludeIDs) > 0 {
		args = append(args, f.ExcludeIDs)
		conds = append(conds, fmt.Sprintf("id <> ALL($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var issue models.Issue
	var log []byte
	err := row.Scan(
		&issue.ID, &issue.Title, &issue.Description, &issue.Category, &issue.Urgency,
		&issue.Status, &issue.Region, &issue.SubmittedBy, &issue.AssignedExpert,
		&issue.RejectedBy, &issue.SkippedBy, &log,
		&issue.DoneBySubmitter, &issue.DoneByExpert, &issue.ResolutionNotes,
		&issue.CreatedAt, &issue.ResolvedAt, &issue.ClosedAt, &issue.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &issue.ReassignmentLog); err != nil {
			return nil, fmt.Errorf("decode reassignment log: %w", err)
		}
	}
	return &issue, nil
}

func scanExpert(row rowScanner) (*models.Expert, error) {
	var expert models.Expert
	err := row.Scan(
		&expert.ID, &expert.Region, &expert.Verified, &expert.Available,
		&expert.ActiveIssues, &expert.TrustScore, &expert.TrustVotes,
		&expert.Tags, &expert.MaxConcurrent, &expert.VerificationNotes,
		&expert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &expert, nil
}
