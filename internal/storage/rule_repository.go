package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ruleColumns = `id, name, search_query, locations, max_bid_price, max_time_left_minutes,
	check_interval_minutes, is_active, last_checked, created_at, updated_at`

// PostgresRuleRepository handles crawler rule persistence
type PostgresRuleRepository struct {
	db *PostgresDB
}

// NewPostgresRuleRepository creates a new rule repository
func NewPostgresRuleRepository(db *PostgresDB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

func scanRule(row rowScanner) (*models.CrawlerRule, error) {
	var rule models.CrawlerRule
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.SearchQuery,
		&rule.Locations,
		&rule.MaxBidPrice,
		&rule.MaxTimeLeftMinutes,
		&rule.CheckIntervalMinutes,
		&rule.IsActive,
		&rule.LastChecked,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rule.Locations == nil {
		rule.Locations = []string{}
	}
	return &rule, nil
}

// CreateRule inserts a new rule, assigning an id and timestamps when missing
func (r *PostgresRuleRepository) CreateRule(ctx context.Context, rule *models.CrawlerRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Locations == nil {
		rule.Locations = []string{}
	}

	query := `
		INSERT INTO crawler_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.SearchQuery,
		rule.Locations,
		rule.MaxBidPrice,
		rule.MaxTimeLeftMinutes,
		rule.CheckIntervalMinutes,
		rule.IsActive,
		rule.LastChecked,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("create rule", err)
	}
	return nil
}

// UpdateRule overwrites the user-editable fields of an existing rule
func (r *PostgresRuleRepository) UpdateRule(ctx context.Context, rule *models.CrawlerRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	if rule.Locations == nil {
		rule.Locations = []string{}
	}

	query := `
		UPDATE crawler_rules SET
			name = $2,
			search_query = $3,
			locations = $4,
			max_bid_price = $5,
			max_time_left_minutes = $6,
			check_interval_minutes = $7,
			is_active = $8,
			updated_at = $9
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.SearchQuery,
		rule.Locations,
		rule.MaxBidPrice,
		rule.MaxTimeLeftMinutes,
		rule.CheckIntervalMinutes,
		rule.IsActive,
		rule.UpdatedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("update rule", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("rule", rule.ID)
	}
	return nil
}

// DeleteRule removes a rule
func (r *PostgresRuleRepository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM crawler_rules WHERE id = $1`, id)
	if err != nil {
		return errors.NewDatabaseError("delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("rule", id)
	}
	return nil
}

// GetRule retrieves a rule by id, or nil when absent
func (r *PostgresRuleRepository) GetRule(ctx context.Context, id string) (*models.CrawlerRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM crawler_rules WHERE id = $1`

	rule, err := scanRule(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get rule", err)
	}
	return rule, nil
}

// ListRules returns every rule, oldest first
func (r *PostgresRuleRepository) ListRules(ctx context.Context) ([]*models.CrawlerRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM crawler_rules ORDER BY created_at, id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("list rules", err)
	}
	defer rows.Close()

	rules := []*models.CrawlerRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate rules", err)
	}
	return rules, nil
}

// MarkRuleChecked records the time of the rule's latest check
func (r *PostgresRuleRepository) MarkRuleChecked(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `UPDATE crawler_rules SET last_checked = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.NewDatabaseError("mark rule checked", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("rule", id)
	}
	return nil
}
