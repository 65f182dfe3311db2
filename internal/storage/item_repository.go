package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/auction-scanner/internal/errors"
	"github.com/auction-scanner/internal/models"
	"github.com/auction-scanner/internal/types"
	"github.com/jackc/pgx/v5"
)

const itemColumns = `item_id, location_name, auction_id, title, description, condition, image_url,
	msrp, current_bid, end_date, status, source_url, fetched_at, dom_hash,
	msrp_text, current_bid_text, location_text, item_id_text`

// PostgresStore is the Postgres-backed Store.
type PostgresStore struct {
	db *PostgresDB
}

// NewPostgresStore creates a new item store over db
func NewPostgresStore(db *PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.ItemRecord, error) {
	var rec models.ItemRecord
	var status string
	err := row.Scan(
		&rec.ItemID,
		&rec.LocationName,
		&rec.AuctionID,
		&rec.Title,
		&rec.Description,
		&rec.Condition,
		&rec.ImageURL,
		&rec.MSRP,
		&rec.CurrentBid,
		&rec.EndDate,
		&status,
		&rec.SourceURL,
		&rec.FetchedAt,
		&rec.DomHash,
		&rec.MSRPText,
		&rec.CurrentBidText,
		&rec.LocationText,
		&rec.ItemIDText,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = types.ItemStatus(status)
	return &rec, nil
}

func itemArgs(rec *models.ItemRecord) []any {
	return []any{
		rec.ItemID,
		rec.LocationName,
		rec.AuctionID,
		rec.Title,
		rec.Description,
		rec.Condition,
		rec.ImageURL,
		rec.MSRP,
		rec.CurrentBid,
		rec.EndDate,
		string(rec.Status),
		rec.SourceURL,
		rec.FetchedAt,
		rec.DomHash,
		rec.MSRPText,
		rec.CurrentBidText,
		rec.LocationText,
		rec.ItemIDText,
	}
}

func collectItems(rows pgx.Rows) ([]*models.ItemRecord, error) {
	defer rows.Close()

	items := []*models.ItemRecord{}
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// UpsertItem inserts or overwrites the (item_id, location_name) row.
// Every mutable column is replaced; the last write wins.
func (s *PostgresStore) UpsertItem(ctx context.Context, rec *models.ItemRecord) error {
	if err := ValidateItem(rec); err != nil {
		return err
	}

	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (item_id, location_name) DO UPDATE SET
			auction_id = EXCLUDED.auction_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			condition = EXCLUDED.condition,
			image_url = EXCLUDED.image_url,
			msrp = EXCLUDED.msrp,
			current_bid = EXCLUDED.current_bid,
			end_date = EXCLUDED.end_date,
			status = EXCLUDED.status,
			source_url = EXCLUDED.source_url,
			fetched_at = EXCLUDED.fetched_at,
			dom_hash = EXCLUDED.dom_hash,
			msrp_text = EXCLUDED.msrp_text,
			current_bid_text = EXCLUDED.current_bid_text,
			location_text = EXCLUDED.location_text,
			item_id_text = EXCLUDED.item_id_text
	`

	if _, err := s.db.Pool().Exec(ctx, query, itemArgs(storedCopy(rec))...); err != nil {
		return errors.NewDatabaseError("upsert item", err)
	}
	return nil
}

// GetItem returns the keyed row or nil when absent
func (s *PostgresStore) GetItem(ctx context.Context, itemID, locationName string) (*models.ItemRecord, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE item_id = $1 AND location_name = $2`

	rec, err := scanItem(s.db.Pool().QueryRow(ctx, query, itemID, locationName))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get item", err)
	}
	return rec, nil
}

// SearchItems runs a case-insensitive substring search over active rows
func (s *PostgresStore) SearchItems(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	filter = filter.Normalized()

	conditions := []string{"status = 'active'"}
	args := []any{}
	addArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Query != "" {
		p := addArg(likePattern(filter.Query))
		conditions = append(conditions, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}
	if filter.Location != "" {
		conditions = append(conditions, "location_name = "+addArg(filter.Location))
	}
	if filter.MinBid != nil {
		conditions = append(conditions, "current_bid >= "+addArg(*filter.MinBid))
	}
	if filter.MaxBid != nil {
		conditions = append(conditions, "current_bid <= "+addArg(*filter.MaxBid))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM items WHERE "+where, args...).Scan(&total); err != nil {
		return nil, errors.NewDatabaseError("count search results", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM items
		WHERE %s
		ORDER BY current_bid DESC NULLS LAST, item_id, location_name
		LIMIT %s OFFSET %s`,
		itemColumns, where, addArg(filter.Limit), addArg(filter.Offset()))

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewDatabaseError("search items", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, errors.NewDatabaseError("search items", err)
	}

	return &SearchResult{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// GetActiveItems returns active rows, optionally restricted to one location
func (s *PostgresStore) GetActiveItems(ctx context.Context, locationName string) ([]*models.ItemRecord, error) {
	query := `SELECT ` + itemColumns + ` FROM items
		WHERE status = 'active' AND ($1::text = '' OR location_name = $1)
		ORDER BY end_date NULLS LAST, item_id, location_name`

	rows, err := s.db.Pool().Query(ctx, query, locationName)
	if err != nil {
		return nil, errors.NewDatabaseError("get active items", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, errors.NewDatabaseError("get active items", err)
	}
	return items, nil
}

// GetItemsEndingSoon returns active rows whose end date falls in the next hours
func (s *PostgresStore) GetItemsEndingSoon(ctx context.Context, hours int) ([]*models.ItemRecord, error) {
	query := `SELECT ` + itemColumns + ` FROM items
		WHERE status = 'active'
		  AND end_date > NOW()
		  AND end_date <= NOW() + make_interval(hours => $1)
		ORDER BY end_date, item_id, location_name`

	rows, err := s.db.Pool().Query(ctx, query, hours)
	if err != nil {
		return nil, errors.NewDatabaseError("get items ending soon", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, errors.NewDatabaseError("get items ending soon", err)
	}
	return items, nil
}

// UpdateItemStatus sets the status of one row without touching other columns
func (s *PostgresStore) UpdateItemStatus(ctx context.Context, itemID, locationName string, status types.ItemStatus) error {
	if !status.Valid() {
		return errors.NewMalformedRecordError("invalid status", map[string]interface{}{"status": string(status)})
	}

	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE items SET status = $3 WHERE item_id = $1 AND location_name = $2`,
		itemID, locationName, string(status))
	if err != nil {
		return errors.NewDatabaseError("update item status", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("item", itemID+"@"+locationName)
	}
	return nil
}

// ListOpenItems returns rows that are active or unknown
func (s *PostgresStore) ListOpenItems(ctx context.Context) ([]*models.ItemRecord, error) {
	query := `SELECT ` + itemColumns + ` FROM items
		WHERE status IN ('active', 'unknown')
		ORDER BY item_id, location_name`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("list open items", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, errors.NewDatabaseError("list open items", err)
	}
	return items, nil
}

// ArchiveItem writes the ended snapshot and flips the row to ended in one
// transaction, so readers see the item either open or archived.
func (s *PostgresStore) ArchiveItem(ctx context.Context, rec *models.ItemRecord, endedAt time.Time) (bool, error) {
	if err := ValidateItem(rec); err != nil {
		return false, err
	}
	ended := models.NewEndedAuctionItem(rec, endedAt)

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return false, errors.NewDatabaseError("begin archive transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	insert := `
		INSERT INTO ended_items (` + itemColumnsNoStatus + `, ended_at, final_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (item_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insert, append(endedArgs(&ended.ItemRecord), ended.EndedAt, ended.FinalPrice)...)
	if err != nil {
		return false, errors.NewDatabaseError("insert ended item", err)
	}
	inserted := tag.RowsAffected() == 1

	if _, err := tx.Exec(ctx,
		`UPDATE items SET status = 'ended' WHERE item_id = $1 AND location_name = $2`,
		rec.ItemID, rec.LocationName); err != nil {
		return false, errors.NewDatabaseError("mark item ended", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.NewDatabaseError("commit archive transaction", err)
	}
	return inserted, nil
}

const itemColumnsNoStatus = `item_id, location_name, auction_id, title, description, condition, image_url,
	msrp, current_bid, end_date, source_url, fetched_at, dom_hash,
	msrp_text, current_bid_text, location_text, item_id_text`

func endedArgs(rec *models.ItemRecord) []any {
	return []any{
		rec.ItemID,
		rec.LocationName,
		rec.AuctionID,
		rec.Title,
		rec.Description,
		rec.Condition,
		rec.ImageURL,
		rec.MSRP,
		rec.CurrentBid,
		rec.EndDate,
		rec.SourceURL,
		rec.FetchedAt,
		rec.DomHash,
		rec.MSRPText,
		rec.CurrentBidText,
		rec.LocationText,
		rec.ItemIDText,
	}
}

func scanEnded(row rowScanner) (*models.EndedAuctionItem, error) {
	var ended models.EndedAuctionItem
	rec := &ended.ItemRecord
	err := row.Scan(
		&rec.ItemID,
		&rec.LocationName,
		&rec.AuctionID,
		&rec.Title,
		&rec.Description,
		&rec.Condition,
		&rec.ImageURL,
		&rec.MSRP,
		&rec.CurrentBid,
		&rec.EndDate,
		&rec.SourceURL,
		&rec.FetchedAt,
		&rec.DomHash,
		&rec.MSRPText,
		&rec.CurrentBidText,
		&rec.LocationText,
		&rec.ItemIDText,
		&ended.EndedAt,
		&ended.FinalPrice,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = types.StatusEnded
	return &ended, nil
}

// GetAllEndedItems returns the archive, most recently ended first
func (s *PostgresStore) GetAllEndedItems(ctx context.Context) ([]*models.EndedAuctionItem, error) {
	query := `SELECT ` + itemColumnsNoStatus + `, ended_at, final_price
		FROM ended_items ORDER BY ended_at DESC, item_id`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("get ended items", err)
	}
	defer rows.Close()

	items := []*models.EndedAuctionItem{}
	for rows.Next() {
		ended, err := scanEnded(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("scan ended item", err)
		}
		items = append(items, ended)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate ended items", err)
	}
	return items, nil
}

// GetEndedItem returns one archive entry or nil when absent
func (s *PostgresStore) GetEndedItem(ctx context.Context, itemID string) (*models.EndedAuctionItem, error) {
	query := `SELECT ` + itemColumnsNoStatus + `, ended_at, final_price
		FROM ended_items WHERE item_id = $1`

	ended, err := scanEnded(s.db.Pool().QueryRow(ctx, query, itemID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get ended item", err)
	}
	return ended, nil
}

// CountItems returns the number of rows per status
func (s *PostgresStore) CountItems(ctx context.Context) (map[types.ItemStatus]int, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, errors.NewDatabaseError("count items", err)
	}
	defer rows.Close()

	counts := map[types.ItemStatus]int{
		types.StatusActive:  0,
		types.StatusEnded:   0,
		types.StatusUnknown: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewDatabaseError("scan item count", err)
		}
		counts[types.ItemStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate item counts", err)
	}
	return counts, nil
}

// Ping checks the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() {
	s.db.Close()
}
