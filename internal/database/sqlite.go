package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leca/dt-image-renditions/internal/model"
)

var _ Database = (*SQLiteDB)(nil)

// forEachBatch is the page size of ForEachAsset.
const forEachBatch = 100

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs migrations.
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTransaction(ctx, s.db, fn)
}

const assetColumns = `account_id, id, kind, title, sizes, image, cover, created, updated`

func (s *SQLiteDB) CreateAsset(ctx context.Context, a *model.Asset) error {
	image, cover, err := marshalSlots(a)
	if err != nil {
		return err
	}
	_, err = getExecutor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.ID, a.Kind, a.Title, a.Sizes, image, cover,
		a.Created.UTC().Format(time.RFC3339Nano), a.Updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetAsset(ctx context.Context, accountID, id string) (*model.Asset, error) {
	row := getExecutor(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets WHERE account_id = ? AND id = ?`,
		accountID, id,
	)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *SQLiteDB) ListAssets(ctx context.Context, accountID string, page, perPage int) ([]*model.Asset, int, error) {
	ex := getExecutor(ctx, s.db)

	var total int
	err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE account_id = ?`, accountID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	offset := (page - 1) * perPage
	rows, err := ex.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM assets WHERE account_id = ?
		ORDER BY created ASC, id ASC
		LIMIT ? OFFSET ?`,
		accountID, perPage, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets, err := scanAssets(rows)
	if err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

func (s *SQLiteDB) UpdateAsset(ctx context.Context, a *model.Asset) error {
	image, cover, err := marshalSlots(a)
	if err != nil {
		return err
	}
	res, err := getExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE assets SET kind = ?, title = ?, sizes = ?, image = ?, cover = ?, updated = ?
		WHERE account_id = ? AND id = ?`,
		a.Kind, a.Title, a.Sizes, image, cover, a.Updated.UTC().Format(time.RFC3339Nano),
		a.AccountID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return checkRowsAffected(res, "asset "+a.ID)
}

func (s *SQLiteDB) DeleteAsset(ctx context.Context, accountID, id string) error {
	res, err := getExecutor(ctx, s.db).ExecContext(ctx, `DELETE FROM assets WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return checkRowsAffected(res, "asset "+id)
}

// ForEachAsset pages through assets in primary key order. Each batch is read
// fully before fn runs, so fn may write to the database.
func (s *SQLiteDB) ForEachAsset(ctx context.Context, accountID string, fn func(*model.Asset) error) error {
	ex := getExecutor(ctx, s.db)
	lastAccount, lastID := "", ""
	for {
		var (
			rows *sql.Rows
			err  error
		)
		if accountID == "" {
			rows, err = ex.QueryContext(ctx, `
				SELECT `+assetColumns+` FROM assets
				WHERE (account_id, id) > (?, ?)
				ORDER BY account_id, id LIMIT ?`,
				lastAccount, lastID, forEachBatch)
		} else {
			rows, err = ex.QueryContext(ctx, `
				SELECT `+assetColumns+` FROM assets
				WHERE account_id = ? AND id > ?
				ORDER BY id LIMIT ?`,
				accountID, lastID, forEachBatch)
		}
		if err != nil {
			return fmt.Errorf("iterate assets: %w", err)
		}
		batch, err := scanAssets(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, a := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(batch) < forEachBatch {
			return nil
		}
		last := batch[len(batch)-1]
		lastAccount, lastID = last.AccountID, last.ID
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...any) error
}

func marshalSlots(a *model.Asset) (string, string, error) {
	image, err := json.Marshal(a.Image)
	if err != nil {
		return "", "", fmt.Errorf("marshal image slot: %w", err)
	}
	cover, err := json.Marshal(a.Cover)
	if err != nil {
		return "", "", fmt.Errorf("marshal cover slot: %w", err)
	}
	return string(image), string(cover), nil
}

func scanAsset(row scannable) (*model.Asset, error) {
	a := &model.Asset{}
	var imageStr, coverStr, createdStr, updatedStr string

	err := row.Scan(&a.AccountID, &a.ID, &a.Kind, &a.Title, &a.Sizes, &imageStr, &coverStr, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan asset: %w", err)
	}

	a.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
	a.Updated, _ = time.Parse(time.RFC3339Nano, updatedStr)
	if err := json.Unmarshal([]byte(imageStr), &a.Image); err != nil {
		return nil, fmt.Errorf("unmarshal image slot: %w", err)
	}
	if err := json.Unmarshal([]byte(coverStr), &a.Cover); err != nil {
		return nil, fmt.Errorf("unmarshal cover slot: %w", err)
	}
	return a, nil
}

func scanAssets(rows *sql.Rows) ([]*model.Asset, error) {
	var assets []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func checkRowsAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
