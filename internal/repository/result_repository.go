package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"tradebroker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки хранилища результатов
var (
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrInvalidNamespace  = errors.New("invalid namespace")
)

// pgUndefinedTable - код ошибки PostgreSQL для несуществующей таблицы
const pgUndefinedTable = "42P01"

// tablePrefix отделяет таблицы коллекций от служебных таблиц БД
const tablePrefix = "settled_"

var namespacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// ValidNamespace проверяет имя коллекции: буква, затем буквы, цифры или '_', до 48 символов
func ValidNamespace(namespace string) bool {
	return namespacePattern.MatchString(namespace)
}

// ResultRepository - append-only хранилище закрытых ордеров.
// Каждая коллекция (namespace) - отдельная таблица settled_<namespace>, создаётся при первой записи.
type ResultRepository struct {
	db     *sql.DB
	tables sync.Map // имя таблицы -> struct{}, таблицы уже созданы
}

// NewResultRepository создает новый экземпляр репозитория
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func tableName(namespace string) (string, error) {
	if !ValidNamespace(namespace) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return pq.QuoteIdentifier(tablePrefix + namespace), nil
}

// ensureTable создаёт таблицу коллекции и индекс по владельцу
func (r *ResultRepository) ensureTable(ctx context.Context, namespace, table string) error {
	if _, ok := r.tables.Load(table); ok {
		return nil
	}

	create := `
		CREATE TABLE IF NOT EXISTS ` + table + ` (
			id BIGSERIAL PRIMARY KEY,
			unique_id TEXT,
			order_id BIGINT NOT NULL,
			owner TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return err
	}

	index := `CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(tablePrefix+namespace+"_owner_idx") +
		` ON ` + table + ` (owner, id)`
	if _, err := r.db.ExecContext(ctx, index); err != nil {
		return err
	}

	r.tables.Store(table, struct{}{})
	return nil
}

// Append добавляет запись в коллекцию и заполняет ID и CreatedAt
func (r *ResultRepository) Append(ctx context.Context, namespace string, record *models.SettledRecord) error {
	table, err := tableName(namespace)
	if err != nil {
		return err
	}

	if err := r.ensureTable(ctx, namespace, table); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO ` + table + ` (unique_id, order_id, owner, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	createdAt := time.Now().UTC()
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		nullString(record.CorrelationID),
		record.OrderID,
		record.Owner,
		payload,
		createdAt,
	).Scan(&id)
	if err != nil {
		if isUndefinedTable(err) {
			// таблицу удалили извне - при следующей записи создадим заново
			r.tables.Delete(table)
		}
		return err
	}

	record.ID = id
	record.Namespace = namespace
	record.CreatedAt = createdAt
	return nil
}

// QueryByOwner возвращает записи владельца в порядке добавления
func (r *ResultRepository) QueryByOwner(ctx context.Context, namespace, owner string) ([]*models.SettledRecord, error) {
	table, err := tableName(namespace)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, unique_id, order_id, owner, payload, created_at
		FROM ` + table + `
		WHERE owner = $1
		ORDER BY id ASC`

	return r.query(ctx, namespace, query, owner)
}

// QueryAll возвращает все записи коллекции в порядке добавления
func (r *ResultRepository) QueryAll(ctx context.Context, namespace string) ([]*models.SettledRecord, error) {
	table, err := tableName(namespace)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, unique_id, order_id, owner, payload, created_at
		FROM ` + table + `
		ORDER BY id ASC`

	return r.query(ctx, namespace, query)
}

func (r *ResultRepository) query(ctx context.Context, namespace, query string, args ...interface{}) ([]*models.SettledRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
		}
		return nil, err
	}
	defer rows.Close()

	var records []*models.SettledRecord
	for rows.Next() {
		record := &models.SettledRecord{Namespace: namespace}
		var uniqueID sql.NullString
		var payload []byte

		err := rows.Scan(
			&record.ID,
			&uniqueID,
			&record.OrderID,
			&record.Owner,
			&payload,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(payload, &record.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of record %d: %w", record.ID, err)
		}
		record.CorrelationID = uniqueID.String
		record.CreatedAt = record.CreatedAt.UTC()

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUndefinedTable
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
