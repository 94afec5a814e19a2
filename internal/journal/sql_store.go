package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/storage/sqldb"
)

// SQLStore 使用 MySQL 或 SQLite 保存转账流水。
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLStore 建立连接并执行迁移。
func OpenSQLStore(ctx context.Context, cfg sqldb.Config) (*SQLStore, error) {
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开流水数据库失败")
	}
	if err := sqldb.Migrate(ctx, db, cfg.Dialect); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行流水表迁移失败")
	}
	return NewSQLStore(db), nil
}

// NewSQLStore 包装已经完成迁移的连接。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const selectColumns = `id, token, destination, recipient, amount, status, method, source_chain, tx_hash, message_id, fee,
        error_code, error_message, failed_chain, created_at, updated_at`

// Create 插入一条 pending 记录。
func (s *SQLStore) Create(ctx context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	now := s.now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = StatusPending
	}

	const stmt = `INSERT INTO transfers
        (id, token, destination, recipient, amount, status, error_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID,
		entry.Token,
		entry.Destination,
		entry.Recipient,
		entry.Amount,
		string(entry.Status),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		if sqldb.IsDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入转账记录失败")
	}
	return nil
}

// MarkSucceeded 记录成功结果。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result Result) error {
	const stmt = `UPDATE transfers SET status = ?, method = ?, source_chain = ?, tx_hash = ?, message_id = ?, fee = ?,
        error_code = '', error_message = '', failed_chain = '', updated_at = ? WHERE id = ?`

	return s.update(ctx, stmt,
		string(StatusSucceeded),
		result.Method,
		result.SourceChain,
		result.TxHash,
		result.MessageID,
		result.Fee,
		s.now().Unix(),
		id,
	)
}

// MarkFailed 记录失败原因。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, failure Failure) error {
	const stmt = `UPDATE transfers SET status = ?, method = '', source_chain = '', tx_hash = '', message_id = '', fee = '',
        error_code = ?, error_message = ?, failed_chain = ?, updated_at = ? WHERE id = ?`

	return s.update(ctx, stmt,
		string(StatusFailed),
		failure.Code,
		failure.Message,
		failure.Chain,
		s.now().Unix(),
		id,
	)
}

func (s *SQLStore) update(ctx context.Context, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新转账记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get 查询指定记录。
func (s *SQLStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transfers WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账记录失败")
	}
	return entry, nil
}

// List 按创建时间分页返回记录。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	opts.applyDefaults()

	var builder strings.Builder
	builder.WriteString(`SELECT ` + selectColumns + ` FROM transfers`)
	args := make([]any, 0, len(opts.Statuses)+2)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		builder.WriteString(` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`)
	}
	if opts.Order == SortByCreatedAsc {
		builder.WriteString(` ORDER BY created_at ASC, id ASC`)
	} else {
		builder.WriteString(` ORDER BY created_at DESC, id DESC`)
	}
	builder.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账列表失败")
	}
	defer rows.Close()

	entries := make([]*Entry, 0, opts.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析转账记录失败")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历转账记录失败")
	}
	return entries, nil
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry  Entry
		status string
		result Result
	)
	if err := row.Scan(
		&entry.ID,
		&entry.Token,
		&entry.Destination,
		&entry.Recipient,
		&entry.Amount,
		&status,
		&result.Method,
		&result.SourceChain,
		&result.TxHash,
		&result.MessageID,
		&result.Fee,
		&entry.ErrorCode,
		&entry.ErrorMessage,
		&entry.FailedChain,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	if entry.Status == StatusSucceeded {
		entry.Result = &result
	}
	return &entry, nil
}
