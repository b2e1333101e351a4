package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dice-recorder/segment"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	orderAsc  = "id_partition ASC, id_seq ASC, issue_id ASC"
	orderDesc = "id_partition DESC, id_seq DESC, issue_id DESC"
)

// Store is the session table. Writes are insert-if-absent, so the ingestion
// loop and the request surface can share it without extra locking.
type Store struct {
	db     *gorm.DB
	scheme segment.Scheme
	log    *slog.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialector(cfg DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return sqlite.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// retry runs op with a constant backoff, at most attempts times.
func retry[T any](ctx context.Context, attempts int, wait time.Duration, op backoff.Operation[T]) (T, error) {
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(wait)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// OpenStore connects to the configured database, retrying the connection
// (cfg.ConnectAttempts tries, cfg.ConnectBackoff apart), and migrates the
// session table. Failure here means the process cannot start.
func OpenStore(ctx context.Context, cfg DatabaseConfig, scheme segment.Scheme, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if scheme == nil {
		scheme = segment.IntegerScheme{}
	}
	if _, err := dialector(cfg); err != nil {
		return nil, err
	}

	attempt := 0
	db, err := retry(ctx, cfg.ConnectAttempts, cfg.ConnectBackoff, func() (*gorm.DB, error) {
		attempt++
		dial, _ := dialector(cfg)
		db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			logger.Warn("store connect failed", "driver", cfg.Driver, "attempt", attempt, "max", cfg.ConnectAttempts, "err", err)
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Session{}); err != nil {
		_ = closeDB(db)
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	logger.Debug("store ready", "driver", cfg.Driver, "scheme", scheme.Name())

	return &Store{
		db:            db,
		scheme:        scheme,
		log:           logger,
		retryAttempts: cfg.ConnectAttempts,
		retryBackoff:  cfg.ConnectBackoff,
	}, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return closeDB(s.db)
}

// Scheme is the identifier scheme the store orders by.
func (s *Store) Scheme() segment.Scheme { return s.scheme }

// ping checks the connection with the same retry policy used at startup.
func (s *Store) ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_, err = retry(ctx, s.retryAttempts, s.retryBackoff, func() (struct{}, error) {
		return struct{}{}, sqlDB.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// InsertBatch inserts every session that is not already stored. A duplicate
// identifier is a silent no-op. A failing row is logged and skipped; the rest
// of the batch is still written. The only error returned is
// ErrStoreUnavailable, when the database cannot be reached at all.
func (s *Store) InsertBatch(ctx context.Context, sessions []Session) (BatchResult, error) {
	var res BatchResult
	if len(sessions) == 0 {
		return res, nil
	}
	if err := s.ping(ctx); err != nil {
		return res, err
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "issue_id"}},
		DoNothing: true,
	}
	for i := range sessions {
		row := sessions[i]
		if row.Point != row.Dice1+row.Dice2+row.Dice3 {
			res.Failed++
			s.log.Warn("skip session", "id", row.IssueID, "err", fmt.Errorf("%w: point %d does not match dice %s", ErrStoreWrite, row.Point, row.DiceString()))
			continue
		}
		tx := s.db.WithContext(ctx).Clauses(onConflict).Create(&row)
		if tx.Error != nil {
			res.Failed++
			s.log.Warn("insert session failed", "id", row.IssueID, "err", fmt.Errorf("%w: %v", ErrStoreWrite, tx.Error))
			continue
		}
		res.Attempted++
		if tx.RowsAffected > 0 {
			res.Created++
		}
	}
	return res, nil
}

// ScanOrdered returns every stored identifier in ordering-key order, in a
// single query.
func (s *Store) ScanOrdered(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Session{}).Order(orderAsc).Pluck("issue_id", &ids).Error
	return ids, err
}

// ListOrdered returns every session in ordering-key order.
func (s *Store) ListOrdered(ctx context.Context) ([]Session, error) {
	var rows []Session
	err := s.db.WithContext(ctx).Order(orderAsc).Find(&rows).Error
	return rows, err
}

// Recent returns the n latest sessions, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Session, error) {
	var rows []Session
	err := s.db.WithContext(ctx).Order(orderDesc).Limit(n).Find(&rows).Error
	return rows, err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Session{}).Count(&n).Error
	return n, err
}

// First returns the earliest session, or nil when the store is empty.
func (s *Store) First(ctx context.Context) (*Session, error) {
	return s.edge(ctx, orderAsc)
}

// Last returns the latest session, or nil when the store is empty.
func (s *Store) Last(ctx context.Context) (*Session, error) {
	return s.edge(ctx, orderDesc)
}

func (s *Store) edge(ctx context.Context, order string) (*Session, error) {
	var rows []Session
	if err := s.db.WithContext(ctx).Order(order).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Snapshot runs fn inside one read transaction so that a group of reads sees
// a single state of the table. On postgres the transaction is repeatable read.
func (s *Store) Snapshot(ctx context.Context, fn func(tx *Store) error) error {
	var opts []*sql.TxOptions
	if s.db.Dialector.Name() == DriverPostgres {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view := *s
		view.db = tx
		return fn(&view)
	}, opts...)
}

// LastIngestedAt is the newest created_at, zero when the store is empty.
func (s *Store) LastIngestedAt(ctx context.Context) (time.Time, error) {
	var rows []Session
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[0].CreatedAt, nil
}

// Get looks a session up by identifier.
func (s *Store) Get(ctx context.Context, id string) (Session, bool, error) {
	var rows []Session
	if err := s.db.WithContext(ctx).Where("issue_id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return Session{}, false, err
	}
	if len(rows) == 0 {
		return Session{}, false, nil
	}
	return rows[0], true, nil
}

// FindDuplicates lists identifiers stored more than once.
func (s *Store) FindDuplicates(ctx context.Context) ([]Duplicate, error) {
	var dups []Duplicate
	err := s.db.WithContext(ctx).Model(&Session{}).
		Select("issue_id, COUNT(*) AS count").
		Group("issue_id").
		Having("COUNT(*) > ?", 1).
		Scan(&dups).Error
	return dups, err
}

// FindGaps lists missing identifier ranges. For the dated scheme gaps are
// computed per day.
func (s *Store) FindGaps(ctx context.Context) ([]segment.Gap, error) {
	ids, err := s.ScanOrdered(ctx)
	if err != nil {
		return nil, err
	}
	return segment.Gaps(ids, s.scheme)
}

// DeleteOne removes a single session. It reports whether a row was removed.
func (s *Store) DeleteOne(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("issue_id = ?", id).Delete(&Session{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteRange removes every session whose ordering key lies between the keys
// of start and end, both inclusive.
func (s *Store) DeleteRange(ctx context.Context, start, end string) (int64, error) {
	ks, err := s.scheme.Key(start)
	if err != nil {
		return 0, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	ke, err := s.scheme.Key(end)
	if err != nil {
		return 0, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	if ke.Less(ks) {
		return 0, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, start, end)
	}
	res := s.db.WithContext(ctx).
		Where("(id_partition > ? OR (id_partition = ? AND id_seq >= ?))", ks.Partition, ks.Partition, ks.Seq).
		Where("(id_partition < ? OR (id_partition = ? AND id_seq <= ?))", ke.Partition, ke.Partition, ke.Seq).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}
