package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notedigest/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	// DriverSQLite はmodernc.org/sqliteのドライバ名。
	DriverSQLite = "sqlite"
	// DriverPgx はpgxのdatabase/sqlドライバ名。
	DriverPgx = "pgx"

	// defaultTimeout はクエリ1回あたりの既定タイムアウト。
	defaultTimeout = 15 * time.Second
	// sqliteTimeLayout はSQLiteに書き込む時刻の形式。
	// 外部から書き込まれた行は別の形式を取りうるため、比較はtimeExprを通して行う。
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrUnsupportedDriver は未対応のドライバが指定されたことを表す。
var ErrUnsupportedDriver = errors.New("未対応のデータベースドライバです")

// dialect はドライバごとのSQL方言の差異を吸収する。
type dialect struct {
	// driver はドライバ名。
	driver string
}

// placeholder はn番目（1始まり）のバインド変数を返す。
func (d dialect) placeholder(n int) string {
	if d.driver == DriverPgx {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// placeholders はstart番目からcount個のバインド変数をカンマ区切りで返す。
func (d dialect) placeholders(start, count int) string {
	ps := make([]string, count)
	for i := range count {
		ps[i] = d.placeholder(start + i)
	}
	return strings.Join(ps, ", ")
}

// encodeTime は時刻をバインド用の値に変換する。
func (d dialect) encodeTime(t time.Time) any {
	if d.driver == DriverPgx {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// timeExpr は時刻の列またはバインド変数を比較・並び替え可能な式に変換する。
// SQLiteではテキストの形式（区切りのTや空白、小数秒、タイムゾーン）に依存しないようjuliandayで数値化する。
func (d dialect) timeExpr(expr string) string {
	if d.driver == DriverPgx {
		return expr
	}
	return "julianday(" + expr + ")"
}

// migrationsDir はドライバに対応するマイグレーションディレクトリを返す。
func (d dialect) migrationsDir() string {
	if d.driver == DriverPgx {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// Store はリレーショナルストアへのアクセスを提供する。
type Store struct {
	// db はデータベース接続。
	db *sql.DB
	// dialect はSQL方言。
	dialect dialect
	// timeout はクエリ1回あたりのタイムアウト。
	timeout time.Duration
}

// Option はStoreの設定を変更する関数。
type Option func(*Store)

// WithTimeout はクエリ1回あたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Open はデータベースに接続し、マイグレーションを適用したStoreを返す。
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPgx {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New は既存のデータベース接続からStoreを生成する。マイグレーションは適用しない。
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPgx {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	s := &Store{
		db:      db,
		dialect: dialect{driver: driver},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate は未適用のマイグレーションを適用する。
func (s *Store) Migrate() error {
	if err := migration.Run(s.db, migrationsFS, s.dialect.migrationsDir()); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// withTimeout はクエリ用のタイムアウト付きコンテキストを返す。
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// scanTime はドライバから返された時刻の値をtime.Timeに変換する。
// pgxはtime.Timeを、SQLiteは保存形式に応じて文字列またはtime.Timeを返す。
func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	case nil:
		return time.Time{}, errors.New("時刻がNULLです")
	default:
		return time.Time{}, fmt.Errorf("未対応の時刻型です: %T", v)
	}
}

// timeLayouts はテキストの時刻として受け付ける形式。
var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime はテキストの時刻を解析する。
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("時刻の形式が不正です: %q", s)
}
