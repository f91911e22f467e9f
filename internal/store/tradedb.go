package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// addressSuffixLen is how many trailing characters of an address name its database file.
const addressSuffixLen = 8

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	tx_hash     TEXT PRIMARY KEY,
	address     TEXT NOT NULL,
	coin        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	direction   TEXT,
	price       TEXT,
	size        TEXT,
	closed_pnl  TEXT,
	traded_at   INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
)`

var fileSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

type handle struct {
	db       *sql.DB
	writable bool
}

// TradeDB keeps one SQLite file per address recording the transaction hashes
// seen by the feed. Lookups against an address that has no file yet report
// "not found" without creating anything.
type TradeDB struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*handle
}

// NewTradeDB creates a TradeDB rooted at dir. Files are opened lazily.
func NewTradeDB(dir string) *TradeDB {
	if dir == "" {
		dir = "."
	}
	return &TradeDB{
		dir: dir,
		dbs: make(map[string]*handle),
	}
}

// FileName returns the database file name for an address, derived from its
// lower-cased trailing characters so it stays stable across restarts.
func FileName(address string) string {
	a := fileSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(address)), "")
	if len(a) > addressSuffixLen {
		a = a[len(a)-addressSuffixLen:]
	}
	if a == "" {
		a = "unknown"
	}
	return "trades_" + a + ".db"
}

// PathFor returns the full path of the database file for an address.
func (d *TradeDB) PathFor(address string) string {
	return filepath.Join(d.dir, FileName(address))
}

// Exists reports whether txHash has been recorded for address. A missing file
// or a missing trades table is "not found", not an error.
func (d *TradeDB) Exists(ctx context.Context, address, txHash string) (bool, error) {
	db, err := d.open(address, false)
	if err != nil {
		return false, err
	}
	if db == nil {
		return false, nil
	}

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM trades WHERE tx_hash = ? LIMIT 1`, txHash).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows), isMissingTable(err):
		return false, nil
	default:
		return false, fmt.Errorf("query trade %s: %w", txHash, err)
	}
}

// Record stores a trade, creating the address file and table on first use.
// Recording the same hash twice keeps the first row.
func (d *TradeDB) Record(ctx context.Context, t Trade) error {
	db, err := d.open(t.Address, true)
	if err != nil {
		return err
	}

	var pnl sql.NullString
	if t.ClosedPnL != nil {
		pnl = sql.NullString{String: t.ClosedPnL.String(), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(tx_hash, address, coin, kind, direction, price, size, closed_pnl, traded_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TxHash, t.Address, t.Coin, string(t.Kind), t.Direction,
		t.Price.String(), t.Size.String(), pnl,
		t.Timestamp.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.TxHash, err)
	}
	return nil
}

// Close closes every open database file.
func (d *TradeDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for key, h := range d.dbs {
		if err := h.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(d.dbs, key)
	}
	return errors.Join(errs...)
}

// open returns the handle for an address. With create=false it returns nil
// when the file does not exist yet.
func (d *TradeDB) open(address string, create bool) (*sql.DB, error) {
	path := d.PathFor(address)

	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.dbs[path]
	if !ok {
		if !create {
			if _, err := os.Stat(path); err != nil {
				if os.IsNotExist(err) {
					return nil, nil
				}
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
		} else if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}

		db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
		h = &handle{db: db}
		d.dbs[path] = h
	}

	if create && !h.writable {
		if _, err := h.db.Exec(schema); err != nil {
			return nil, fmt.Errorf("create trades table: %w", err)
		}
		h.writable = true
	}
	return h.db, nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
