package storage

// sqlite.go — registro durable del motor de subastas.
//
// Propiedad de filas:
//   - `auctions`: el payout orchestrator. Se crea como ancla de idempotencia
//     (INSERT OR IGNORE) antes de tocar el ledger, se finaliza tras el payout.
//   - `bids`, `harpoon_attempts`: append-only, nunca se mutan (salvo la
//     promoción pending → success del intento).
//   - `server_seeds`: una fila viva por subasta, rotada por el harpoon engine.
//   - `auction_type_configs`: read-mostly, la edita el operador.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
    auction_id  INTEGER PRIMARY KEY,
    type_id     INTEGER NOT NULL,
    winner      TEXT    NOT NULL DEFAULT '',
    prize_pool  TEXT    NOT NULL DEFAULT '',
    bid_count   INTEGER NOT NULL DEFAULT 0,
    iteration   INTEGER NOT NULL DEFAULT 1,
    has_steal   INTEGER NOT NULL DEFAULT 0,
    tx_id       TEXT    NOT NULL DEFAULT '',
    block_num   INTEGER NOT NULL DEFAULT 0,
    ended_at    DATETIME,
    paid_at     DATETIME
);

CREATE TABLE IF NOT EXISTS bids (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    auction_id INTEGER NOT NULL,
    bidder     TEXT    NOT NULL,
    price      TEXT    NOT NULL,
    sequence   INTEGER NOT NULL,
    placed_at  DATETIME NOT NULL,
    UNIQUE(auction_id, sequence)
);

CREATE TABLE IF NOT EXISTS server_seeds (
    auction_id  INTEGER PRIMARY KEY,
    seed        TEXT NOT NULL,
    client_seed TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS harpoon_attempts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    auction_id  INTEGER NOT NULL,
    account     TEXT    NOT NULL,
    client_seed TEXT    NOT NULL,
    server_seed TEXT    NOT NULL,
    odds        REAL    NOT NULL,
    draw        INTEGER NOT NULL,
    status      TEXT    NOT NULL,
    attempted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS auction_type_configs (
    type_id         INTEGER PRIMARY KEY,
    next_type_id    INTEGER NOT NULL DEFAULT 0,
    odds_budget     REAL    NOT NULL DEFAULT 0,
    min_bids        INTEGER NOT NULL DEFAULT 0,
    init_bid_count  INTEGER NOT NULL DEFAULT 0,
    bid_price       TEXT    NOT NULL DEFAULT '',
    init_prize_pool TEXT    NOT NULL DEFAULT '',
    duration_secs   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_bids_auction     ON bids(auction_id, sequence);
CREATE INDEX IF NOT EXISTS idx_attempts_auction ON harpoon_attempts(auction_id, id);
`

// SQLiteStore implementa ports.Store usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// EnsureAuctionRecord inserta la fila solo si no existe. Lookup idempotente
// por clave: un restart del proceso a mitad de payout no la duplica, y un
// scanner histórico concurrente tampoco puede adelantarse y doble-contarla.
func (s *SQLiteStore) EnsureAuctionRecord(ctx context.Context, rec domain.AuctionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO auctions
			(auction_id, type_id, winner, prize_pool, bid_count, iteration, has_steal, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AuctionID, rec.TypeID, rec.Winner, nullableAsset(rec.PrizePool),
		rec.BidCount, rec.Iteration, boolToInt(rec.HasSteal), nullableTime(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.EnsureAuctionRecord: auction %d: %w", rec.AuctionID, err)
	}
	return nil
}

// FinalizeAuctionRecord completa los campos financieros tras el payout.
func (s *SQLiteStore) FinalizeAuctionRecord(ctx context.Context, rec domain.AuctionRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET winner = ?, prize_pool = ?, bid_count = ?, has_steal = ?,
		    tx_id = ?, block_num = ?, paid_at = ?
		WHERE auction_id = ?`,
		rec.Winner, nullableAsset(rec.PrizePool), rec.BidCount, boolToInt(rec.HasSteal),
		rec.TxID, rec.BlockNum, nullableTime(rec.PaidAt), rec.AuctionID,
	)
	if err != nil {
		return fmt.Errorf("storage.FinalizeAuctionRecord: auction %d: %w", rec.AuctionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.FinalizeAuctionRecord: auction %d: no anchor row", rec.AuctionID)
	}
	return nil
}

// AuctionRecord devuelve la fila durable, o nil si no existe.
func (s *SQLiteStore) AuctionRecord(ctx context.Context, auctionID uint64) (*domain.AuctionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT auction_id, type_id, winner, prize_pool, bid_count, iteration,
		       has_steal, tx_id, block_num, ended_at, paid_at
		FROM auctions WHERE auction_id = ?`, auctionID)

	var rec domain.AuctionRecord
	var pool string
	var hasSteal int
	var endedAt, paidAt sql.NullTime
	err := row.Scan(&rec.AuctionID, &rec.TypeID, &rec.Winner, &pool, &rec.BidCount,
		&rec.Iteration, &hasSteal, &rec.TxID, &rec.BlockNum, &endedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.AuctionRecord: auction %d: %w", auctionID, err)
	}

	rec.HasSteal = hasSteal == 1
	if pool != "" {
		if rec.PrizePool, err = domain.ParseAsset(pool); err != nil {
			return nil, fmt.Errorf("storage.AuctionRecord: auction %d: %w", auctionID, err)
		}
	}
	if endedAt.Valid {
		rec.EndedAt = endedAt.Time
	}
	if paidAt.Valid {
		rec.PaidAt = paidAt.Time
	}
	return &rec, nil
}

// InsertBid añade una puja observada. El UNIQUE(auction_id, sequence) hace
// el insert idempotente frente a re-observaciones del mismo estado.
func (s *SQLiteStore) InsertBid(ctx context.Context, bid domain.Bid) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bids (auction_id, bidder, price, sequence, placed_at)
		VALUES (?, ?, ?, ?, ?)`,
		bid.AuctionID, bid.Bidder, bid.Price.String(), bid.Sequence, bid.PlacedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertBid: auction %d seq %d: %w", bid.AuctionID, bid.Sequence, err)
	}
	return nil
}

// BidsForAuction devuelve el historial ordenado por sequence ascendente.
func (s *SQLiteStore) BidsForAuction(ctx context.Context, auctionID uint64) ([]domain.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT auction_id, bidder, price, sequence, placed_at
		FROM bids WHERE auction_id = ? ORDER BY sequence ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("storage.BidsForAuction: auction %d: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var price string
		if err := rows.Scan(&b.AuctionID, &b.Bidder, &price, &b.Sequence, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("storage.BidsForAuction: scan: %w", err)
		}
		if b.Price, err = domain.ParseAsset(price); err != nil {
			return nil, fmt.Errorf("storage.BidsForAuction: auction %d: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ServerSeed devuelve la fila de seed, o nil si no existe.
func (s *SQLiteStore) ServerSeed(ctx context.Context, auctionID uint64) (*domain.ServerSeed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT auction_id, seed, client_seed FROM server_seeds WHERE auction_id = ?`, auctionID)

	var seed domain.ServerSeed
	err := row.Scan(&seed.AuctionID, &seed.Seed, &seed.ClientSeed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.ServerSeed: auction %d: %w", auctionID, err)
	}
	return &seed, nil
}

// UpsertServerSeed crea o reemplaza la única fila de seed de la subasta.
func (s *SQLiteStore) UpsertServerSeed(ctx context.Context, seed domain.ServerSeed) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_seeds (auction_id, seed, client_seed)
		VALUES (?, ?, ?)
		ON CONFLICT(auction_id) DO UPDATE SET
			seed        = excluded.seed,
			client_seed = excluded.client_seed`,
		seed.AuctionID, seed.Seed, seed.ClientSeed,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertServerSeed: auction %d: %w", seed.AuctionID, err)
	}
	return nil
}

// InsertAttempt añade un intento de robo resuelto.
func (s *SQLiteStore) InsertAttempt(ctx context.Context, att domain.HarpoonAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harpoon_attempts
			(auction_id, account, client_seed, server_seed, odds, draw, status, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.AuctionID, att.Account, att.ClientSeed, att.ServerSeed,
		att.Odds, att.Draw, string(att.Status), att.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertAttempt: auction %d account %s: %w", att.AuctionID, att.Account, err)
	}
	return nil
}

// AttemptsForAuction devuelve los intentos en orden de inserción.
func (s *SQLiteStore) AttemptsForAuction(ctx context.Context, auctionID uint64) ([]domain.HarpoonAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT auction_id, account, client_seed, server_seed, odds, draw, status, attempted_at
		FROM harpoon_attempts WHERE auction_id = ? ORDER BY id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("storage.AttemptsForAuction: auction %d: %w", auctionID, err)
	}
	defer rows.Close()

	var atts []domain.HarpoonAttempt
	for rows.Next() {
		var a domain.HarpoonAttempt
		var status string
		if err := rows.Scan(&a.AuctionID, &a.Account, &a.ClientSeed, &a.ServerSeed,
			&a.Odds, &a.Draw, &status, &a.At); err != nil {
			return nil, fmt.Errorf("storage.AttemptsForAuction: scan: %w", err)
		}
		a.Status = domain.AttemptStatus(status)
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// HasHarpooned devuelve true si la cuenta ya tiene un miss en la subasta.
func (s *SQLiteStore) HasHarpooned(ctx context.Context, auctionID uint64, account string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM harpoon_attempts
		WHERE auction_id = ? AND account = ? AND status = ?`,
		auctionID, account, string(domain.AttemptMiss))

	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("storage.HasHarpooned: auction %d account %s: %w", auctionID, account, err)
	}
	return n > 0, nil
}

// MissedAccounts devuelve las cuentas con miss registrado en la subasta.
func (s *SQLiteStore) MissedAccounts(ctx context.Context, auctionID uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT account FROM harpoon_attempts
		WHERE auction_id = ? AND status = ?`,
		auctionID, string(domain.AttemptMiss))
	if err != nil {
		return nil, fmt.Errorf("storage.MissedAccounts: auction %d: %w", auctionID, err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("storage.MissedAccounts: scan: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// PromotePendingAttempt transiciona el intento pending a success.
func (s *SQLiteStore) PromotePendingAttempt(ctx context.Context, auctionID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE harpoon_attempts SET status = ?
		WHERE auction_id = ? AND status = ?`,
		string(domain.AttemptSuccess), auctionID, string(domain.AttemptPending))
	if err != nil {
		return fmt.Errorf("storage.PromotePendingAttempt: auction %d: %w", auctionID, err)
	}
	return nil
}

// TypeConfigs devuelve la configuración de todos los lanes.
func (s *SQLiteStore) TypeConfigs(ctx context.Context) ([]domain.AuctionTypeConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type_id, next_type_id, odds_budget, min_bids,
		       init_bid_count, bid_price, init_prize_pool, duration_secs
		FROM auction_type_configs`)
	if err != nil {
		return nil, fmt.Errorf("storage.TypeConfigs: query: %w", err)
	}
	defer rows.Close()

	var cfgs []domain.AuctionTypeConfig
	for rows.Next() {
		var c domain.AuctionTypeConfig
		var initBids, durationSecs uint32
		var bidPrice, initPool string
		if err := rows.Scan(&c.TypeID, &c.NextTypeID, &c.HarpoonOddsBudget, &c.MinBids,
			&initBids, &bidPrice, &initPool, &durationSecs); err != nil {
			return nil, fmt.Errorf("storage.TypeConfigs: scan: %w", err)
		}
		if bidPrice != "" && initPool != "" {
			price, err := domain.ParseAsset(bidPrice)
			if err != nil {
				return nil, fmt.Errorf("storage.TypeConfigs: type %d: %w", c.TypeID, err)
			}
			pool, err := domain.ParseAsset(initPool)
			if err != nil {
				return nil, fmt.Errorf("storage.TypeConfigs: type %d: %w", c.TypeID, err)
			}
			c.Params = &domain.ReplacementParams{
				TypeID:        c.TypeID,
				InitBidCount:  initBids,
				BidPrice:      price,
				InitPrizePool: pool,
				DurationSecs:  durationSecs,
			}
		}
		cfgs = append(cfgs, c)
	}
	return cfgs, rows.Err()
}

// UpsertTypeConfig crea o actualiza la configuración de un lane. La usa el
// operador (y los tests); el reconciler solo lee.
func (s *SQLiteStore) UpsertTypeConfig(ctx context.Context, c domain.AuctionTypeConfig) error {
	var initBids, durationSecs uint32
	var bidPrice, initPool string
	if c.Params != nil {
		initBids = c.Params.InitBidCount
		durationSecs = c.Params.DurationSecs
		bidPrice = c.Params.BidPrice.String()
		initPool = c.Params.InitPrizePool.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auction_type_configs
			(type_id, next_type_id, odds_budget, min_bids, init_bid_count, bid_price, init_prize_pool, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type_id) DO UPDATE SET
			next_type_id    = excluded.next_type_id,
			odds_budget     = excluded.odds_budget,
			min_bids        = excluded.min_bids,
			init_bid_count  = excluded.init_bid_count,
			bid_price       = excluded.bid_price,
			init_prize_pool = excluded.init_prize_pool,
			duration_secs   = excluded.duration_secs`,
		c.TypeID, c.NextTypeID, c.HarpoonOddsBudget, c.MinBids,
		initBids, bidPrice, initPool, durationSecs,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertTypeConfig: type %d: %w", c.TypeID, err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// nullableAsset persiste el asset cero como string vacío: el String() de un
// asset sin símbolo no sobrevive el ParseAsset estricto de la relectura.
func nullableAsset(a domain.Asset) string {
	if a.Symbol == "" {
		return ""
	}
	return a.String()
}
