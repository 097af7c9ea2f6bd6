// Package heliant syncs stock cards from a hospital's Heliant blood-bank
// module. The LIS is the source of truth: each poll overwrites the units of
// every card with the count of available, unexpired bags.
package heliant

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// DefaultUnitTable is the Heliant table holding one row per blood bag
const DefaultUnitTable = "dbo.BloodUnits"

const syncReason = "lis_sync"

// StockWriter is the part of the inventory service the adapter writes to
type StockWriter interface {
	Get(ctx context.Context, hospitalID types.ID, bt bloodtype.Type) (inventory.Card, error)
	Set(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int, reason string) (inventory.Card, error)
}

// SyncResult summarises one poll
type SyncResult struct {
	At      time.Time `json:"at"`
	Rows    int       `json:"rows"`
	Updated int       `json:"updated"`
	Skipped int       `json:"skipped"`
}

// Adapter polls the LIS and writes authoritative stock
type Adapter struct {
	cfg       config.HeliantConfig
	unitTable string
	stock     StockWriter
	log       zerolog.Logger

	mu       sync.RWMutex
	db       *sql.DB
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSync *SyncResult
}

// New creates an adapter; the connection is opened by Start
func New(cfg config.HeliantConfig, stock StockWriter, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		unitTable: DefaultUnitTable,
		stock:     stock,
		log:       log.With().Str("component", "heliant").Str("hospital_id", cfg.HospitalID).Logger(),
	}
}

// NewWithDB creates an adapter over an open database
func NewWithDB(db *sql.DB, cfg config.HeliantConfig, stock StockWriter, log zerolog.Logger) *Adapter {
	a := New(cfg, stock, log)
	a.db = db
	return a
}

func connString(cfg config.HeliantConfig) string {
	return fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
}

// Start connects if needed, runs an initial sync and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("adapter already running")
	}

	if a.db == nil {
		db, err := sql.Open("sqlserver", connString(a.cfg))
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			a.mu.Unlock()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		a.db = db
	}

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	if _, err := a.Sync(pollCtx); err != nil {
		a.log.Warn().Err(err).Msg("initial LIS sync failed")
	}

	a.wg.Add(1)
	go a.pollLoop(pollCtx)
	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.running = false
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		err := a.db.Close()
		a.db = nil
		return err
	}
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return fmt.Errorf("adapter not connected")
	}
	return a.db.PingContext(ctx)
}

// LastSync returns the result of the most recent successful poll
func (a *Adapter) LastSync() *SyncResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSync
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sync(ctx); err != nil {
				a.log.Error().Err(err).Msg("LIS sync failed")
			}
		}
	}
}

// Sync reads available units per blood type and overwrites the stock
// cards that differ. Types with no available bags are set to zero.
func (a *Adapter) Sync(ctx context.Context) (*SyncResult, error) {
	a.mu.RLock()
	db := a.db
	a.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("adapter not connected")
	}

	query := fmt.Sprintf(`
		SELECT
			BloodGroup,
			RhFactor,
			COUNT(*) AS Units
		FROM %s
		WHERE Status = 'AVAILABLE'
			AND ExpiryDate > GETDATE()
		GROUP BY BloodGroup, RhFactor
	`, a.unitTable)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query blood units: %w", err)
	}
	defer rows.Close()

	result := &SyncResult{At: time.Now().UTC()}
	counts := make(map[bloodtype.Type]int, len(bloodtype.All()))
	for rows.Next() {
		var group, rh string
		var units int
		if err := rows.Scan(&group, &rh, &units); err != nil {
			return nil, fmt.Errorf("failed to scan blood units: %w", err)
		}
		result.Rows++

		bt, ok := toBloodType(group, rh)
		if !ok {
			result.Skipped++
			a.log.Warn().Str("group", group).Str("rh", rh).Msg("unrecognised blood group in LIS")
			continue
		}
		counts[bt] += units
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blood units: %w", err)
	}

	hospitalID := types.ID(a.cfg.HospitalID)
	for _, bt := range bloodtype.All() {
		current, err := a.stock.Get(ctx, hospitalID, bt)
		if err != nil {
			return nil, err
		}
		if current.Units == counts[bt] {
			continue
		}
		if _, err := a.stock.Set(ctx, hospitalID, bt, counts[bt], syncReason); err != nil {
			return nil, err
		}
		result.Updated++
	}

	a.mu.Lock()
	a.lastSync = result
	a.mu.Unlock()

	a.log.Debug().Int("rows", result.Rows).Int("updated", result.Updated).Msg("LIS sync complete")
	return result, nil
}

// toBloodType maps Heliant's ABO group and Rh columns. Rh is stored as
// "+", "-", "POS"/"NEG" or "D+"/"D-" depending on the installation.
func toBloodType(group, rh string) (bloodtype.Type, bool) {
	group = strings.ToUpper(strings.TrimSpace(group))
	if group == "0" {
		group = "O"
	}

	var sign string
	switch strings.ToUpper(strings.TrimSpace(rh)) {
	case "+", "POS", "D+", "RH+":
		sign = "+"
	case "-", "NEG", "D-", "RH-":
		sign = "-"
	default:
		return "", false
	}

	bt, err := bloodtype.Parse(group + sign)
	if err != nil {
		return "", false
	}
	return bt, true
}
