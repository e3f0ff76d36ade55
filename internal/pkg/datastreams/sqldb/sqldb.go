// Package sqldb records network mode transitions in a SQL database.
package sqldb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/internal/pkg/config"
	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const writeTimeout = time.Second

// Transition is one row of the transitions table.
type Transition struct {
	ID         int64   `db:"id" json:"ID"`
	Network    string  `db:"network" json:"Network"`
	Tick       int64   `db:"tick" json:"Tick"`
	Previous   string  `db:"previous" json:"Previous"`
	Mode       string  `db:"mode" json:"Mode"`
	Capacity   float64 `db:"capacity" json:"Capacity"`
	Load       float64 `db:"demand" json:"Load"`
	Reserve    float64 `db:"reserve" json:"Reserve"`
	Shed       int     `db:"shed" json:"Shed"`
	RecordedAt int64   `db:"recorded_at" json:"RecordedAt"`
}

var idColumn = map[string]string{
	config.DriverSQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	config.DriverMySQL:    "BIGINT AUTO_INCREMENT PRIMARY KEY",
	config.DriverPostgres: "BIGSERIAL PRIMARY KEY",
}

const schema = `CREATE TABLE IF NOT EXISTS transitions (
	id %s,
	network VARCHAR(36) NOT NULL,
	tick BIGINT NOT NULL,
	previous VARCHAR(32) NOT NULL,
	mode VARCHAR(32) NOT NULL,
	capacity DOUBLE PRECISION NOT NULL,
	demand DOUBLE PRECISION NOT NULL,
	reserve DOUBLE PRECISION NOT NULL,
	shed INTEGER NOT NULL,
	recorded_at BIGINT NOT NULL
)`

// Open connects to the database named by cfg and creates the transitions table.
func Open(cfg config.SQL) (*sqlx.DB, error) {
	id, ok := idColumn[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(fmt.Sprintf(schema, id)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb: migrate: %w", err)
	}
	return db, nil
}

// Store reads and writes the transitions table.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// Record inserts one transition.
func (s *Store) Record(ctx context.Context, status power.Status) error {
	query := s.db.Rebind(`INSERT INTO transitions
		(network, tick, previous, mode, capacity, demand, reserve, shed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		status.PID.String(),
		int64(status.Tick),
		status.Previous.String(),
		status.Mode.String(),
		status.Capacity,
		status.Load,
		status.Reserve,
		status.Shed,
		s.clock().UnixNano(),
	)
	return err
}

// Recent returns up to limit transitions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transition, error) {
	rows := []Transition{}
	query := s.db.Rebind(`SELECT * FROM transitions ORDER BY id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// ForNetwork returns every transition of one network, oldest first.
func (s *Store) ForNetwork(ctx context.Context, network uuid.UUID) ([]Transition, error) {
	rows := []Transition{}
	query := s.db.Rebind(`SELECT * FROM transitions WHERE network = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, network.String()); err != nil {
		return nil, err
	}
	return rows, nil
}

// Handler writes every published transition to the store.
type Handler struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	inbox  <-chan msg.Msg
	system msg.Publisher
	store  *Store
	stop   chan struct{}
	done   chan struct{}
}

// New subscribes to the system's transitions.
func New(store *Store, system msg.Publisher) (*Handler, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	inbox, err := system.Subscribe(pid, msg.Transition)
	if err != nil {
		return nil, err
	}
	return &Handler{
		mux:    &sync.Mutex{},
		pid:    pid,
		inbox:  inbox,
		system: system,
		store:  store,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// PID is the handler's subscriber identity.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// Process records transitions until Stop is called or the system closes the inbox.
func (h *Handler) Process() {
	defer close(h.done)
	log.Info("[SQL] Process Started")
loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			status, ok := m.Payload().(power.Status)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := h.store.Record(ctx, status); err != nil {
				log.WithField("network", status.PID).Errorf("[SQL] record transition: %v", err)
			}
			cancel()
		case <-h.stop:
			h.system.Unsubscribe(h.pid)
			break loop
		}
	}
	log.Info("[SQL] Process Shutdown")
}

// Stop ends Process and waits for it to return. It is safe to call more than once.
func (h *Handler) Stop() {
	h.mux.Lock()
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	h.mux.Unlock()
	<-h.done
}
