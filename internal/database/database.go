package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"shop_back_end/internal/config"
)

// =============================================
// SCYLLA DB (one session per keyspace)
// =============================================

type ScyllaKeyspaceConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	SSLEnabled  bool
	CACertPath  string
	Timeout     time.Duration
	NumConns    int
	Consistency gocql.Consistency
}

type ScyllaManager struct {
	sessions map[string]*gocql.Session // keyspace -> session
	configs  map[string]ScyllaKeyspaceConfig
	mu       sync.Mutex
	log      *slog.Logger

	productsKeyspace string
	ordersKeyspace   string
	usersKeyspace    string
}

// NewScyllaManager opens a session for each configured keyspace.
func NewScyllaManager(cfg config.ScyllaConfig, log *slog.Logger) (*ScyllaManager, error) {
	sm := &ScyllaManager{
		sessions:         make(map[string]*gocql.Session),
		configs:          keyspaceConfigs(cfg),
		log:              log,
		productsKeyspace: cfg.ProductsKeyspace,
		ordersKeyspace:   cfg.OrdersKeyspace,
		usersKeyspace:    cfg.UsersKeyspace,
	}

	for keyspace := range sm.configs {
		if _, err := sm.GetSession(keyspace); err != nil {
			sm.Close()
			return nil, fmt.Errorf("init keyspace %s: %w", keyspace, err)
		}
	}
	return sm, nil
}

func keyspaceConfigs(cfg config.ScyllaConfig) map[string]ScyllaKeyspaceConfig {
	configs := make(map[string]ScyllaKeyspaceConfig)
	for _, ks := range []string{cfg.ProductsKeyspace, cfg.OrdersKeyspace, cfg.UsersKeyspace} {
		if ks == "" {
			continue
		}
		configs[ks] = ScyllaKeyspaceConfig{
			Hosts:       cfg.Hosts,
			Keyspace:    ks,
			Username:    cfg.Username,
			Password:    cfg.Password,
			SSLEnabled:  cfg.SSLEnabled,
			CACertPath:  cfg.CACertPath,
			Timeout:     cfg.Timeout,
			NumConns:    cfg.NumConns,
			Consistency: gocql.Quorum,
		}
	}
	return configs
}

func createScyllaCluster(cfg ScyllaKeyspaceConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = cfg.Consistency
	// CAS updates on stock run at SERIAL.
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = cfg.Timeout
	cluster.NumConns = cfg.NumConns
	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = 1 * time.Second

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.SSLEnabled {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 cfg.CACertPath,
			EnableHostVerification: cfg.CACertPath != "",
		}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster
}

// GetSession returns the cached session for keyspace, opening it on first use.
// A cached session is never replaced.
func (sm *ScyllaManager) GetSession(keyspace string) (*gocql.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cfg, ok := sm.configs[keyspace]
	if !ok {
		return nil, fmt.Errorf("keyspace %q not configured", keyspace)
	}

	if session, ok := sm.sessions[keyspace]; ok {
		return session, nil
	}

	session, err := createScyllaCluster(cfg).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", keyspace, err)
	}

	sm.sessions[keyspace] = session
	sm.log.Info("scylla session opened", "keyspace", keyspace, "user", cfg.Username)
	return session, nil
}

func (sm *ScyllaManager) ProductsSession() (*gocql.Session, error) {
	return sm.GetSession(sm.productsKeyspace)
}

func (sm *ScyllaManager) OrdersSession() (*gocql.Session, error) {
	return sm.GetSession(sm.ordersKeyspace)
}

func (sm *ScyllaManager) UsersSession() (*gocql.Session, error) {
	return sm.GetSession(sm.usersKeyspace)
}

// Close closes every open session.
func (sm *ScyllaManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for keyspace, session := range sm.sessions {
		session.Close()
		sm.log.Info("scylla session closed", "keyspace", keyspace)
	}
	sm.sessions = make(map[string]*gocql.Session)
}

// Ping checks that every configured keyspace answers. It backs /readyz.
func (sm *ScyllaManager) Ping(ctx context.Context) error {
	sm.mu.Lock()
	keyspaces := make([]string, 0, len(sm.configs))
	for ks := range sm.configs {
		keyspaces = append(keyspaces, ks)
	}
	sm.mu.Unlock()
	sort.Strings(keyspaces)

	for _, ks := range keyspaces {
		session, err := sm.GetSession(ks)
		if err != nil {
			return err
		}
		if err := session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("ping %s: %w", ks, err)
		}
	}
	return nil
}
