package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/crypto/ssh"

	"gatewarden/internal/auth"
	"gatewarden/internal/config"
	"gatewarden/internal/knownhosts"
	"gatewarden/internal/proxy"
	"gatewarden/internal/recordings"
	"gatewarden/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[BOOT] Failed to load config from %q: %v", *configPath, err)
	}

	hostKey, err := loadOrGenerateHostKey(cfg.Server.HostKeyPath)
	if err != nil {
		log.Fatalf("[BOOT] Failed to load host key: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		users    auth.UserStore
		trustDB  knownhosts.HostKeyStore
		recDB    recordings.RecordingStore
		sessions store.SessionStore
	)

	if cfg.Database.DSN != "" {
		db, err := store.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("[BOOT] Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := seedUsers(ctx, db, cfg); err != nil {
			log.Fatalf("[BOOT] Failed to seed users: %v", err)
		}

		users, trustDB, recDB, sessions = db, db, db, db
		log.Printf("[BOOT] Using database-backed stores")
	} else {
		declared, err := cfg.Users()
		if err != nil {
			log.Fatalf("[BOOT] Invalid user config: %v", err)
		}
		static, err := auth.NewStaticUserStore(declared)
		if err != nil {
			log.Fatalf("[BOOT] Invalid user config: %v", err)
		}
		users = static
		trustDB = knownhosts.NewMemStore()
		recDB = recordings.NewMemStore()
		log.Printf("[BOOT] No database configured — users, host key trust and recording index are in-memory")
	}

	recorder, err := recordings.NewManager(recDB, cfg.Recordings)
	if err != nil {
		log.Fatalf("[BOOT] Failed to initialise recordings: %v", err)
	}

	target := proxy.TargetConfig{
		Addr: cfg.Target.DefaultAddr,
		User: cfg.Target.DefaultUser,
	}

	limits := proxy.LimitsConfig{
		MaxConnections:     cfg.Limits.MaxConnections,
		MaxChannelsPerConn: cfg.Limits.MaxChannelsPerConn,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv, err := proxy.NewSSHServer(
		addr,
		hostKey,
		auth.NewEngine(users),
		knownhosts.NewStore(trustDB),
		knownhosts.Mode(cfg.HostKey.Mode),
		target,
		limits,
	)
	if err != nil {
		log.Fatalf("[BOOT] Failed to create server: %v", err)
	}
	srv.SetRecorder(recorder)
	if sessions != nil {
		srv.SetSessionStore(sessions)
	}

	log.Printf("[BOOT] Gatewarden bastion starting on %s", addr)
	log.Printf("[BOOT] Target: %s (user: %s)", cfg.Target.DefaultAddr, cfg.Target.DefaultUser)
	log.Printf("[BOOT] Host key mode: %s, recordings enabled: %v", cfg.HostKey.Mode, recorder.Enabled())

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("[BOOT] Server error: %v", err)
	}

	log.Println("[BOOT] Gatewarden stopped cleanly.")
}

// seedUsers pushes config-declared accounts into the database so they
// are available alongside anything provisioned there directly.
func seedUsers(ctx context.Context, db *store.PostgresStore, cfg *config.Config) error {
	declared, err := cfg.Users()
	if err != nil {
		return err
	}
	for _, u := range declared {
		if err := db.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		}
	}
	if len(declared) > 0 {
		log.Printf("[BOOT] Seeded %d config-declared user(s)", len(declared))
	}
	return nil
}

func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key from %q: %w", path, err)
		}
		log.Printf("[BOOT] Loaded host key from %q", path)
		return signer, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read host key file %q: %w", path, err)
	}

	log.Printf("[BOOT] Host key file %q not found — generating ephemeral RSA key (dev only)", path)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral host key: %w", err)
	}
	return ssh.NewSignerFromKey(key)
}
