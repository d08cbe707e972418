package main

import (
	"context"
	"crypto/rsa"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatehouse/server/internal/config"
	"github.com/gatehouse/server/internal/db"
	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/service"
	sqlitestore "github.com/gatehouse/server/internal/gatehouse/store/sqlite"
	"github.com/gatehouse/server/internal/httpapi"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "gatehouse ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doorDecls, err := config.LoadDoors(cfg.DoorsFile)
	if err != nil {
		logger.Fatalf("doors config: %v", err)
	}
	doors := make([]door.Client, 0, len(doorDecls))
	for _, d := range doorDecls {
		doors = append(doors, door.NewISAPIClient(door.ISAPIConfig{
			Name:        d.Name,
			Host:        d.Host,
			Username:    d.Username,
			Password:    d.Password,
			EmployeeNo:  d.EmployeeNo,
			CallTimeout: cfg.DoorCallBudget,
		}))
	}

	// Ledger
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	leaseStore := sqlitestore.NewLeaseStore(conn, writer)

	// Services
	grants := service.NewGrantService(leaseStore, doors, service.GrantConfig{
		Validity: cfg.CardValidity,
	}, logger)

	reconciler := service.NewReconciler(leaseStore, doors, service.ReconcilerConfig{
		Interval: cfg.SweepInterval,
		Lookback: cfg.UsageLookback,
	}, logger)

	status := service.NewDoorStatusService(doors)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:          logger,
		Addr:            cfg.HTTPAddr,
		GrantService:    grants,
		Reconciler:      reconciler,
		StatusService:   status,
		PublicKey:       loadPublicKey(cfg, logger),
		AllowTestToken:  cfg.AllowTestToken,
		DefaultLookback: cfg.UsageLookback,
	})

	reconciler.Start(ctx)
	defer reconciler.Stop()

	go func() {
		logger.Printf("listening on %s (doors=%d)", cfg.HTTPAddr, len(doors))
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// loadPublicKey reads the bearer-token verification key.  A missing key is
// tolerated in test mode (the static tester token still works) and fatal
// otherwise.
func loadPublicKey(cfg config.Config, logger *log.Logger) *rsa.PublicKey {
	pem, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		if cfg.AllowTestToken {
			logger.Printf("no public key at %s, only the test token will be accepted", cfg.PublicKeyPath)
			return nil
		}
		logger.Fatalf("read public key: %v", err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		logger.Fatalf("parse public key %s: %v", cfg.PublicKeyPath, err)
	}
	return key
}
