// Package app wires repositories and services over one Postgres pool. Every
// binary that runs business operations builds its services here.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/api"
	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/identity"
	"github.com/hackgods/hospital-operations/internal/inventory"
	"github.com/hackgods/hospital-operations/internal/patient"
	redisclient "github.com/hackgods/hospital-operations/internal/redis"
	"github.com/hackgods/hospital-operations/internal/visit"
)

type App struct {
	Tx         db.TxRunner
	Identity   *identity.Service
	Patients   *patient.Service
	Scheduling *appointment.Service
	Visits     *visit.Service
	Inventory  *inventory.Service
	Billing    *billing.Service
	Audit      *audit.Service
}

// New builds every service. A nil locker falls back to row locks alone.
func New(pool *pgxpool.Pool, locker redisclient.Locker, cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}

	tx := db.NewTxRunner(pool, cfg.TxMaxRetries, logger.Named("tx"))
	auditRepo := audit.NewPgRepository(pool)
	sink := audit.NewSink(auditRepo, cfg.OutboxTopicPrefix, logger.Named("audit"))

	idSvc := identity.NewService(identity.NewPgRepository(pool), tx, sink, cfg.Login, logger.Named("identity"))
	billSvc := billing.NewService(billing.NewPgRepository(pool), tx, idSvc, sink, logger.Named("billing"))
	apptRepo := appointment.NewPgRepository(pool)

	return &App{
		Tx:         tx,
		Identity:   idSvc,
		Patients:   patient.NewService(patient.NewPgRepository(pool), tx, idSvc, sink),
		Scheduling: appointment.NewService(apptRepo, tx, idSvc, sink, locker, logger.Named("scheduling")),
		Visits:     visit.NewService(visit.NewPgRepository(pool), apptRepo, billSvc, tx, idSvc, sink, logger.Named("visit")),
		Inventory:  inventory.NewService(inventory.NewPgRepository(pool), tx, idSvc, sink, billSvc, cfg.Stock, logger.Named("inventory")),
		Billing:    billSvc,
		Audit:      audit.NewService(auditRepo, idSvc),
	}
}

// Services exposes the app to the HTTP layer.
func (a *App) Services() api.Services {
	return api.Services{
		Identity:   a.Identity,
		Patients:   a.Patients,
		Scheduling: a.Scheduling,
		Visits:     a.Visits,
		Inventory:  a.Inventory,
		Billing:    a.Billing,
		Audit:      a.Audit,
	}
}
