package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/libtrack/loan-service/config"
	"github.com/libtrack/loan-service/internal/gateway"
	"github.com/libtrack/loan-service/internal/handler"
	"github.com/libtrack/loan-service/internal/repository"
	"github.com/libtrack/loan-service/internal/server"
	"github.com/libtrack/loan-service/internal/service"
	"github.com/libtrack/loan-service/migrations"
	"github.com/libtrack/loan-service/pkg/auth"
	"github.com/libtrack/loan-service/pkg/email"
	"github.com/libtrack/loan-service/pkg/kafka"
	"github.com/libtrack/loan-service/pkg/logger"
	"github.com/libtrack/loan-service/pkg/postgres"
)

func Run(cfg *config.Config) error {
	log := logger.NewLogger(cfg.Log, "loan-service")
	auth.JWTKey = []byte(cfg.JWTKey)

	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		return fmt.Errorf("db init %v", err)
	}
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		return fmt.Errorf("repo %v", err)
	}

	var producer sarama.SyncProducer
	if len(cfg.Kafka.Addrs) > 0 {
		if producer, err = kafka.NewProducer(cfg.Kafka); err != nil {
			return fmt.Errorf("kafka producer %v", err)
		}
	}
	var mailer *email.Sender
	if cfg.SMTP.Enabled() {
		mailer = email.NewSender(cfg.SMTP)
	}

	notifier := service.NewNotifier(repo, producer, mailer, log)
	gw := gateway.NewClient(cfg.Gateway, log)
	svc := service.NewService(repo, gw, notifier, log, service.WithPendingTTL(cfg.Sweeper.PendingTTL))
	h := handler.New(svc, cfg.Gateway.CallbackToken, cfg.AuthMode, log)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return srv.Run()
	})
	g.Go(func() error {
		svc.RunSweeper(gCtx, cfg.Sweeper.Interval)
		return nil
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))
	cancelRun()

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.Error("srv.Stop", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		log.Error("server run", zap.Error(err))
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("producer.Close", zap.Error(err))
		}
	}
	db.Close()
	log.Info("Graceful shutdown finished")
	return nil
}
