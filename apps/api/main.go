package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/elimu/api/echo"
	telegrambot "github.com/trezcool/elimu/bot/telegram"
	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
	anchorsvc "github.com/trezcool/elimu/services/anchor"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	notifysvc "github.com/trezcool/elimu/services/notify"
	verifysvc "github.com/trezcool/elimu/services/verify"
	"github.com/trezcool/elimu/storage/database"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
	sqlxrepos "github.com/trezcool/elimu/storage/database/sqlx"
)

func main() {
	conf := core.LoadConfig()

	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	var logger core.Logger
	if conf.RollbarToken != "" {
		logger = logsvc.NewRollbarLogger(std, conf)
	} else {
		logger = logsvc.NewStdLogger(std, conf.Debug)
	}

	if err := run(conf, logger); err != nil {
		logger.Error("application error", "err", err)
		os.Exit(1)
	}
}

func run(conf *core.Config, logger core.Logger) error {
	logger.Info(fmt.Sprintf("application initializing : version %q", conf.Build))
	defer logger.Info("application stopped")

	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	// =========================================================================
	// Storage

	var (
		usrRepo   user.Repository
		attRepo   attendance.Repository
		leaveRepo leave.Repository
	)
	if conf.Database.Name != "" {
		if err := database.CreateIfNotExist(conf); err != nil {
			return errors.Wrap(err, "creating database")
		}
		db, err := database.Open(conf)
		if err != nil {
			return errors.Wrap(err, "opening database")
		}
		defer db.Close()
		if err = database.Migrate(db, filepath.Join(core.Getwd(), "migrations")); err != nil {
			return errors.Wrap(err, "migrating database")
		}
		usrRepo = sqlxrepos.NewUserRepository(db)
		attRepo = sqlxrepos.NewAttendanceRepository(db)
		leaveRepo = sqlxrepos.NewLeaveRepository(db)
	} else {
		logger.Warn("no database configured, falling back to in-memory storage")
		mem := inmemdb.NewDB()
		usrRepo = inmemdb.NewUserRepository(mem)
		attRepo = inmemdb.NewAttendanceRepository(mem)
		leaveRepo = inmemdb.NewLeaveRepository(mem)
	}

	// =========================================================================
	// Collaborator services

	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridAPIKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	files, err := filestore.NewLocalStore(conf)
	if err != nil {
		return errors.Wrap(err, "setting up file store")
	}

	var anchors core.AnchorService
	if conf.Anchor.Enabled {
		anchors = anchorsvc.NewLedgerService()
	} else {
		anchors = anchorsvc.NewNoopService()
	}

	var (
		extractor core.DocumentExtractor
		verifier  core.DocumentVerifier
	)
	if conf.GenAIAPIKey != "" {
		genaiSvc, err := verifysvc.NewGenAIService(context.Background(), conf, files, logger)
		if err != nil {
			return errors.Wrap(err, "setting up document verifier")
		}
		extractor, verifier = genaiSvc, genaiSvc
	} else {
		logger.Warn("no GenAI key configured, using dummy verifier")
		dummySvc := verifysvc.NewDummyService()
		extractor, verifier = dummySvc, dummySvc
	}

	// =========================================================================
	// Domain services

	usrSvc := user.NewService(conf, usrRepo, mailSvc, validate)
	attSvc := attendance.NewService(attRepo, usrSvc, logger, validate)

	notifier := notifysvc.NewMultiNotifier(notifysvc.NewEmailNotifier(conf, usrSvc, mailSvc, logger))
	leaveSvc := leave.NewService(
		conf, leaveRepo, usrSvc, attSvc, extractor, verifier, anchors, files, notifier, logger, validate,
	)

	// =========================================================================
	// Telegram bot

	botCtx, stopBot := context.WithCancel(context.Background())
	defer stopBot()
	if conf.TelegramBotToken != "" {
		bot, err := telegrambot.NewBot(conf, telegrambot.NewMemoryRegistry(), usrSvc, leaveSvc, files, logger)
		if err != nil {
			return errors.Wrap(err, "setting up telegram bot")
		}
		notifier.Add(telegrambot.NewNotifier(bot))
		go func() {
			if err := bot.Run(botCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("telegram bot stopped", "err", err)
			}
		}()
	}

	// =========================================================================
	// API server

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Address:       fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port),
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		AttendanceSvc: attSvc,
		LeaveSvc:      leaveSvc,
		FileStore:     files,
		Validate:      validate,
		Translator:    translator,
		Shutdown:      shutdown,
	})
	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v : starting shutdown...", sig))
	stopBot()

	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return errors.Wrap(err, "could not stop server gracefully")
	}
	return nil
}
