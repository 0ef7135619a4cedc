package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/linemk/resale-orders/internal/app"
	"github.com/linemk/resale-orders/internal/app/handlers"
	"github.com/linemk/resale-orders/internal/config"
	"github.com/linemk/resale-orders/internal/events"
	"github.com/linemk/resale-orders/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/resale-orders/internal/lib/logger"
	"github.com/linemk/resale-orders/internal/lib/logger/handlers/urllog"
	"github.com/linemk/resale-orders/internal/payment"
	"github.com/linemk/resale-orders/internal/service"
	"github.com/linemk/resale-orders/internal/shipping"
	"github.com/linemk/resale-orders/internal/storage"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// paymentGateway - провайдер платежей целиком: создание намерений и разбор вебхуков.
type paymentGateway interface {
	service.PaymentProcessor
	handlers.PaymentWebhookParser
	handlers.PaymentVerifier
}

func main() {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	orderCfg, err := orderConfig(cfg)
	if err != nil {
		log.Error("invalid commission config", slog.Any("error", err))
		panic(errors.Wrap(err, "invalid commission config"))
	}

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	// реализация слоев по работе с БД по каждому направлению
	repos := service.OrderRepositories{
		Orders:    storage.NewOrderRepository(application.DB),
		Products:  storage.NewProductRepository(application.DB),
		Accounts:  storage.NewAccountRepository(application.DB),
		Ledger:    storage.NewLedgerRepository(application.DB),
		Addresses: storage.NewAddressRepository(application.DB),
	}
	reviewRepo := storage.NewReviewRepository(application.DB)

	gateway := carrierGateway(log, application)
	payments := paymentProvider(log, cfg.Payment)

	publisher, closePublisher := eventPublisher(log, cfg.Kafka)
	defer closePublisher()

	orderService := service.NewOrderService(log, application.DB, repos, gateway, payments, publisher, orderCfg)
	reviewService := service.NewReviewService(log, application.DB, repos.Orders, reviewRepo, nil)
	accountService := service.NewAccountService(log, repos.Accounts, repos.Ledger)

	scheduler := service.NewSettlementScheduler(log, repos.Orders, orderService,
		cfg.Settlement.GracePeriod, cfg.Settlement.ScanInterval, cfg.Settlement.BatchSize, nil)
	poller := service.NewTrackingPoller(log, repos.Orders, gateway, orderService,
		cfg.Shipping.PollInterval, cfg.Shipping.PollBatchSize)

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// вебхуки аутентифицируются подписью, а не токеном
	if cfg.Shipping.WebhookSecret != "" {
		router.Post("/webhooks/carrier", handlers.CarrierWebhookHandler(log, cfg.Shipping.WebhookSecret, orderService))
	} else {
		log.Warn("carrier webhook secret is not configured, carrier updates come from polling only")
	}
	router.Post("/webhooks/payment", handlers.PaymentWebhookHandler(log, payments, orderService))

	router.Group(func(r chi.Router) {
		r.Use(jwtmiddleware.NewJWTMiddleware(cfg.JWT.Secret))

		r.Post("/api/orders", handlers.CreateOrderHandler(log, orderService))
		r.Get("/api/orders/purchases", handlers.ListPurchasesHandler(log, orderService))
		r.Get("/api/orders/sales", handlers.ListSalesHandler(log, orderService))

		r.Route("/api/orders/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetOrderHandler(log, orderService))
			r.Get("/tracking", handlers.TrackingHandler(log, orderService))
			r.Post("/confirm-payment", handlers.ConfirmPaymentHandler(log, orderService, payments))
			r.Post("/mark-shipped", handlers.MarkShippedHandler(log, orderService))
			r.Post("/label", handlers.IssueLabelHandler(log, orderService))
			r.Post("/confirm-receipt", handlers.ConfirmReceiptHandler(log, orderService))
			r.Post("/cancel", handlers.CancelOrderHandler(log, orderService))
			r.Post("/review", handlers.SubmitReviewHandler(log, reviewService))
		})

		r.Post("/api/shipping/quote", handlers.QuoteHandler(log, orderService))
		r.Get("/api/account", handlers.AccountStatementHandler(log, accountService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("server gracefully stopped")
}

func orderConfig(cfg *config.Config) (service.OrderConfig, error) {
	minCommission, err := cfg.Commission.MinCommissionAmount()
	if err != nil {
		return service.OrderConfig{}, errors.Wrap(err, "invalid min_commission")
	}
	flatShipping, err := cfg.Commission.FlatShippingPrice()
	if err != nil {
		return service.OrderConfig{}, errors.Wrap(err, "invalid flat_shipping")
	}
	promo, err := cfg.Commission.PromoWindow()
	if err != nil {
		return service.OrderConfig{}, err
	}
	return service.OrderConfig{
		MinCommission:    minCommission,
		FlatShipping:     flatShipping,
		Promo:            promo,
		GracePeriod:      cfg.Settlement.GracePeriod,
		OriginPostalCode: cfg.Shipping.OriginPostalCode,
		Package:          shipping.DefaultPackage,
	}, nil
}

// carrierGateway оборачивает клиент перевозчика кешем трекинга, если есть Redis.
func carrierGateway(log *slog.Logger, application *app.App) shipping.Gateway {
	cfg := application.Config.Shipping
	client := shipping.NewClient(log, shipping.ClientConfig{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	})
	if application.Redis == nil {
		return client
	}
	return shipping.NewCachedGateway(log, client, shipping.NewRedisCache(application.Redis), cfg.CacheTTL)
}

func paymentProvider(log *slog.Logger, cfg config.PaymentConfig) paymentGateway {
	if cfg.SecretKey == "" {
		log.Warn("payment provider is not configured, orders are created without payment intent")
		return payment.Disabled{}
	}
	return payment.NewStripeProcessor(log, payment.StripeConfig{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
		Currency:      cfg.Currency,
	})
}

func eventPublisher(log *slog.Logger, cfg config.KafkaConfig) (service.EventPublisher, func()) {
	if len(cfg.Brokers) == 0 {
		log.Warn("kafka brokers are not configured, order events are not published")
		return events.Nop{}, func() {}
	}
	writer := events.NewWriter(cfg.Brokers)
	return events.NewKafkaPublisher(log, writer, cfg.Topic), func() {
		if err := writer.Close(); err != nil {
			log.Error("failed to close kafka writer", slog.Any("error", err))
		}
	}
}
