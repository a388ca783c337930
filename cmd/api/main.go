package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/facturacion-cfdi/internal/application/timbrado"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/cache"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/facturacion-cfdi/internal/interfaces/http"
	"github.com/jhoicas/facturacion-cfdi/pkg/config"
	"github.com/jhoicas/facturacion-cfdi/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("pac_env", cfg.PAC.Env).
		Msg("iniciando aplicación")

	ctx := context.Background()

	// CSD: disco o bucket S3
	var src csd.Source = csd.FileSource{Dir: cfg.CSD.Dir}
	if cfg.CSD.Source == "s3" {
		s3src, err := csd.NewS3Source(ctx, csd.S3Config{
			Endpoint:     cfg.Storage.Endpoint,
			Region:       cfg.Storage.Region,
			Bucket:       cfg.Storage.Bucket,
			Prefix:       cfg.Storage.Prefix,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			UsePathStyle: cfg.Storage.UsePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("origen S3 de CSD")
		}
		src = s3src
	}
	store := csd.NewStore(src, cfg.CSD.PassphraseFor, csd.WithLogger(log.Component("csd")))

	// Cliente del PAC
	registry := pac.NewRegistry(
		pac.WithTimeout(cfg.PAC.Timeout),
		pac.WithLogger(log.Component("pac")),
	)
	var extra []pac.Option
	if cfg.PAC.BaseURL != "" {
		extra = append(extra, pac.WithBaseURL(cfg.PAC.BaseURL))
	}
	if cfg.PAC.ResellerUsername != "" {
		extra = append(extra, pac.WithReseller(pac.Credentials{
			Username: cfg.PAC.ResellerUsername, Password: cfg.PAC.ResellerPassword,
		}))
	}
	pacClient, err := registry.Client(pac.Environment(cfg.PAC.Env),
		pac.Credentials{Username: cfg.PAC.Username, Password: cfg.PAC.Password}, extra...)
	if err != nil {
		log.Fatal().Err(err).Msg("cliente del PAC")
	}

	stampTimeout := max(cfg.PAC.StampTimeout, pacClient.StampBudget())
	opts := []timbrado.Option{
		timbrado.WithStampTimeout(stampTimeout),
		timbrado.WithLogger(log.Component("pipeline")),
	}

	// Candado de timbrado en curso: Redis si hay varias réplicas, memoria si no
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
		opts = append(opts, timbrado.WithGuard(cache.NewRedisGuard(rdb, cfg.Redis.Prefix)))
	} else {
		opts = append(opts, timbrado.WithGuard(cache.NewMemoryGuard()))
	}

	// Bitácora: PostgreSQL si está configurado; si no queda en memoria
	if cfg.DB.Enabled() {
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("esquema de la bitácora")
		}
		opts = append(opts, timbrado.WithJournal(postgres.NewStampJournalRepository(pool)))
	} else {
		log.Warn().Msg("sin base de datos: la bitácora de timbrado vive en memoria")
	}

	pipeline := timbrado.NewPipeline(pacClient, store, opts...)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  time.Second * 60,
		ErrorHandler: httpRouter.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(httpRouter.RequestLogger(log.Component("http")))

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Facturación CFDI API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "pac": cfg.PAC.Env})
	})

	deps := httpRouter.RouterDeps{Stamping: pipeline, PACHeldCSD: cfg.PAC.PACHeldCSD}
	// el alta de emisores exige cuenta de socio
	if cfg.PAC.ResellerUsername != "" {
		deps.Registrar = pacClient
	}
	httpRouter.Router(app, deps)

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	// los timbrados en curso usan un contexto desacoplado; se les da el plazo completo
	shutdownCtx, cancel := context.WithTimeout(context.Background(), stampTimeout+5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
