package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pyama86/queueline/api"
	queueline "github.com/pyama86/queueline/domain"
	"github.com/pyama86/queueline/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "starting queueline server",
	Long:  `It is starting queueline server command.`,
	Run: func(cmd *cobra.Command, args []string) {
		config := queueline.Config{}

		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.SetEnvPrefix("QUEUELINE")
		viper.AutomaticEnv()
		viper.SetConfigType("toml")
		if err := viper.ReadInConfig(); err == nil {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}

		if err := viper.Unmarshal(&config); err != nil {
			logrus.Fatal(err)
		}

		validate := validator.New(validator.WithRequiredStructEnabled())
		if err := validate.Struct(config); err != nil {
			logrus.Fatal(err)
		}
		if err := runServer(cmd, &config); err != nil {
			logrus.Fatal(err)
		}
	},
}

func runServer(cmd *cobra.Command, config *queueline.Config) error {
	e := echo.New()
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().RequestURI == "/status" || c.Request().RequestURI == "/metrics"
		},
		Format: `{"time":"${time_rfc3339_nano}","remote_ip":"${remote_ip}",` +
			`"host":"${host}","method":"${method}","uri":"${uri}",` +
			`"status":${status},"error":"${error}","latency":"${latency_human}"}` + "\n",
	}))
	e.Use(middleware.Recover())
	e.HideBanner = true

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := initTracer(ctx)
	if err != nil {
		return err
	}
	e.Use(otelecho.Middleware("queueline", otelecho.WithTracerProvider(tp)))
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("error shutting down tracer provider", slog.String("error", err.Error()))
		}
	}()

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
		logLevel = slog.LevelDebug
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn":
		e.Logger.SetLevel(log.WARN)
		logLevel = slog.LevelWarn
	case "error":
		e.Logger.SetLevel(log.ERROR)
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	redisDB := 0
	if os.Getenv("REDIS_DB") != "" {
		ai, err := strconv.Atoi(os.Getenv("REDIS_DB"))
		if err != nil {
			return err
		}
		redisDB = ai
	}

	redisHost := getEnv("REDIS_HOST", "127.0.0.1")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisOptions := redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort),
		DB:   redisDB,
	}

	if os.Getenv("REDIS_PASSWORD") != "" {
		redisOptions.Password = os.Getenv("REDIS_PASSWORD")
	}

	redisc := redis.NewClient(&redisOptions)
	if _, err := redisc.Ping(ctx).Result(); err != nil {
		return err
	}

	store := queueline.NewQueueStore(config.MaxQueueSize)
	service := queueline.NewQueueline(config, store, repository.NewQueueRepository(redisc))
	if err := service.Restore(ctx); err != nil {
		// スナップショットが壊れていても空の行列で起動する
		slog.Error("failed to restore queue snapshot", slog.String("error", err.Error()))
	}

	hub := api.NewHub()
	api.WebSocketEndpoints(e, service, hub, config)

	e.GET("/status", func(c echo.Context) error {
		if _, err := redisc.Ping(c.Request().Context()).Result(); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "datastore connection error")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	go func() {
		if err := e.Start(config.Listener); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server", err)
		}
	}()

	// 定期スナップショット保存
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(config.SaveIntervalSec) * time.Second):
			}
			if _, err := service.Save(ctx); err != nil {
				slog.Error("periodic queue save failed", slog.String("error", err.Error()))
			}
		}
	}()

	// 長時間待ちのエントリを掃除する
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(config.SweepIntervalSec) * time.Second):
			}
			if removed := service.SweepStale(ctx); len(removed) > 0 {
				hub.Broadcast(api.NewQueueUpdateMessage(service.Snapshot()))
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	qctx, qcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer qcancel()
	if err := e.Shutdown(qctx); err != nil {
		return err
	}

	// 終了前に最後のスナップショットを書いておく
	if _, err := service.Save(qctx); err != nil {
		slog.Error("final queue save failed", slog.String("error", err.Error()))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func init() {
	serverCmd.PersistentFlags().String("log-level", "info", "log level(debug,info,warn,error)")
	viper.BindPFlag("LogLevel", serverCmd.PersistentFlags().Lookup("log-level"))

	serverCmd.PersistentFlags().String("listener", "localhost:18080", "listen host")
	viper.BindPFlag("Listener", serverCmd.PersistentFlags().Lookup("listener"))

	viper.SetDefault("max_queue_size", 100)
	viper.SetDefault("max_wait_sec", 7200)
	viper.SetDefault("save_interval_sec", 60)
	viper.SetDefault("sweep_interval_sec", 900)
	viper.BindEnv("admin_password", "QUEUELINE_ADMIN_PASSWORD")
	viper.BindEnv("slack_api_token", "SLACK_API_TOKEN")
	viper.BindEnv("slack_channel", "SLACK_CHANNEL")
	rootCmd.AddCommand(serverCmd)
}

func initTracer(ctx context.Context) (*sdktrace.TracerProvider, error) {
	otelAgentAddr, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if !ok {
		otelAgentAddr = "0.0.0.0:4317"
	}

	client := otlptracehttp.NewClient(
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(otelAgentAddr))

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
