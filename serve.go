package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"library-backend/docs"
	"library-backend/internal/catalog"
	"library-backend/internal/circulation"
	"library-backend/internal/labels"
	"library-backend/internal/overdue"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/config"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/notify"
	"library-backend/internal/platform/telemetry"
	"library-backend/internal/readers"
)

// app は serve / CLI で共有する依存一式
type app struct {
	cfg         *config.Config
	conn        *sql.DB
	auth        *auth.Service
	catalog     *catalog.Service
	circulation *circulation.Service
	labels      *labels.Service
	overdue     *overdue.Service
	readers     *readers.Service
}

func openApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] mode:%s\n", cfg.Mode)

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, cfg.DB.Driver); err != nil {
		conn.Close()
		return nil, err
	}
	log.Printf("[INFO] connected to DB: %s", dbLabel(cfg.DB))

	notifier, err := newNotifier(cfg.Mail)
	if err != nil {
		conn.Close()
		return nil, err
	}

	authSvc := auth.NewService(conn, []byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	return &app{
		cfg:     cfg,
		conn:    conn,
		auth:    authSvc,
		catalog: catalog.NewService(conn),
		circulation: circulation.NewService(conn, notifier, authSvc, circulation.Options{
			CodeTTL:         time.Duration(cfg.Circulation.CodeTTLMinutes) * time.Minute,
			DefaultLoanDays: cfg.Circulation.DefaultLoanDays,
		}),
		labels:  labels.NewService(conn),
		overdue: overdue.NewService(conn, notifier),
		readers: readers.NewService(conn, authSvc),
	}, nil
}

func (a *app) Close() error { return a.conn.Close() }

func newNotifier(cfg config.MailConfig) (notify.Notifier, error) {
	if !cfg.Enabled {
		log.Println("[INFO] mail disabled, notifications go to the log")
		return notify.LogNotifier{}, nil
	}
	n, err := notify.NewSMTPNotifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}
	log.Printf("[INFO] mail via %s:%d", cfg.Host, cfg.Port)
	return n, nil
}

func dbLabel(c config.DatabaseConfig) string {
	if c.Driver == db.DriverSQLite {
		return c.Path
	}
	return c.DBName
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfgPath)
		},
	}
}

func runServe(ctx context.Context, cfgPath string) error {
	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTracing, err := telemetry.Setup(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("[WARN] tracing shutdown: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if a.cfg.Server.TLS {
			certFile, keyFile := certPaths(a.cfg)
			log.Printf("[INFO] listening on https://%s", a.cfg.Server.Addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[INFO] listening on http://%s", a.cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Println("[INFO] shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// 証明書は config/tls/<mode>/ 配下
func certPaths(cfg *config.Config) (string, string) {
	dir := filepath.Join("config", "tls", cfg.Mode)
	return filepath.Join(dir, cfg.Certificate.Cert), filepath.Join(dir, cfg.Certificate.Key)
}

func newRouter(a *app) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if a.cfg.Mode == "dev" && len(a.cfg.Server.CORSOrigins) > 0 {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     a.cfg.Server.CORSOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if a.cfg.Version != "" {
		docs.SwaggerInfo.Version = a.cfg.Version
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	secret := []byte(a.cfg.Auth.JWTSecret)
	api := r.Group("/api")

	auth.RegisterRoutes(api.Group("/auth"), a.auth, auth.NewIPLimiter(a.cfg.Auth.LoginRatePerMinute))
	catalog.RegisterRoutes(api, a.catalog)

	admin := api.Group("/admin", auth.RequireAuth(secret), auth.RequireActive(a.auth), auth.RequireRole(auth.RoleAdmin))
	auth.RegisterAdminRoutes(admin, a.auth)
	catalog.RegisterAdminRoutes(admin, a.catalog)
	circulation.RegisterAdminRoutes(admin, a.circulation)
	labels.RegisterAdminRoutes(admin, a.labels)
	overdue.RegisterAdminRoutes(admin, a.overdue)
	readers.RegisterAdminRoutes(admin, a.readers)

	reader := api.Group("/reader", auth.RequireAuth(secret), auth.RequireActive(a.auth), auth.RequireRole(auth.RoleReader))
	readers.RegisterReaderRoutes(reader, a.readers)
	circulation.RegisterReaderRoutes(reader, a.circulation)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			apierr.Respond(c, apierr.NotFound("no such endpoint"))
			return
		}
		c.Status(http.StatusNotFound)
	})
	return r
}
