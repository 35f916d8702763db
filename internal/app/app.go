package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/Kzoeps/maearth-test/internal/config"
	"github.com/Kzoeps/maearth-test/internal/http/handler"
	"github.com/Kzoeps/maearth-test/internal/http/middleware"
	"github.com/Kzoeps/maearth-test/internal/http/response"
	"github.com/Kzoeps/maearth-test/internal/observability"
	"github.com/Kzoeps/maearth-test/internal/pds"
	"github.com/Kzoeps/maearth-test/internal/service"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	Server *http.Server

	runtime *observability.Runtime
	redis   *redis.Client
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pdsClient, err := pds.NewClient(pds.Options{
		BaseURL:       cfg.PDSURL,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		Timeout:       cfg.RequestTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var lookupCache service.LookupCacheStore
	var sessionStore service.SessionStore
	var searchLimiter, signupLimiter *middleware.RateLimiter
	searchWindow := time.Minute
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lookupCache = service.NewRedisLookupCacheStore(redisClient, "")
		sessionStore = service.NewRedisSessionStore(redisClient, "")
		limiter := middleware.NewRedisFixedWindowLimiter(redisClient, "")
		searchLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.SearchRateLimitPerMin, searchWindow, middleware.FailOpen, "search")
		signupLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.SignupRateLimitPerMin, searchWindow, middleware.FailOpen, "signup")
	} else {
		lookupCache = service.NewInMemoryLookupCacheStore()
		sessionStore = service.NewFileSessionStore(cfg.SessionFile)
		local := middleware.NewLocalFixedWindowLimiter()
		searchLimiter = middleware.NewDistributedRateLimiter(local, cfg.SearchRateLimitPerMin, searchWindow, middleware.FailClosed, "search")
		signupLimiter = middleware.NewDistributedRateLimiter(local, cfg.SignupRateLimitPerMin, searchWindow, middleware.FailClosed, "signup")
	}

	lookup := service.NewAccountLookup(pdsClient, lookupCache, service.AccountLookupConfig{
		Concurrency: cfg.LookupConcurrency,
		CacheTTL:    cfg.LookupCacheTTL,
		NegativeTTL: cfg.LookupNegativeTTL,
	}, logger)
	resolver := service.NewAccountResolver(lookup)

	auth := service.NewAuth(pdsClient, resolver, sessionStore, service.AuthConfig{
		AuthorizeEndpoint: cfg.AuthorizeEndpoint(),
		ClientID:          cfg.OAuthClientID,
		RedirectURI:       cfg.OAuthRedirectURI,
		Scope:             cfg.OAuthScope,
		StateSecret:       cfg.StateSigningSecret,
	}, logger)
	auth.Init(ctx)

	claims := service.NewImpactClaims(pdsClient, logger)
	paginator := service.NewPaginator(claims, auth, service.DefaultPageLimit)

	accounts := handler.NewAccountHandler(pdsClient, lookup, cfg.HandleSuffix, cfg.SignupRequireInvite)
	portal := handler.NewPortalHandler(auth, claims, paginator)
	metadata := handler.NewClientMetadataHandler(cfg.OAuthClientID, cfg.OAuthRedirectURI, cfg.OAuthScope)

	router := NewRouter(logger, accounts, portal, metadata, searchLimiter, signupLimiter)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Server:  server,
		runtime: runtime,
		redis:   redisClient,
	}, nil
}

// NewRouter assembles the full HTTP surface: health, the OAuth client
// metadata document, and the /api proxy routes.
func NewRouter(
	logger *slog.Logger,
	accounts *handler.AccountHandler,
	portal *handler.PortalHandler,
	metadata *handler.ClientMetadataHandler,
	searchLimiter *middleware.RateLimiter,
	signupLimiter *middleware.RateLimiter,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		response.JSON(w, req, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/client-metadata.json", metadata.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.With(searchLimiter.Middleware()).Get("/searchAccounts", accounts.SearchAccounts)
		r.With(signupLimiter.Middleware()).Post("/createAccount", accounts.CreateAccount)

		r.Post("/signin", portal.SignIn)
		r.Post("/login", portal.Login)
		r.Post("/logout", portal.Logout)
		r.Get("/session", portal.Session)

		r.Post("/claims", portal.CreateClaim)
		r.Get("/claims", portal.ListClaims)
		r.Post("/claims/next", portal.NextPage)
		r.Post("/claims/back", portal.BackPage)
	})

	return r
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.Server.Shutdown(ctx)
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.runtime != nil {
		_ = a.runtime.Shutdown(ctx)
	}
	return err
}
