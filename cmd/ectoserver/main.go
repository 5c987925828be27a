package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apierrors "github.com/ecto-chat/ecto-server/internal/apierrors"

	"github.com/ecto-chat/ecto-server/internal/api"
	"github.com/ecto-chat/ecto-server/internal/attachment"
	"github.com/ecto-chat/ecto-server/internal/auditlog"
	"github.com/ecto-chat/ecto-server/internal/auth"
	"github.com/ecto-chat/ecto-server/internal/bootstrap"
	"github.com/ecto-chat/ecto-server/internal/category"
	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/config"
	"github.com/ecto-chat/ecto-server/internal/disposable"
	"github.com/ecto-chat/ecto-server/internal/email"
	"github.com/ecto-chat/ecto-server/internal/gateway"
	"github.com/ecto-chat/ecto-server/internal/httputil"
	"github.com/ecto-chat/ecto-server/internal/invite"
	"github.com/ecto-chat/ecto-server/internal/media"
	"github.com/ecto-chat/ecto-server/internal/member"
	"github.com/ecto-chat/ecto-server/internal/message"
	"github.com/ecto-chat/ecto-server/internal/pagecontent"
	"github.com/ecto-chat/ecto-server/internal/webhook"
	"github.com/ecto-chat/ecto-server/internal/onboarding"
	"github.com/ecto-chat/ecto-server/internal/page"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/presence"
	"github.com/ecto-chat/ecto-server/internal/postgres"
	"github.com/ecto-chat/ecto-server/internal/ratelimit"
	"github.com/ecto-chat/ecto-server/internal/readstate"
	"github.com/ecto-chat/ecto-server/internal/role"
	"github.com/ecto-chat/ecto-server/internal/search"
	servercfg "github.com/ecto-chat/ecto-server/internal/server"
	"github.com/ecto-chat/ecto-server/internal/serverdm"
	"github.com/ecto-chat/ecto-server/internal/sharedfolder"
	"github.com/ecto-chat/ecto-server/internal/user"
	"github.com/ecto-chat/ecto-server/internal/valkey"
	"github.com/ecto-chat/ecto-server/internal/voice"

	"github.com/ecto-chat/ecto-server/internal/permissions"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg              *config.Config
	db               *pgxpool.Pool
	rdb              *redis.Client
	userRepo         user.Repository
	authService      *auth.Service
	serverRepo       servercfg.Repository
	channelRepo      channel.Repository
	categoryRepo     category.Repository
	roleRepo         role.Repository
	memberRepo       member.Repository
	inviteRepo       invite.Repository
	messageRepo      message.Repository
	readStateRepo    readstate.Repository
	pageContentRepo  pagecontent.Repository
	webhookRepo      webhook.Repository
	serverDMRepo     serverdm.Repository
	sharedFolderRepo sharedfolder.Repository
	auditRepo        auditlog.Repository
	attachmentRepo   attachment.Repository
	storage          media.StorageProvider
	permStore        permission.OverrideStore
	permReadStore    permission.Store
	permResolver     *permission.Resolver
	permPublisher    *permission.Publisher
	gatewayPublisher *gateway.Publisher
	gatewayHub       *gateway.Hub
	centralVerifier  *auth.CentralVerifier
	onboardingRepo   onboarding.Repository
	documentStore    *onboarding.DocumentStore
	presenceStore    *presence.Store
	limiter          *ratelimit.Limiter
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting ecto-server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Valkey
	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	// Check first-run and seed if needed
	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("First run detected, running initialization")
		if err := bootstrap.RunFirstInit(ctx, db, cfg, log.Logger); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	// Initialise disposable email blocklist with periodic refresh so newly added disposable domains are picked up
	// without requiring a server restart. Prefetch is called synchronously so the cache is warm before the server
	// begins accepting requests.
	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled, cfg.DisposableEmailBlocklistTimeout, log.Logger)
	blocklist.Prefetch(ctx)

	// Initialise permission engine
	permStore := permission.NewPGStore(db)
	permCache := permission.NewValkeyCache(rdb)
	permResolver := permission.NewResolver(permStore, permCache, log.Logger)
	permPublisher := permission.NewPublisher(rdb)

	// Initialise user repository early because the background purge goroutine needs it.
	userRepo := user.NewPGRepository(db, log.Logger)

	// Start background services with a shared cancellable context.
	subCtx, subCancel := context.WithCancel(ctx)

	if cfg.DisposableEmailBlocklistEnabled {
		go func() {
			ticker := time.NewTicker(cfg.DisposableEmailBlocklistRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-subCtx.Done():
					return
				case <-ticker.C:
					blocklist.Refresh(subCtx)
				}
			}
		}()
	}

	// The purge goroutine is started below after the attachment repository is initialised, because orphan attachment
	// cleanup needs access to the repo and storage provider.
	startPurgeGoroutine := func(attachRepo *attachment.PGRepository, storage media.StorageProvider) {
		go func() {
			purgeExpiredData(subCtx, userRepo, attachRepo, storage, cfg)

			ticker := time.NewTicker(cfg.DataCleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-subCtx.Done():
					return
				case <-ticker.C:
					purgeExpiredData(subCtx, userRepo, attachRepo, storage, cfg)
				}
			}
		}()
	}

	// Start permission cache invalidation subscriber with reconnection.
	defer subCancel()
	permSub := permission.NewSubscriber(permCache, rdb, log.Logger)
	go runWithBackoff(subCtx, "permission-cache-subscriber", permSub.Run)

	// SMTP client for transactional email (verification, password reset, etc.)
	var emailSender auth.Sender
	if cfg.SMTPConfigured() {
		emailClient := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err := emailClient.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("SMTP connection test failed. Verification emails may not be delivered.")
		} else {
			log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("SMTP connection verified")
		}
		emailSender = emailClient
		if cfg.IsDevelopment() {
			log.Info().Msg("SMTP routed to Mailpit. View caught emails at http://localhost:8025")
		}
	} else {
		log.Warn().Msg("SMTP_HOST is not configured. Email verification will only work in development mode (token logged to console).")
	}

	// Initialise storage provider.
	var storage media.StorageProvider
	switch cfg.StorageBackend {
	case "local":
		storage = media.NewLocalStorage(cfg.StorageLocalPath, cfg.ServerURL)
		log.Info().Str("path", cfg.StorageLocalPath).Msg("Local file storage initialised")
	default:
		return fmt.Errorf("unsupported storage backend: %q", cfg.StorageBackend)
	}

	// Initialise remaining repositories and services
	serverRepo := servercfg.NewPGRepository(db, log.Logger)
	channelRepo := channel.NewPGRepository(db, log.Logger)
	categoryRepo := category.NewPGRepository(db, log.Logger)
	roleRepo := role.NewPGRepository(db, log.Logger)
	memberRepo := member.NewPGRepository(db, log.Logger)
	inviteRepo := invite.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	readStateRepo := readstate.NewPGRepository(db, log.Logger)
	pageContentRepo := pagecontent.NewPGRepository(db, log.Logger)
	webhookRepo := webhook.NewPGRepository(db, log.Logger)
	serverDMRepo := serverdm.NewPGRepository(db, log.Logger)
	sharedFolderRepo := sharedfolder.NewPGRepository(db, log.Logger)
	auditRepo := auditlog.NewPGRepository(db, log.Logger)
	attachmentRepo := attachment.NewPGRepository(db, log.Logger)
	gatewayPub := gateway.NewPublisher(rdb, log.Logger)
	onboardingRepo := onboarding.NewPGRepository(db, log.Logger)
	presenceStore := presence.NewStore(rdb)

	var documentStore *onboarding.DocumentStore
	if cfg.OnboardingDocumentsDir != "" {
		documentStore, err = onboarding.LoadDocuments(cfg.OnboardingDocumentsDir)
		if err != nil {
			return fmt.Errorf("load onboarding documents: %w", err)
		}
	} else {
		documentStore = onboarding.EmptyDocumentStore()
	}

	startPurgeGoroutine(attachmentRepo, storage)

	// Start thumbnail worker with reconnection.
	thumbWorker := media.NewThumbnailWorker(rdb, storage, attachmentRepo, log.Logger)
	thumbWorker.EnsureStream(subCtx)
	go runWithBackoff(subCtx, "thumbnail-worker", thumbWorker.Run)
	authService, err := auth.NewService(userRepo, rdb, cfg, blocklist, emailSender, serverRepo, permPublisher, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth service")
	}
	// Issued tokens carry the member's token_version so bumping the column invalidates them.
	authService.ConfigureTokenVersions(memberRepo)

	// Central token fallback, active only when CENTRAL_URL is configured.
	var centralVerifier *auth.CentralVerifier
	if cfg.CentralURL != "" {
		centralVerifier = auth.NewCentralVerifier(cfg.CentralURL, 5*time.Minute)
	}

	// Voice control plane. The stub media engine keeps signaling fully functional without an external SFU worker
	// binary; a production media deployment swaps the engine implementation here.
	voiceManager := voice.NewManager(voice.NewStubMediaEngine(), cfg.VoiceWorkerCount, cfg.MaxVoiceParticipants, log.Logger)

	// Initialise gateway WebSocket hub and start the pub/sub subscriber with reconnection.
	sessionStore := gateway.NewSessionStore(rdb, cfg.GatewaySessionTTL, cfg.GatewayReplayBufferSize)
	gatewayHub := gateway.NewHub(rdb, cfg, sessionStore, permResolver, userRepo, serverRepo, channelRepo, roleRepo,
		memberRepo, presenceStore, readStateRepo, voiceManager, gatewayPub, onboardingRepo, documentStore, log.Logger)
	go runWithBackoff(subCtx, "gateway-hub", gatewayHub.Run)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "ecto-server",
		BodyLimit: cfg.BodyLimitBytes(),
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.InternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    apiCode,
					Message: message,
				},
			})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/api/v1/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	// Global API rate limiter
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	// Register routes
	srv := &server{
		cfg:              cfg,
		db:               db,
		rdb:              rdb,
		userRepo:         userRepo,
		serverRepo:       serverRepo,
		channelRepo:      channelRepo,
		categoryRepo:     categoryRepo,
		roleRepo:         roleRepo,
		memberRepo:       memberRepo,
		inviteRepo:       inviteRepo,
		messageRepo:      messageRepo,
		readStateRepo:    readStateRepo,
		pageContentRepo:  pageContentRepo,
		webhookRepo:      webhookRepo,
		serverDMRepo:     serverDMRepo,
		sharedFolderRepo: sharedFolderRepo,
		auditRepo:        auditRepo,
		attachmentRepo:   attachmentRepo,
		storage:          storage,
		authService:      authService,
		permStore:        permStore,
		permReadStore:    permStore,
		permResolver:     permResolver,
		permPublisher:    permPublisher,
		gatewayPublisher: gatewayPub,
		gatewayHub:       gatewayHub,
		centralVerifier:  centralVerifier,
		onboardingRepo:   onboardingRepo,
		documentStore:    documentStore,
		presenceStore:    presenceStore,
		limiter:          ratelimit.New(rdb),
	}
	srv.registerRoutes(app)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		gatewayHub.Shutdown()
		voiceCtx, voiceCancel := context.WithTimeout(context.Background(), 5*time.Second)
		voiceManager.Shutdown(voiceCtx)
		voiceCancel()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	// Listen
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Debug().
		Uint64("alloc_mb", mem.Alloc/1024/1024).
		Uint64("sys_mb", mem.Sys/1024/1024).
		Uint64("heap_inuse_mb", mem.HeapInuse/1024/1024).
		Uint64("stack_inuse_mb", mem.StackInuse/1024/1024).
		Uint32("num_gc", mem.NumGC).
		Msg("Runtime memory stats")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := auth.RequireAuthCentral(s.cfg.JWTSecret, s.cfg.ServerURL, s.centralVerifier, s.memberRepo)
	requireVerified := auth.RequireVerifiedEmail(s.userRepo)
	requireActive := member.RequireActiveMember(s.memberRepo)

	// Browser-facing email verification page (outside /api/v1/ because users click this link directly from email)
	verifyHandler := page.NewVerifyHandler(s.authService, s.cfg.ServerName, nil, log.Logger)
	app.Get("/verify-email", limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthCount,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}), verifyHandler.VerifyEmail)

	health := api.NewHealthHandler(s.db, redisPinger{client: s.rdb})
	app.Get("/api/v1/health", health.Health)

	authHandler := api.NewAuthHandler(s.authService, log.Logger)

	// Auth routes with stricter rate limiting (public, no email/member checks)
	authGroup := app.Group("/api/v1/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthCount,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.Refresh)
	authGroup.Post("/verify-email", authHandler.VerifyEmail)
	authGroup.Post("/mfa/verify", authHandler.MFAVerify)
	authGroup.Post("/verify-password", requireAuth, authHandler.VerifyPassword)

	// User profile routes (authenticated + verified email, no member check required)
	userHandler := api.NewUserHandler(s.userRepo, s.authService, log.Logger)
	userGroup := app.Group("/api/v1/users", requireAuth, requireVerified)
	userGroup.Get("/@me", userHandler.GetMe)
	userGroup.Patch("/@me", userHandler.UpdateMe)
	userGroup.Delete("/@me", userHandler.DeleteMe)
	userGroup.Put("/@me/password", userHandler.ChangePassword)

	// MFA management routes (authenticated + verified email)
	mfaHandler := api.NewMFAHandler(s.authService, log.Logger)
	mfaGroup := userGroup.Group("/@me/mfa")
	mfaGroup.Post("/enable", mfaHandler.Enable)
	mfaGroup.Post("/confirm", mfaHandler.Confirm)
	mfaGroup.Post("/disable", mfaHandler.Disable)
	mfaGroup.Post("/recovery-codes", mfaHandler.RegenerateCodes)

	// Server config routes (authenticated + verified email)
	serverHandler := api.NewServerHandler(s.serverRepo, log.Logger)
	app.Get("/api/v1/server/info", serverHandler.GetPublicInfo)
	serverGroup := app.Group("/api/v1/server", requireAuth, requireVerified)
	serverGroup.Get("/", serverHandler.Get)
	serverGroup.Patch("/", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageServer), serverHandler.Update)

	// Channel routes (server group: list is open to pending, create requires active)
	channelHandler := api.NewChannelHandler(s.channelRepo, s.memberRepo, s.inviteRepo, s.permResolver, s.cfg.MaxChannels, log.Logger)
	serverGroup.Get("/channels", channelHandler.ListChannels)
	serverGroup.Post("/channels", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageChannels),
		channelHandler.CreateChannel)

	// Channel routes (standalone group: all routes require active membership)
	channelGroup := app.Group("/api/v1/channels", requireAuth, requireVerified, requireActive)
	channelGroup.Get("/:channelID",
		permission.RequirePermission(s.permResolver, permissions.ViewChannels),
		channelHandler.GetChannel)
	channelGroup.Patch("/:channelID",
		permission.RequirePermission(s.permResolver, permissions.ManageChannels),
		channelHandler.UpdateChannel)
	channelGroup.Delete("/:channelID",
		permission.RequirePermission(s.permResolver, permissions.ManageChannels),
		channelHandler.DeleteChannel)

	// Permission override routes
	permHandler := api.NewPermissionHandler(s.permStore, s.permResolver, s.permPublisher, log.Logger)
	channelGroup.Put("/:channelID/overrides/:targetID",
		permission.RequireServerPermission(s.permResolver, permissions.ManageRoles),
		permHandler.SetOverride)
	channelGroup.Delete("/:channelID/overrides/:targetID",
		permission.RequireServerPermission(s.permResolver, permissions.ManageRoles),
		permHandler.DeleteOverride)
	channelGroup.Get("/:channelID/permissions/@me",
		permHandler.GetMyPermissions)

	// Attachment upload route (nested under channels, inherits active requirement)
	attachmentHandler := api.NewAttachmentHandler(
		s.attachmentRepo, s.storage, s.rdb, s.cfg.MaxUploadSizeBytes(), log.Logger)
	channelGroup.Post("/:channelID/attachments",
		limiter.New(limiter.Config{
			Max:        s.cfg.RateLimitUploadCount,
			Expiration: time.Duration(s.cfg.RateLimitUploadWindowSeconds) * time.Second,
		}),
		permission.RequirePermission(s.permResolver, permissions.AttachFiles),
		attachmentHandler.Upload)

	// Decorative image uploads (server icon/banner, page banner) and DM attachments
	uploadHandler := api.NewUploadHandler(
		s.serverRepo, s.serverDMRepo, s.storage, s.permResolver, s.gatewayPublisher,
		s.cfg.MaxUploadSizeBytes(), log.Logger)
	uploadGroup := app.Group("/api/v1/upload", requireAuth, requireVerified, requireActive)
	uploadGroup.Post("/icon", uploadHandler.UploadIcon)
	uploadGroup.Post("/banner", uploadHandler.UploadBanner)
	uploadGroup.Post("/page-banner", uploadHandler.UploadPageBanner)
	app.Post("/api/v1/dm/upload", requireAuth, requireVerified, requireActive, uploadHandler.UploadDM)

	// Message routes (nested under channels for list and create, inherits active requirement)
	messageHandler := api.NewMessageHandler(
		s.messageRepo, s.attachmentRepo, s.channelRepo, s.readStateRepo, s.serverRepo, s.auditRepo,
		s.storage, s.permResolver, s.gatewayPublisher,
		s.limiter, s.cfg.MaxMessageLength, s.cfg.MaxAttachmentsPerMessage, log.Logger)
	channelGroup.Get("/:channelID/messages",
		permission.RequirePermission(s.permResolver, permissions.ViewChannels|permissions.ReadMessageHistory),
		messageHandler.ListMessages)
	channelGroup.Post("/:channelID/messages",
		permission.RequirePermission(s.permResolver, permissions.SendMessages),
		messageHandler.CreateMessage)

	// Message routes (standalone for edit and delete, require active membership)
	messageGroup := app.Group("/api/v1/messages", requireAuth, requireVerified, requireActive)
	messageGroup.Patch("/:messageID", messageHandler.EditMessage)
	messageGroup.Delete("/:messageID", messageHandler.DeleteMessage)
	// Pin and reaction routes check permissions inside the handler since the channel is resolved from the
	// message rather than present as a route param.
	messageGroup.Put("/:messageID/pin", messageHandler.Pin)
	messageGroup.Put("/:messageID/reactions/:emoji", messageHandler.AddReaction)
	messageGroup.Delete("/:messageID/reactions/:emoji", messageHandler.RemoveReaction)

	// Page content routes (nested under channels; permission checks happen inside the handler since GET
	// requires VIEW_CHANNELS while PUT/revisions require EDIT_PAGES)
	pageContentHandler := api.NewPageContentHandler(s.pageContentRepo, s.channelRepo, s.permResolver, s.gatewayPublisher, log.Logger)
	channelGroup.Get("/:channelID/page", pageContentHandler.GetContent)
	channelGroup.Put("/:channelID/page", pageContentHandler.UpdateContent)
	channelGroup.Get("/:channelID/page/revisions", pageContentHandler.ListRevisions)

	// Webhook management routes (nested under channels; standalone group for per-webhook operations)
	webhookHandler := api.NewWebhookHandler(
		s.webhookRepo, s.messageRepo, s.channelRepo, s.permResolver, s.auditRepo, s.gatewayPublisher,
		s.limiter, log.Logger)
	channelGroup.Post("/:channelID/webhooks",
		permission.RequirePermission(s.permResolver, permissions.ManageWebhooks),
		webhookHandler.CreateWebhook)
	channelGroup.Get("/:channelID/webhooks",
		permission.RequirePermission(s.permResolver, permissions.ManageWebhooks),
		webhookHandler.ListWebhooks)
	webhookGroup := app.Group("/api/v1/webhooks", requireAuth, requireVerified, requireActive)
	webhookGroup.Delete("/:webhookID", webhookHandler.DeleteWebhook)
	webhookGroup.Post("/:webhookID/token", webhookHandler.RegenerateToken)
	// Public execute endpoint: no auth middleware, authenticates by id+token in the URL.
	app.Post("/webhooks/:webhookID/:token", webhookHandler.Execute)

	// Direct message routes (server-scoped DMs between two members, standalone group)
	serverDMHandler := api.NewServerDMHandler(s.serverDMRepo, s.memberRepo, s.gatewayPublisher, s.limiter, log.Logger)
	dmGroup := app.Group("/api/v1/dms", requireAuth, requireVerified, requireActive)
	dmGroup.Post("/:userID", serverDMHandler.OpenConversation)
	dmGroup.Get("/", serverDMHandler.ListConversations)
	dmGroup.Get("/:conversationID/messages", serverDMHandler.ListMessages)
	dmGroup.Post("/:conversationID/messages", serverDMHandler.SendMessage)
	dmGroup.Post("/:conversationID/typing", serverDMHandler.Typing)
	dmGroup.Put("/:conversationID/read", serverDMHandler.MarkRead)
	dmMessageGroup := app.Group("/api/v1/dms/messages", requireAuth, requireVerified, requireActive)
	dmMessageGroup.Patch("/:messageID", serverDMHandler.EditMessage)
	dmMessageGroup.Delete("/:messageID", serverDMHandler.DeleteMessage)
	dmMessageGroup.Put("/:messageID/reactions/:emoji", serverDMHandler.AddReaction)
	dmMessageGroup.Delete("/:messageID/reactions/:emoji", serverDMHandler.RemoveReaction)

	// Shared-file folder tree routes (server-wide, independent of the channel tree)
	sharedFolderHandler := api.NewSharedFolderHandler(
		s.sharedFolderRepo, s.storage, s.permResolver, s.permStore, s.auditRepo, s.gatewayPublisher,
		s.cfg.StorageQuotaBytes, s.cfg.MaxUploadSizeBytes(), log.Logger)
	sharedGroup := app.Group("/shared", requireAuth, requireVerified, requireActive)
	sharedGroup.Post("/folders", sharedFolderHandler.CreateFolder)
	sharedGroup.Get("/folders", sharedFolderHandler.ListFolders)
	sharedGroup.Delete("/folders/:folderID", sharedFolderHandler.DeleteFolder)
	sharedGroup.Post("/upload",
		limiter.New(limiter.Config{
			Max:        s.cfg.RateLimitUploadCount,
			Expiration: time.Duration(s.cfg.RateLimitUploadWindowSeconds) * time.Second,
		}),
		sharedFolderHandler.Upload)
	sharedGroup.Get("/files", sharedFolderHandler.ListFiles)
	sharedGroup.Delete("/files/:fileID", sharedFolderHandler.DeleteFile)
	sharedGroup.Put("/:itemID/overrides/:targetID", sharedFolderHandler.SetItemOverride)
	sharedGroup.Delete("/:itemID/overrides/:targetID", sharedFolderHandler.DeleteItemOverride)

	// Typing indicator routes (nested under channels, inherits active requirement)
	typingHandler := api.NewTypingHandler(s.presenceStore, s.gatewayPublisher, s.limiter, log.Logger)
	channelGroup.Post("/:channelID/typing",
		permission.RequirePermission(s.permResolver, permissions.SendMessages),
		typingHandler.StartTyping)
	channelGroup.Delete("/:channelID/typing",
		permission.RequirePermission(s.permResolver, permissions.SendMessages),
		typingHandler.StopTyping)

	// Read-state routes (mark-read nested under channels; the listing backs clients resyncing after a dropped
	// gateway session)
	readStateHandler := api.NewReadStateHandler(s.readStateRepo, log.Logger)
	channelGroup.Put("/:channelID/read",
		permission.RequirePermission(s.permResolver, permissions.ViewChannels),
		readStateHandler.MarkRead)
	app.Get("/api/v1/read-states", requireAuth, requireVerified, requireActive, readStateHandler.List)

	// Search routes (require active membership)
	searchSearcher := search.NewPGSearcher(s.db)
	searchService := search.NewService(s.channelRepo, s.permResolver, searchSearcher, log.Logger)
	searchHandler := api.NewSearchHandler(searchService, log.Logger)
	app.Get("/api/v1/search/messages", requireAuth, requireVerified, requireActive,
		searchHandler.SearchMessages)

	// Category routes (server group routes need per-route active, standalone group requires active)
	categoryHandler := api.NewCategoryHandler(s.categoryRepo, s.cfg.MaxCategories, log.Logger)
	serverGroup.Get("/categories", requireActive, categoryHandler.ListCategories)
	serverGroup.Post("/categories", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageCategories),
		categoryHandler.CreateCategory)

	categoryGroup := app.Group("/api/v1/categories", requireAuth, requireVerified, requireActive)
	categoryGroup.Patch("/:categoryID",
		permission.RequireServerPermission(s.permResolver, permissions.ManageCategories),
		categoryHandler.UpdateCategory)
	categoryGroup.Delete("/:categoryID",
		permission.RequireServerPermission(s.permResolver, permissions.ManageCategories),
		categoryHandler.DeleteCategory)

	// Role routes (all require active membership)
	roleHandler := api.NewRoleHandler(s.roleRepo, s.permPublisher, s.gatewayPublisher, s.cfg.MaxRoles, log.Logger)
	serverGroup.Get("/roles", requireActive, roleHandler.ListRoles)
	serverGroup.Post("/roles", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageRoles),
		roleHandler.CreateRole)
	serverGroup.Patch("/roles/:roleID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageRoles),
		roleHandler.UpdateRole)
	serverGroup.Delete("/roles/:roleID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageRoles),
		roleHandler.DeleteRole)

	// Invite management routes (under /api/v1/server, require active membership)
	inviteHandler := api.NewInviteHandler(s.inviteRepo, s.onboardingRepo, s.memberRepo, s.userRepo, log.Logger)
	serverGroup.Post("/invites", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.CreateInvites),
		inviteHandler.CreateInvite)
	serverGroup.Get("/invites", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageInvites),
		inviteHandler.ListInvites)

	// Invite action routes (under /api/v1/invites, authenticated + verified email)
	inviteGroup := app.Group("/api/v1/invites", requireAuth, requireVerified)
	inviteGroup.Delete("/:code", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageInvites),
		inviteHandler.DeleteInvite)
	inviteGroup.Post("/:code/join", inviteHandler.JoinViaInvite)

	// Onboarding routes (authenticated + verified email, no active member check — onboarding itself gates activation)
	onboardingHandler := api.NewOnboardingHandler(
		s.onboardingRepo, s.documentStore, s.memberRepo, s.userRepo, s.serverRepo, s.gatewayPublisher, log.Logger)
	onboardingGroup := app.Group("/api/v1/onboarding", requireAuth)
	onboardingGroup.Get("/", onboardingHandler.GetOnboarding)
	onboardingGroup.Patch("/", requireVerified, onboardingHandler.UpdateOnboarding)
	onboardingGroup.Post("/accept", requireVerified, onboardingHandler.AcceptOnboarding)
	onboardingGroup.Get("/status", onboardingHandler.GetOnboardingStatus)
	serverGroup.Post("/join", onboardingHandler.JoinServer)

	// Member routes (mixed: some require active, some do not)
	memberHandler := api.NewMemberHandler(
		s.memberRepo, s.roleRepo, s.permReadStore, s.permResolver, s.permPublisher, s.gatewayPublisher, s.auditRepo, log.Logger)
	memberGroup := serverGroup.Group("/members")
	memberGroup.Get("/", requireActive, memberHandler.ListMembers)
	memberGroup.Get("/@me", memberHandler.GetSelf)
	memberGroup.Patch("/@me", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ChangeNicknames),
		memberHandler.UpdateSelf)
	memberGroup.Delete("/@me", memberHandler.Leave)
	memberGroup.Get("/:userID", requireActive, memberHandler.GetMember)
	memberGroup.Patch("/:userID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ManageNicknames),
		memberHandler.UpdateMember)
	memberGroup.Delete("/:userID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.KickMembers),
		memberHandler.KickMember)
	memberGroup.Put("/:userID/timeout", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.TimeoutMembers),
		memberHandler.SetTimeout)
	memberGroup.Delete("/:userID/timeout", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.TimeoutMembers),
		memberHandler.ClearTimeout)
	memberGroup.Put("/:userID/roles/:roleID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.AssignRoles),
		memberHandler.AssignRole)
	memberGroup.Delete("/:userID/roles/:roleID", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.AssignRoles),
		memberHandler.RemoveRole)

	// Ban routes (require active membership)
	banGroup := serverGroup.Group("/bans", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.BanMembers))
	banGroup.Get("/", memberHandler.ListBans)
	banGroup.Put("/:userID", memberHandler.BanMember)
	banGroup.Delete("/:userID", memberHandler.UnbanMember)

	// Audit log (require active membership + VIEW_AUDIT_LOG)
	auditLogHandler := api.NewAuditLogHandler(s.auditRepo, log.Logger)
	serverGroup.Get("/audit-log", requireActive,
		permission.RequireServerPermission(s.permResolver, permissions.ViewAuditLog),
		auditLogHandler.List)

	// Public media file serving (outside /api/v1/, no auth required). The UUID component of each storage key provides
	// sufficient entropy to prevent guessing. Directory traversal is prevented by Fiber's path parameter sanitisation.
	if _, ok := s.storage.(*media.LocalStorage); ok {
		app.Get("/media/*", func(c fiber.Ctx) error {
			key := c.Params("*")
			if key == "" || strings.Contains(key, "..") {
				return fiber.ErrNotFound
			}
			rc, err := s.storage.Get(c.Context(), key)
			if err != nil {
				return fiber.ErrNotFound
			}
			defer func() { _ = rc.Close() }()

			// Set a long cache header since attachment URLs include a unique UUID.
			c.Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.SendStream(rc)
		})
	}

	// Gateway WebSocket endpoint (unauthenticated; authentication happens inside the WebSocket via Identify/Resume).
	gatewayHandler := api.NewGatewayHandler(s.gatewayHub)
	app.Get("/api/v1/gateway", gatewayHandler.Upgrade)
	app.Get("/api/v1/notify", gatewayHandler.UpgradeNotify)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as route matches, so without this terminal handler the router considers unmatched requests "handled"
	// and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// redisPinger adapts *redis.Client to the api.Pinger interface.
type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// purgeExpiredData deletes stale login attempts, deletion tombstones, and orphaned attachments. Each call logs the
// outcome so operators can monitor retention enforcement.
func purgeExpiredData(ctx context.Context, repo *user.PGRepository, attachRepo *attachment.PGRepository, storage media.StorageProvider, cfg *config.Config) {
	deleted, err := repo.PurgeLoginAttempts(ctx, time.Now().Add(-cfg.LoginAttemptRetention))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to purge expired login attempts")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", cfg.LoginAttemptRetention).Msg("Purged expired login attempts")
	}

	if cfg.DeletionTombstoneRetention > 0 {
		deleted, err := repo.PurgeTombstones(ctx, time.Now().Add(-cfg.DeletionTombstoneRetention))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired deletion tombstones")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Dur("retention", cfg.DeletionTombstoneRetention).
				Msg("Purged expired deletion tombstones")
		}
	}

	// Purge orphaned attachments (uploaded but never linked to a message).
	orphanKeys, err := attachRepo.PurgeOrphans(ctx, time.Now().Add(-cfg.AttachmentOrphanTTL))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to purge orphaned attachments")
	} else if len(orphanKeys) > 0 {
		for _, key := range orphanKeys {
			if delErr := storage.Delete(ctx, key); delErr != nil {
				log.Warn().Err(delErr).Str("key", key).Msg("Failed to delete orphaned attachment file")
			}
		}
		log.Info().Int("deleted", len(orphanKeys)).Dur("ttl", cfg.AttachmentOrphanTTL).
			Msg("Purged orphaned attachment files")
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled error.
// If fn returns nil or context.Canceled the goroutine exits. The delay starts at 1 second and doubles on each
// consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest protocol
// error code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusMethodNotAllowed:
		return apierrors.ValidationError
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusRequestEntityTooLarge:
		return apierrors.PayloadTooLarge
	case fiber.StatusServiceUnavailable:
		return apierrors.ServiceUnavailable
	default:
		if status >= 400 && status < 500 {
			return apierrors.ValidationError
		}
		return apierrors.InternalError
	}
}
