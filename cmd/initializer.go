package main

import (
	"database/sql"
	"log"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"esimstore/internal/bot"
	"esimstore/internal/config"
	"esimstore/internal/esimaccess"
	"esimstore/internal/handlers"
	"esimstore/internal/payments"
	"esimstore/internal/repositories"
	services "esimstore/internal/services"
	"esimstore/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	db       *sql.DB
	rdb      *redis.Client
	tokens   *utils.Manager

	userRepo     *repositories.UserRepository
	orderRepo    *repositories.OrderRepository
	paymentState *repositories.PaymentStateRepository

	provider  *esimaccess.Client
	catalog   *services.CatalogService
	purchases *services.PurchaseService
	esims     *services.EsimService

	authHandler      *handlers.AuthHandler
	esimHandler      *handlers.EsimHandler
	catalogHandler   *handlers.CatalogHandler
	assistantHandler *handlers.AssistantHandler

	wsManager *WebSocketManager
	bot       *bot.Bot
}

func initializeApp(db *sql.DB, rdb *redis.Client, cfg config.Config, errorLog, infoLog *log.Logger) (*application, error) {
	// External clients
	provider, err := esimaccess.NewClient(esimaccess.Config{
		BaseURL:    cfg.Esim.BaseURL,
		AccessCode: cfg.Esim.AccessCode,
		SecretKey:  cfg.Esim.SecretKey,
	})
	if err != nil {
		return nil, err
	}

	crypto, err := payments.NewCryptoPayClient(payments.CryptoPayConfig{
		Token:   cfg.CryptoPay.Token,
		BaseURL: cfg.CryptoPay.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := utils.NewManager(cfg.Auth.SigningKey)
	if err != nil {
		return nil, err
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	orderRepo := repositories.NewOrderRepository(db)
	paymentState := repositories.NewPaymentStateRepository(rdb)

	wsManager := NewWebSocketManager()

	// Services
	catalogService := &services.CatalogService{Provider: provider}

	purchaseService := &services.PurchaseService{
		Provider: provider,
		Orders:   orderRepo,
		Pending:  paymentState,
		Crypto:   crypto,
		Events:   wsManager,
		Poll:     services.DefaultPollPolicy,
		InfoLog:  infoLog,
		ErrorLog: errorLog,
	}
	if cfg.S3.Enabled {
		qrStorage, err := utils.NewQRStorage(utils.S3Config{
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			return nil, err
		}
		purchaseService.Mirror = qrStorage
	}

	esimService := &services.EsimService{
		Provider: provider,
		Orders:   orderRepo,
		InfoLog:  infoLog,
		ErrorLog: errorLog,
	}

	authService := &services.AuthService{
		BotToken: cfg.Telegram.BotToken,
		Users:    userRepo,
		Tokens:   tokens,
	}

	var chatClient services.ChatCompletionClient
	if cfg.OpenAI.APIKey != "" {
		chatClient = services.NewOpenAIClient(nil, cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	assistantService := services.NewAssistantService(nil, chatClient)

	// Handlers
	authHandler := &handlers.AuthHandler{Service: authService, ErrorLog: errorLog}
	esimHandler := &handlers.EsimHandler{
		Esims:     esimService,
		Purchases: purchaseService,
		Provider:  provider,
		ErrorLog:  errorLog,
	}
	catalogHandler := &handlers.CatalogHandler{Catalog: catalogService}
	assistantHandler := handlers.NewAssistantHandler(assistantService)

	// Bot
	storeBot, err := bot.New(bot.Config{
		Token:          cfg.Telegram.BotToken,
		ProviderToken:  cfg.Telegram.ProviderToken,
		WebAppURL:      cfg.Telegram.WebAppURL,
		SupportBotURL:  cfg.Telegram.SupportBotURL,
		NewsChannelURL: cfg.Telegram.NewsChannelURL,
		OperatorChatID: cfg.Telegram.OperatorChatID,
		RubPerUSD:      cfg.Telegram.RubPerUSD,
		StarsPerUSD:    cfg.Telegram.StarsPerUSD,
	}, catalogService, purchaseService, esimService, userRepo, assistantService, infoLog, errorLog)
	if err != nil {
		return nil, err
	}

	return &application{
		errorLog:         errorLog,
		infoLog:          infoLog,
		db:               db,
		rdb:              rdb,
		tokens:           tokens,
		userRepo:         userRepo,
		orderRepo:        orderRepo,
		paymentState:     paymentState,
		provider:         provider,
		catalog:          catalogService,
		purchases:        purchaseService,
		esims:            esimService,
		authHandler:      authHandler,
		esimHandler:      esimHandler,
		catalogHandler:   catalogHandler,
		assistantHandler: assistantHandler,
		wsManager:        wsManager,
		bot:              storeBot,
	}, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		return nil, err
	}
	db.SetMaxIdleConns(35)
	log.Println("Successfully connected to database")
	return db, nil
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
