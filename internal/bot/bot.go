package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"esimstore/internal/models"
	"esimstore/internal/services"
)

// Config собирает токены и курсы, которые нужны боту для продаж.
type Config struct {
	Token          string
	ProviderToken  string
	WebAppURL      string
	SupportBotURL  string
	NewsChannelURL string
	OperatorChatID int64
	RubPerUSD      int64
	StarsPerUSD    int64
}

type Bot struct {
	API       *tgbotapi.BotAPI
	Catalog   *services.CatalogService
	Purchases *services.PurchaseService
	Esims     *services.EsimService
	Users     services.UserStore
	Assistant *services.AssistantService
	Cfg       Config
	InfoLog   *log.Logger
	ErrorLog  *log.Logger
}

func New(cfg Config, catalog *services.CatalogService, purchases *services.PurchaseService, esims *services.EsimService, users services.UserStore, assistant *services.AssistantService, infoLog, errorLog *log.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot api: %w", err)
	}
	return &Bot{
		API:       api,
		Catalog:   catalog,
		Purchases: purchases,
		Esims:     esims,
		Users:     users,
		Assistant: assistant,
		Cfg:       cfg,
		InfoLog:   infoLog,
		ErrorLog:  errorLog,
	}, nil
}

// Run consumes long-poll updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.API.GetUpdatesChan(u)

	b.InfoLog.Printf("bot started as @%s", b.API.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.API.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.ErrorLog.Printf("panic in update handler: %v", r)
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	switch msg.Command() {
	case "start":
		b.registerUser(ctx, msg.From)
		b.sendMainMenu(msg.Chat.ID)
		return
	case "esims":
		b.handleMyEsims(ctx, msg.Chat.ID)
		return
	case "help":
		b.sendHelp(msg.Chat.ID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// Цифра после выбора пакета означает количество.
	if qty, err := strconv.Atoi(text); err == nil {
		if b.handleQuantity(ctx, msg.Chat.ID, qty) {
			return
		}
	}

	b.handleAssistantQuestion(ctx, msg.Chat.ID, text)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	data := cq.Data

	b.ackCallback(cq.ID)

	switch {
	case data == "nav_menu":
		b.sendMainMenu(chatID)
	case data == "nav_buy":
		b.sendScopeMenu(chatID)
	case data == "nav_esims":
		b.handleMyEsims(ctx, chatID)
	case data == "nav_help":
		b.sendHelp(chatID)
	case data == "scope_regional":
		b.sendPackageList(chatID, "Regional plans", b.Catalog.Regional())
	case data == "scope_global":
		b.sendPackageList(chatID, "Global plans", b.Catalog.Global())
	case strings.HasPrefix(data, "countries:"):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, "countries:"))
		b.sendCountryPage(chatID, page)
	case strings.HasPrefix(data, "country:"):
		code := strings.TrimPrefix(data, "country:")
		b.sendPackageList(chatID, "Plans for "+code, b.Catalog.ByCountry(code))
	case strings.HasPrefix(data, "pkg:"):
		b.handlePackageChosen(chatID, strings.TrimPrefix(data, "pkg:"))
	case strings.HasPrefix(data, "pay:"):
		b.handlePayMethod(ctx, chatID, strings.TrimPrefix(data, "pay:"))
	case strings.HasPrefix(data, "paycheck:"):
		invoiceID, _ := strconv.ParseInt(strings.TrimPrefix(data, "paycheck:"), 10, 64)
		b.handlePayCheck(ctx, chatID, invoiceID)
	case strings.HasPrefix(data, "esim_cancel:"):
		b.handleCancel(ctx, chatID, strings.TrimPrefix(data, "esim_cancel:"))
	case strings.HasPrefix(data, "esim_topups:"):
		b.handleTopupOptions(ctx, chatID, strings.TrimPrefix(data, "esim_topups:"))
	case strings.HasPrefix(data, "esim_usage:"):
		b.handleUsage(ctx, chatID, strings.TrimPrefix(data, "esim_usage:"))
	case strings.HasPrefix(data, "esim_remove:"):
		b.handleRemove(ctx, chatID, strings.TrimPrefix(data, "esim_remove:"))
	case strings.HasPrefix(data, "topup:"):
		b.handleTopup(ctx, chatID, strings.TrimPrefix(data, "topup:"))
	}
}

func (b *Bot) registerUser(ctx context.Context, from *tgbotapi.User) {
	if from == nil || b.Users == nil {
		return
	}
	_, err := b.Users.UpsertTelegram(ctx, models.TelegramUser{
		ID:           from.ID,
		Username:     from.UserName,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		LanguageCode: from.LanguageCode,
	})
	if err != nil {
		b.ErrorLog.Printf("register user %d: %v", from.ID, err)
	}
}

func (b *Bot) handleAssistantQuestion(ctx context.Context, chatID int64, question string) {
	if b.Assistant == nil {
		b.sendText(chatID, "Use the menu below to browse plans.", mainMenuKeyboard(b.Cfg))
		return
	}
	res, err := b.Assistant.Ask(ctx, services.AskParams{Question: question, UseLLM: true})
	if err != nil {
		b.ErrorLog.Printf("assistant: %v", err)
		b.sendText(chatID, "Something went wrong, try the menu below.", mainMenuKeyboard(b.Cfg))
		return
	}
	b.sendText(chatID, res.Answer, mainMenuKeyboard(b.Cfg))
}

func (b *Bot) ackCallback(id string) {
	if _, err := b.API.Request(tgbotapi.CallbackConfig{CallbackQueryID: id}); err != nil {
		b.ErrorLog.Printf("ack callback: %v", err)
	}
}

func (b *Bot) sendText(chatID int64, text string, keyboard any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	if _, err := b.API.Send(msg); err != nil {
		b.ErrorLog.Printf("send to %d: %v", chatID, err)
	}
}

func (b *Bot) notifyOperator(text string) {
	if b.Cfg.OperatorChatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(b.Cfg.OperatorChatID, text)
	if _, err := b.API.Send(msg); err != nil {
		b.ErrorLog.Printf("notify operator: %v", err)
	}
}
