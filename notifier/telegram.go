package notifier

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier 交易事件通知接口
type Notifier interface {
	Notify(message string)
	NotifyHalt(reason string)
	NotifyTrade(event, symbol, side string, quantity, price, pnl float64)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = NopNotifier{}
)

// TelegramNotifier 通过Telegram推送关键事件（开平仓、止损、熔断）
// 仅做单向推送，不处理任何入站命令
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier 创建Telegram通知器
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram通知未配置 (需要 TELEGRAM_BOT_TOKEN 和 TELEGRAM_CHAT_ID)")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("初始化Telegram Bot失败: %w", err)
	}

	log.Printf("✅ Telegram通知已启用 (bot: %s)", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Notify 发送消息（失败只记日志，不影响交易主流程）
func (n *TelegramNotifier) Notify(message string) {
	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		log.Printf("⚠️ Telegram消息发送失败: %v", err)
	}
}

// NotifyHalt 推送熔断告警
func (n *TelegramNotifier) NotifyHalt(reason string) {
	n.Notify(fmt.Sprintf("🛑 EchoTrade 紧急停止\n原因: %s", reason))
}

// NotifyTrade 推送开平仓事件
func (n *TelegramNotifier) NotifyTrade(event, symbol, side string, quantity, price, pnl float64) {
	var text string
	switch event {
	case "open":
		text = fmt.Sprintf("📈 开仓 %s %s\n数量: %.6f @ %.2f", symbol, side, quantity, price)
	case "close":
		text = fmt.Sprintf("📉 平仓 %s %s\n数量: %.6f @ %.2f\n盈亏: %+.2f USDT", symbol, side, quantity, price, pnl)
	case "stop_loss":
		text = fmt.Sprintf("⚠️ 止损触发 %s %s\n数量: %.6f @ %.2f\n盈亏: %+.2f USDT", symbol, side, quantity, price, pnl)
	default:
		text = fmt.Sprintf("ℹ️ %s %s %s %.6f @ %.2f", event, symbol, side, quantity, price)
	}
	n.Notify(text)
}

// NopNotifier 未配置Telegram时的空实现
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

func (NopNotifier) NotifyHalt(string) {}

func (NopNotifier) NotifyTrade(string, string, string, float64, float64, float64) {}
