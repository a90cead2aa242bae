package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log  *zap.Logger
	Once sync.Once
)

// InitLogger 初始化全局日志记录器
func InitLogger(logDir string, debug bool) {
	Once.Do(func() {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			panic(err)
		}

		// 1. 控制台输出 (彩色、人类可读)
		consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
		consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		consoleEncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig),
			zapcore.AddSync(os.Stdout),
			getLogLevel(debug),
		)

		// 2. 文件输出 (JSON + 轮转)
		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		fileWriteSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, "echotrade.json"),
			MaxSize:    10,   // 每个日志文件最大 10MB
			MaxBackups: 30,   // 保留最近 30 个文件
			MaxAge:     30,   // 保留最近 30 天
			Compress:   true, // 压缩旧日志
		})
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig),
			fileWriteSyncer,
			zapcore.InfoLevel, // 文件始终记录 INFO 及以上
		)

		core := zapcore.NewTee(consoleCore, fileCore)

		Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

		// 替换全局标准库 log (拦截部分第三方库的输出)
		zap.ReplaceGlobals(Log)
	})
}

func getLogLevel(debug bool) zapcore.LevelEnabler {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// NewModuleLogger 获取带 module 字段的子 logger
func NewModuleLogger(moduleName string) *zap.Logger {
	if Log == nil {
		InitLogger("logs", true) // 防止未初始化调用 panic
	}
	return Log.With(zap.String("module", moduleName))
}

// TradeEvent 记录关键交易事件（开仓/平仓/止损/熔断等）
// eventType: POSITION_OPENED / POSITION_CLOSED / STOP_LOSS_TRIGGERED /
// ORDER_FAILED / SIGNAL_REJECTED / RISK_HALT
func TradeEvent(eventType, symbol string, fields ...zap.Field) {
	if Log == nil {
		InitLogger("logs", true)
	}
	all := append([]zap.Field{
		zap.String("event", eventType),
		zap.String("symbol", symbol),
	}, fields...)

	switch eventType {
	case "STOP_LOSS_TRIGGERED", "POSITION_CLOSED":
		Log.Warn("trade_event", all...)
	case "ORDER_FAILED", "RISK_HALT":
		Log.Error("trade_event", all...)
	default:
		Log.Info("trade_event", all...)
	}
}

// 辅助函数：通用日志方法
func Info(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Info(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Error(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Warn(msg, fields...)
	}
}

func Debug(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Debug(msg, fields...)
	}
}
