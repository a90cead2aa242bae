package execution

import (
	"errors"
	"net"

	"github.com/adshao/go-binance/v2/common"
)

// 致命错误：重试无意义，立即失败
var (
	ErrInsufficientFunds = errors.New("余额不足")
	ErrInvalidSymbol     = errors.New("无效的交易币对")
	ErrInvalidOrder      = errors.New("无效的订单参数")
	ErrMaxRetries        = errors.New("重试次数耗尽")
	ErrHalted            = errors.New("系统处于紧急停止状态")
)

// 币安常见错误码
const (
	binanceCodeRateLimit         = -1003
	binanceCodeInvalidSymbol     = -1121
	binanceCodeInsufficientFunds = -2010
)

// classifyError 将交易所错误归类为致命错误或可重试错误
// 返回 (归类后的错误, 是否可重试)
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	// 币安API错误按错误码分类
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceCodeInsufficientFunds:
			return ErrInsufficientFunds, false
		case binanceCodeInvalidSymbol:
			return ErrInvalidSymbol, false
		case binanceCodeRateLimit:
			// 限频：可重试
			return err, true
		}
		// 其他交易所错误视为致命
		return err, false
	}

	// 网络错误（超时、连接失败）可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return err, true
	}

	return err, false
}

// IsRetryable 判断执行错误是否可重试
func IsRetryable(err error) bool {
	_, retryable := classifyError(err)
	return retryable
}

// IsFatal 判断执行错误是否为致命错误
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsRetryable(err)
}
