package order

import "tastytrade-brokerage/gateway"

// IsTerminal 券商订单终态。
func IsTerminal(s gateway.OrderStatus) bool {
	switch s {
	case gateway.StatusFilled, gateway.StatusCancelled, gateway.StatusExpired,
		gateway.StatusRejected, gateway.StatusRemoved, gateway.StatusPartiallyRemoved:
		return true
	default:
		return false
	}
}

// IsWorking 仍可能成交的状态。
func IsWorking(s gateway.OrderStatus) bool {
	switch s {
	case gateway.StatusReceived, gateway.StatusRouted, gateway.StatusInFlight, gateway.StatusLive,
		gateway.StatusCancelRequested, gateway.StatusReplaceRequested, gateway.StatusContingent:
		return true
	default:
		return false
	}
}

// acknowledges 可以结束等待的状态：已受理/已路由/已挂单，或任一终态。
// 休市时订单停在 Received/Routed，同样视为已受理。
func acknowledges(s gateway.OrderStatus) bool {
	switch s {
	case gateway.StatusReceived, gateway.StatusRouted, gateway.StatusLive, gateway.StatusContingent:
		return true
	default:
		return IsTerminal(s)
	}
}
