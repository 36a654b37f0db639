package order

import (
	"fmt"
	"sync"

	"tastytrade-brokerage/gateway"
)

// StateTransition 状态转换
type StateTransition struct {
	From gateway.OrderStatus
	To   gateway.OrderStatus
}

// StateMachine 券商订单状态机，仅用于发现乱序/异常推送。
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	working := []gateway.OrderStatus{
		gateway.StatusReceived,
		gateway.StatusRouted,
		gateway.StatusInFlight,
		gateway.StatusLive,
		gateway.StatusContingent,
		gateway.StatusCancelRequested,
		gateway.StatusReplaceRequested,
	}
	terminal := []gateway.OrderStatus{
		gateway.StatusFilled,
		gateway.StatusCancelled,
		gateway.StatusExpired,
		gateway.StatusRejected,
		gateway.StatusRemoved,
		gateway.StatusPartiallyRemoved,
	}

	// 工作态之间可以互转（撤单/改单请求可能被拒回 Live）
	for _, from := range working {
		for _, to := range working {
			if from != to {
				sm.transitions[StateTransition{from, to}] = true
			}
		}
		for _, to := range terminal {
			sm.transitions[StateTransition{from, to}] = true
		}
	}
	// 终态不能转换
}

// ValidateTransition 相同状态视为合法（重复推送）。
func (sm *StateMachine) ValidateTransition(from, to gateway.OrderStatus) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}
