package order

// Metrics 订单链路指标，由 monitor.Monitor 实现。
type Metrics interface {
	RecordOrderPlaced()
	RecordOrderCanceled()
	RecordOrderFilled()
	RecordOrderRejected()
	RecordOrderTimeout()
	RecordFill(duplicate bool)
	RecordUnknownOrderUpdate()
	ObserveOrderLatency(seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordOrderPlaced()          {}
func (nopMetrics) RecordOrderCanceled()        {}
func (nopMetrics) RecordOrderFilled()          {}
func (nopMetrics) RecordOrderRejected()        {}
func (nopMetrics) RecordOrderTimeout()         {}
func (nopMetrics) RecordFill(bool)             {}
func (nopMetrics) RecordUnknownOrderUpdate()   {}
func (nopMetrics) ObserveOrderLatency(float64) {}
