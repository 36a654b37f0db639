package gateway

// Metrics REST 与推送连接指标，由 monitor.Monitor 实现。
type Metrics interface {
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
	RecordWSConnection(stream string)
	RecordWSDisconnect(stream string)
}

type nopMetrics struct{}

func (nopMetrics) RecordRESTRequest(string)          {}
func (nopMetrics) RecordRESTError(string)            {}
func (nopMetrics) RecordRESTLatency(string, float64) {}
func (nopMetrics) RecordWSConnection(string)         {}
func (nopMetrics) RecordWSDisconnect(string)         {}
