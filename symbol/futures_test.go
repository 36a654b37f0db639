package symbol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFutureLastTradeRules(t *testing.T) {
	cases := []struct {
		name  string
		root  string
		year  int
		month time.Month
		want  string
	}{
		{"ES 第三个周五", "ES", 2024, time.December, "2024-12-20"},
		{"CL 前月25日前3个交易日", "CL", 2024, time.December, "2024-11-20"},
		{"NG 合约月1日前3个交易日", "NG", 2025, time.January, "2024-12-27"},
		{"BZ 前两月最后交易日", "BZ", 2025, time.January, "2024-11-29"},
		{"GC 倒数第三个交易日", "GC", 2024, time.December, "2024-12-27"},
		{"ZN 最后交易日前7个交易日", "ZN", 2025, time.March, "2025-03-20"},
		{"VX 下月第三个周五前30天", "VX", 2024, time.November, "2024-11-20"},
		{"6E 第三个周三前2个交易日", "6E", 2025, time.March, "2025-03-17"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := FutureContract(tc.root, tc.year, tc.month)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, s.Expiry.Format("2006-01-02"))
		})
	}
}

func TestFutureOptionUnderlyingRoll(t *testing.T) {
	// 1 月 ES 期权挂在 3 月期货上
	s, err := FutureOptionContract("ES", 2025, time.January, 0, d("6000"))
	assert.NoError(t, err)
	assert.Equal(t, "2025-03-21", s.Underlying.Expiry.Format("2006-01-02"))
	assert.Equal(t, "2025-01-17", s.Expiry.Format("2006-01-02"))

	// 1 月 OG 期权挂在 2 月黄金期货上
	g, err := FutureOptionContract("OG", 2025, time.January, 0, d("2700"))
	assert.NoError(t, err)
	assert.Equal(t, time.February, g.Underlying.Expiry.Month())
}

func TestAddBusinessDaysSkipsWeekend(t *testing.T) {
	fri := date(2024, time.November, 29)
	assert.Equal(t, date(2024, time.December, 2), addBusinessDays(fri, 1))
	assert.Equal(t, date(2024, time.November, 26), addBusinessDays(fri, -3))
	assert.Equal(t, date(2024, time.November, 29), lastBusinessDay(2024, time.November))
	assert.Equal(t, date(2025, time.May, 30), lastBusinessDay(2025, time.May))
}
