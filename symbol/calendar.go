package symbol

import "time"

// 交易日只排除周末，不考虑交易所节假日。

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// addBusinessDays n 为负时向前数。
func addBusinessDays(t time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		t = t.AddDate(0, 0, step)
		if isBusinessDay(t) {
			n--
		}
	}
	return t
}

func previousBusinessDayOnOrBefore(t time.Time) time.Time {
	for !isBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

func lastBusinessDay(year int, month time.Month) time.Time {
	return previousBusinessDayOnOrBefore(date(year, month+1, 0))
}

// nthWeekday 返回当月第 n 个 wd。
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func thirdFriday(year int, month time.Month) time.Time {
	return nthWeekday(year, month, time.Friday, 3)
}

func thirdWednesday(year int, month time.Month) time.Time {
	return nthWeekday(year, month, time.Wednesday, 3)
}

// shiftMonth 规范化 year/month 的月份加减。
func shiftMonth(year int, month time.Month, delta int) (int, time.Month) {
	t := date(year, month+time.Month(delta), 1)
	return t.Year(), t.Month()
}
