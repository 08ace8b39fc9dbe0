package collect

import (
	"fmt"
	"strings"

	"github.com/wonny/kairos/internal/contracts"
)

// FormatSummary renders the 06:00 raw-data summary so operators can eyeball
// collector health at a glance.
func FormatSummary(c *contracts.DailyCache) string {
	var b strings.Builder

	b.WriteString("📦 <b>아침 데이터 수집 결과</b>\n")
	b.WriteString(fmt.Sprintf("수집 시각: %s\n\n", c.CollectedAt.Format("2006-01-02 15:04:05")))

	var failed []string
	for _, name := range contracts.CollectorNames {
		if c.SuccessFlags[name] {
			b.WriteString(fmt.Sprintf("✅ %s\n", name))
		} else {
			b.WriteString(fmt.Sprintf("⚠️ 수집 실패: %s\n", name))
			failed = append(failed, name)
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("공시 %d건 · 글로벌뉴스 %d건", len(c.DartData), len(c.NewsGlobalRSS)))

	if c.PriceData != nil {
		b.WriteString(fmt.Sprintf(" · 시세 %d종목", len(c.PriceData.ByCode)))
		b.WriteString(fmt.Sprintf("\nKOSPI %.2f (%+.2f%%) · KOSDAQ %.2f (%+.2f%%)",
			c.PriceData.KOSPI.Level, c.PriceData.KOSPI.ChangeRate,
			c.PriceData.KOSDAQ.Level, c.PriceData.KOSDAQ.ChangeRate))
	} else {
		b.WriteString(" · 시세 없음")
	}

	if len(failed) > 0 {
		b.WriteString(fmt.Sprintf("\n\n실패 %d건: %s", len(failed), strings.Join(failed, ", ")))
	}

	return b.String()
}
