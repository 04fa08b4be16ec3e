package digest

import (
	"fmt"
	"strings"
	"time"

	"embygram/internal/eventbus"
	"embygram/internal/media"
)

// Summarize renders the digest text for one window of delivery records.
func Summarize(records []eventbus.Delivery, window time.Duration) string {
	var (
		movies     int
		episodes   int
		batches    int
		totalBytes int64
		delivered  int
		failed     int
	)
	for _, d := range records {
		switch d.Kind {
		case "movie":
			movies += d.Items
		case "episode":
			episodes += d.Items
		case "batch":
			episodes += d.Items
			batches++
		}
		totalBytes += d.Bytes
		if d.OK {
			delivered++
		} else {
			failed++
		}
	}

	lines := []string{
		"📊 Emby 入库日报",
		"",
		fmt.Sprintf("🗓 统计范围：最近 %d 小时", int(window.Hours())),
		fmt.Sprintf("🎦 电影：%d 部", movies),
	}
	if batches > 0 {
		lines = append(lines, fmt.Sprintf("📺 剧集：%d 集（%d 个批次）", episodes, batches))
	} else {
		lines = append(lines, fmt.Sprintf("📺 剧集：%d 集", episodes))
	}
	if totalBytes > 0 {
		lines = append(lines, "💾 新增："+media.FormatSize(totalBytes))
	}
	lines = append(lines, fmt.Sprintf("✅ 送达：%d 条", delivered))
	if failed > 0 {
		lines = append(lines, fmt.Sprintf("❌ 失败：%d 条", failed))
	}
	return strings.Join(lines, "\n")
}
