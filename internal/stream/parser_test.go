package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(p *Parser, deltas ...string) []Event {
	var events []Event
	for _, d := range deltas {
		events = append(events, p.Feed(d)...)
	}
	return events
}

func TestHappyPathProgressThenURL(t *testing.T) {
	p := NewParser(0)

	events := feedAll(p,
		"进度：50%",
		"生成完成 ✅",
		"![结果](https://img.example.com/result.png)",
	)

	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: KindProgress, Progress: 50}, events[0])
	assert.Equal(t, Event{Kind: KindProgress, Progress: 100}, events[1])
	assert.Equal(t, KindResult, events[2].Kind)
	assert.Equal(t, "https://img.example.com/result.png", events[2].URL)

	outcome := p.Finish()
	assert.Equal(t, OutcomeResult, outcome.Kind)
	assert.Equal(t, "https://img.example.com/result.png", outcome.URL)
}

func TestExplicitFailureWithReason(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("> 生成失败 ❌\n> 失败原因：内容违规")
	require.Len(t, events, 1)
	assert.Equal(t, KindFailure, events[0].Kind)
	assert.Contains(t, events[0].Reason, "内容违规")

	outcome := p.Finish()
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Contains(t, outcome.Reason, "内容违规")
}

func TestFailureWithoutReasonUsesGenericMessage(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("> 生成失败 ❌")
	require.Len(t, events, 1)
	assert.Equal(t, "生成失败 ❌", events[0].Reason)
}

func TestFailureLatchesOverLaterURL(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "> 生成失败 ❌\n> 失败原因：内容违规")
	assert.Empty(t, p.Feed("![结果](https://img.example.com/result.png)"))

	outcome := p.Finish()
	assert.Equal(t, OutcomeFailure, outcome.Kind)
}

func TestFailureAfterURLStillFails(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("![结果](https://img.example.com/result.png)")
	require.NotEmpty(t, events)

	events = p.Feed("\n> 生成失败 ❌\n> 失败原因：存储异常")
	require.Len(t, events, 1)
	assert.Equal(t, KindFailure, events[0].Kind)

	outcome := p.Finish()
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Contains(t, outcome.Reason, "存储异常")
}

func TestProgressIsMonotonic(t *testing.T) {
	p := NewParser(0)

	var reported []int
	for _, d := range []string{"进度：30%", "进度：20%", "进度：20%", "进度：45%", "进度：45%", "进度：90%"} {
		for _, e := range p.Feed(d) {
			if e.Kind == KindProgress {
				reported = append(reported, e.Progress)
			}
		}
	}

	assert.Equal(t, []int{30, 45, 90}, reported)
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1])
	}
}

func TestProgressRespectsInitialFloor(t *testing.T) {
	p := NewParser(60)

	assert.Empty(t, p.Feed("进度：40%"))
	events := p.Feed("进度：80%")
	require.Len(t, events, 1)
	assert.Equal(t, 80, events[0].Progress)
}

func TestPercentageCappedAtHundred(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("进度：250%")
	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].Progress)
}

func TestLatestPercentageInAccumulatedTextWins(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("进度：10% ... 进度：62%")
	require.Len(t, events, 1)
	assert.Equal(t, 62, events[0].Progress)
}

func TestQualitativeMarkers(t *testing.T) {
	cases := []struct {
		delta    string
		progress int
	}{
		{"排队中...", progressQueued},
		{"队列中 🕐", progressQueued},
		{"生成中 ⚡", progressGenerating},
		{"绘制中", progressGenerating},
		{"生成完成 ✅", 100},
		{"绘制成功", 100},
	}
	for _, tc := range cases {
		t.Run(tc.delta, func(t *testing.T) {
			p := NewParser(0)
			events := p.Feed(tc.delta)
			require.Len(t, events, 1)
			assert.Equal(t, KindProgress, events[0].Kind)
			assert.Equal(t, tc.progress, events[0].Progress)
		})
	}
}

func TestQualitativeMarkerNeverRegresses(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "进度：70%")
	assert.Empty(t, p.Feed("生成中 ⚡"))
	assert.Equal(t, 70, p.Progress())
}

func TestCompletionForcesHundredWithoutPercentage(t *testing.T) {
	p := NewParser(0)

	events := feedAll(p, "排队中", "生成完成 ✅")
	require.Len(t, events, 2)
	assert.Equal(t, progressQueued, events[0].Progress)
	assert.Equal(t, 100, events[1].Progress)
}

func TestDownloadPhraseURL(t *testing.T) {
	p := NewParser(0)

	events := p.Feed("点击下载 https://img.example.com/out.jpg 即可保存")
	var result *Event
	for i := range events {
		if events[i].Kind == KindResult {
			result = &events[i]
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, "https://img.example.com/out.jpg", result.URL)
}

func TestFirstURLWins(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "![a](https://img.example.com/first.png)")
	events := p.Feed("![b](https://img.example.com/second.png)")
	for _, e := range events {
		assert.NotEqual(t, KindResult, e.Kind)
	}

	outcome := p.Finish()
	assert.Equal(t, "https://img.example.com/first.png", outcome.URL)
}

func TestURLForcesProgressToHundred(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "进度：55%")
	events := p.Feed("![结果](https://img.example.com/r.png)")
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: KindProgress, Progress: 100}, events[0])
	assert.Equal(t, KindResult, events[1].Kind)
}

func TestURLSplitAcrossDeltas(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "![结", "果](https://img.exa")
	events := p.Feed("mple.com/r.png)")

	var urls []string
	for _, e := range events {
		if e.Kind == KindResult {
			urls = append(urls, e.URL)
		}
	}
	require.Len(t, urls, 1)
	assert.Equal(t, "https://img.example.com/r.png", urls[0])
}

func TestAmbiguousEndWithoutSignals(t *testing.T) {
	p := NewParser(0)

	feedAll(p, "这是一些无关的描述文字。", "模型正在思考。")
	outcome := p.Finish()

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Contains(t, outcome.Reason, "结果不明确")
}

func TestFallbackErrorFragmentsCollected(t *testing.T) {
	p := NewParser(0)

	feedAll(p,
		"服务出现错误，请稍后再试",
		"服务出现错误，请稍后再试", // duplicate, reported once
		"内部异常",
	)

	outcome := p.Finish()
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Contains(t, outcome.Reason, "检测到潜在问题")
	assert.Contains(t, outcome.Reason, "服务出现错误，请稍后再试; 内部异常")
}

func TestFragmentFiltersMarkupAndJSON(t *testing.T) {
	p := NewParser(0)

	feedAll(p,
		`{"error": "ignored json"}`,
		"> 引用的错误文字",
		"✅ 错误不算",
		"[错误链接](x)",
	)

	outcome := p.Finish()
	assert.Contains(t, outcome.Reason, "结果不明确")
}

func TestLongProseNotCollectedAsError(t *testing.T) {
	p := NewParser(0)

	long := "错误"
	for len(long) < 600 {
		long += "，这是一段很长的说明文字"
	}
	p.Feed(long)

	outcome := p.Finish()
	assert.Contains(t, outcome.Reason, "结果不明确")
}

func TestJSONBlockExcludedFromScanning(t *testing.T) {
	p := NewParser(0)

	// The fenced block contains both a progress marker and an error
	// keyword; neither may produce a signal.
	assert.Empty(t, p.Feed("```json\n{\"msg\": \"进度：99% error\"}\n```"))

	events := p.Feed("进度：10%")
	require.Len(t, events, 1)
	assert.Equal(t, 10, events[0].Progress)
}

func TestFeedAfterFailureReturnsNothing(t *testing.T) {
	p := NewParser(0)

	p.Feed("> 生成失败 ❌")
	for i := 0; i < 5; i++ {
		assert.Empty(t, p.Feed(fmt.Sprintf("进度：%d0%%", i+1)))
	}
}
