package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"netforge/pkg/model"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// statusText 按状态码分类着色，失败显示为 ERR
func statusText(status int) string {
	s := fmt.Sprintf("%3d", status)
	switch {
	case status == model.FailedStatus:
		return red("ERR")
	case status >= 500:
		return red(s)
	case status >= 400:
		return yellow(s)
	case status >= 300:
		return cyan(s)
	case status >= 200:
		return green(s)
	default:
		return gray(s)
	}
}

func printResult(w io.Writer, r model.IntruderResult) {
	line := fmt.Sprintf("%s #%-5d len=%-8d %5dms  %s", statusText(r.Status), r.RequestID, r.Length, r.DurationMS, strings.Join(r.Payloads, " | "))
	if r.Failed() {
		line += "  " + gray(r.Error)
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, p model.CampaignProgress) {
	status := green(string(p.Status))
	if p.Status != model.CampaignCompleted {
		status = yellow(string(p.Status))
	}
	fmt.Fprintf(w, "\n%s  total=%d dispatched=%d completed=%d failed=%s evicted=%d\n",
		status, p.Total, p.Dispatched, p.Completed, failedText(p.Failed), p.Evicted)
}

func failedText(n int64) string {
	if n > 0 {
		return red(fmt.Sprint(n))
	}
	return fmt.Sprint(n)
}
