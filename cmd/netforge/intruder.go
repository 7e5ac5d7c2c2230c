package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"netforge/internal/intruder"
	"netforge/pkg/api"
	"netforge/pkg/model"
)

var attackFlags struct {
	template   string
	configFile string
	attackType string
	payloads   []string
	target     string
	name       string
}

var intruderCmd = &cobra.Command{
	Use:   "intruder",
	Short: "Generate and dispatch templated attack requests",
}

var intruderGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print every request an attack configuration expands to",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tpl, icfg, err := loadAttack()
		if err != nil {
			return err
		}
		reqs, err := intruder.Generate(tpl, icfg, intruder.Limits{MaxRequests: cfg.Intruder.MaxRequests})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, r := range reqs {
			fmt.Fprintf(out, "%s\n%s\n", gray(fmt.Sprintf("--- #%d", i+1)), r)
		}
		return nil
	},
}

var intruderRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a campaign against a target and print results",
	RunE:  runCampaign,
}

func init() {
	for _, c := range []*cobra.Command{intruderGenerateCmd, intruderRunCmd} {
		f := c.Flags()
		f.StringVarP(&attackFlags.template, "template", "t", "", "Raw HTTP request template file, payload positions marked with "+intruder.Marker)
		f.StringVar(&attackFlags.configFile, "attack-config", "", "JSON IntruderConfig file (overrides markers and --payloads)")
		f.StringVarP(&attackFlags.attackType, "attack", "a", string(model.Sniper), "Attack type (Sniper|BatteringRam|Pitchfork|ClusterBomb)")
		f.StringArrayVarP(&attackFlags.payloads, "payloads", "p", nil, "Payload list file, one payload per line (repeat per position)")
		_ = c.MarkFlagRequired("template")
	}
	intruderRunCmd.Flags().StringVar(&attackFlags.target, "target", "", "Base URL requests are sent to, e.g. https://shop.local")
	intruderRunCmd.Flags().StringVar(&attackFlags.name, "name", "", "Campaign name")

	intruderCmd.AddCommand(intruderGenerateCmd, intruderRunCmd)
}

// loadAttack 读取模板与攻击配置，配置文件优先，否则由标记与载荷文件组成
func loadAttack() (string, model.IntruderConfig, error) {
	var icfg model.IntruderConfig
	raw, err := os.ReadFile(attackFlags.template)
	if err != nil {
		return "", icfg, fmt.Errorf("read template: %w", err)
	}
	tpl := string(raw)

	if attackFlags.configFile != "" {
		b, err := os.ReadFile(attackFlags.configFile)
		if err != nil {
			return "", icfg, fmt.Errorf("read attack config: %w", err)
		}
		if err := json.Unmarshal(b, &icfg); err != nil {
			return "", icfg, fmt.Errorf("parse attack config: %w", err)
		}
		return tpl, icfg, nil
	}

	tpl, positions, err := intruder.ParseMarkers(tpl)
	if err != nil {
		return "", icfg, err
	}
	icfg.Positions = positions
	icfg.AttackType = model.AttackType(attackFlags.attackType)
	for _, path := range attackFlags.payloads {
		list, err := readLines(path)
		if err != nil {
			return "", icfg, err
		}
		icfg.Payloads = append(icfg.Payloads, list)
	}
	return tpl, icfg, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payloads: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read payloads %s: %w", path, err)
	}
	return lines, nil
}

func runCampaign(cmd *cobra.Command, _ []string) error {
	tpl, icfg, err := loadAttack()
	if err != nil {
		return err
	}
	svc, err := api.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.StartCampaign(model.CampaignRequest{
		Name:     attackFlags.name,
		Template: tpl,
		Target:   attackFlags.target,
		Config:   icfg,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %d requests, %s\n", cyan("campaign"), p.ID, p.Total, p.AttackType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, err := svc.WaitCampaign(ctx, p.ID)
	if err != nil {
		// 中断后停止派发，等待已发出的请求完成
		fmt.Fprintln(out, yellow("interrupted, waiting for in-flight requests"))
		_ = svc.CancelCampaign(p.ID)
		if final, err = svc.WaitCampaign(context.Background(), p.ID); err != nil {
			return err
		}
	}

	results, err := svc.CampaignResults(p.ID)
	if err != nil {
		return err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RequestID < results[j].RequestID })
	for _, r := range results {
		printResult(out, r)
	}
	printSummary(out, final)
	return nil
}
