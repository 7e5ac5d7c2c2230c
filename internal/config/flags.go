package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// BindFlags 绑定命令行参数，显式设置的参数优先于配置文件
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Listen, "listen", c.Server.Listen, "HTTP API listen address")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug|info|warn|error)")
	fs.StringVar(&c.Sqlite.Dsn, "db", c.Sqlite.Dsn, "SQLite database path, empty disables persistence")
	fs.StringVar(&c.Rules.File, "rules", c.Rules.File, "Rule set JSON file loaded at startup")
	fs.IntVar(&c.Capture.Capacity, "capture-capacity", c.Capture.Capacity, "Maximum captured entries kept in memory")

	fs.BoolVar(&c.CDP.Enabled, "cdp", c.CDP.Enabled, "Intercept browser traffic through DevTools")
	fs.StringVar(&c.CDP.DevToolsURL, "devtools-url", c.CDP.DevToolsURL, "DevTools HTTP endpoint")
	fs.StringVar(&c.CDP.Target, "cdp-target", c.CDP.Target, "DevTools page target id (default: first page)")

	fs.IntVar(&c.Intruder.MaxInFlight, "max-in-flight", c.Intruder.MaxInFlight, "Maximum concurrent intruder requests")
	fs.IntVar(&c.Intruder.TimeoutMS, "timeout-ms", c.Intruder.TimeoutMS, "Per-request intruder timeout in milliseconds")
	fs.IntVar(&c.Intruder.ResultCapacity, "result-capacity", c.Intruder.ResultCapacity, "Maximum intruder results retained per campaign")
	fs.Float64Var(&c.Intruder.RatePerSecond, "rate", c.Intruder.RatePerSecond, "Intruder requests per second, 0 for unlimited")
	fs.BoolVar(&c.Intruder.Insecure, "insecure", c.Intruder.Insecure, "Skip TLS verification for intruder requests")
	fs.StringVar(&c.Intruder.Proxy, "proxy", c.Intruder.Proxy, "Upstream proxy for intruder requests")
}

// LoadWithFlags 加载配置文件，再重新应用命令行中显式设置的参数
func (c *Config) LoadWithFlags(path string, fs *pflag.FlagSet) error {
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })

	loaded, err := Load(path)
	if err != nil {
		return err
	}
	*c = *loaded
	for name, v := range changed {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("reapply flag --%s: %w", name, err)
		}
	}
	return c.Validate()
}
