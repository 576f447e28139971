package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Name   string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the merged configuration plus the resolved
// listen address, DB path, server name and which source won.
type EffectiveConfigResult struct {
	Config     *Config
	Addr       string
	DBPath     string
	ServerName string
	Source     string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8448", "HTTP listen address")
	dbPtr := flag.String("db", "./.roomgraph", "Pebble DB path")
	namePtr := flag.String("name", "", "federation server name (domain)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Name: *namePtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. Returns
// the parsed config, whether the file was present, and fatal parse errors.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := flags.Config
	if !flags.Set["config"] {
		if v := os.Getenv("ROOMGRAPH_CONFIG"); v != "" {
			cfgPath = v
		}
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads environment variables into a fresh Config and
// reports whether any were used. It does not mutate caller-provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false

	if v := os.Getenv("ROOMGRAPH_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}
	if v := os.Getenv("ROOMGRAPH_DB_PATH"); v != "" {
		envUsed = true
		envCfg.Storage.DBPath = v
	}
	if v := os.Getenv("ROOMGRAPH_SERVER_NAME"); v != "" {
		envUsed = true
		envCfg.Federation.ServerName = v
	}
	if v := os.Getenv("ROOMGRAPH_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("ROOMGRAPH_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("ROOMGRAPH_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if c := os.Getenv("ROOMGRAPH_TLS_CERT"); c != "" {
		envUsed = true
		envCfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("ROOMGRAPH_TLS_KEY"); k != "" {
		envUsed = true
		envCfg.Server.TLS.KeyFile = k
	}
	return envCfg, envUsed
}

// LoadEffectiveConfig decides which single source wins (flags, config file,
// or env). An explicit --config requires the file to exist; explicit
// addr/db/name flags win over env and file for those values.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.ServerName = fileCfg.Federation.ServerName
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["db"] || flags.Set["name"] {
		base := fileCfg
		if !fileExists {
			base = envCfg
		}
		out := *base
		res.Source = "flags"
		res.Addr = base.Addr()
		if flags.Set["addr"] {
			res.Addr = flags.Addr
			out.Server.Address = flags.Addr
			out.Server.Port = parsePortFromAddr(flags.Addr)
		}
		res.DBPath = base.Storage.DBPath
		if flags.Set["db"] || res.DBPath == "" {
			res.DBPath = flags.DB
			out.Storage.DBPath = flags.DB
		}
		res.ServerName = base.Federation.ServerName
		if flags.Set["name"] {
			res.ServerName = flags.Name
			out.Federation.ServerName = flags.Name
		}
		res.Config = &out
		return res, nil
	}

	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DBPath = fileCfg.Storage.DBPath
		res.ServerName = fileCfg.Federation.ServerName
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DBPath = envCfg.Storage.DBPath
	res.ServerName = envCfg.Federation.ServerName
	res.Source = "env"
	return res, nil
}

// parsePortFromAddr extracts the port integer from a host:port string.
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
