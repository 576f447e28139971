package banner

import (
	"fmt"

	"roomgraph/pkg/config"
)

const banner = `
██████╗  ██████╗  ██████╗ ███╗   ███╗ ██████╗ ██████╗  █████╗ ██████╗ ██╗  ██╗
██╔══██╗██╔═══██╗██╔═══██╗████╗ ████║██╔════╝ ██╔══██╗██╔══██╗██╔══██╗██║  ██║
██████╔╝██║   ██║██║   ██║██╔████╔██║██║  ███╗██████╔╝███████║██████╔╝███████║
██╔══██╗██║   ██║██║   ██║██║╚██╔╝██║██║   ██║██╔══██╗██╔══██║██╔═══╝ ██╔══██║
██║  ██║╚██████╔╝╚██████╔╝██║ ╚═╝ ██║╚██████╔╝██║  ██║██║  ██║██║     ██║  ██║
╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚═╝     ╚═╝ ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝  ╚═╝
`

// PrintWithEff prints the startup banner from the effective config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:      %s\n", addr)
	fmt.Printf("DB Path:     %s\n", eff.DBPath)
	fmt.Printf("Server name: %s\n", eff.ServerName)
	if version != "" {
		fmt.Printf("Version:     %s\n", version)
	}
	fmt.Printf("Config:      %s\n", eff.Source)

	if eff.Config != nil {
		if eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
			fmt.Println("- TLS: configured")
		} else {
			fmt.Println("- TLS: unconfigured")
		}
		if eff.Config.Compaction.Enabled {
			cron := eff.Config.Compaction.Cron
			if cron == "" {
				cron = "0 3 * * *"
			}
			fmt.Printf("- Compaction: enabled (cron=%s)\n", cron)
		} else {
			fmt.Println("- Compaction: disabled")
		}
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Println(`curl -X POST 'http://<host>:<port>/v1/rooms/<roomID>/events' -d '{"type":"m.room.message","sender":"@alice:example.org","content":{"body":"hello"}}'`)
	fmt.Println("curl 'http://<host>:<port>/v1/rooms/<roomID>/state'")

	fmt.Println("\n== Logs: =================================================")
}
