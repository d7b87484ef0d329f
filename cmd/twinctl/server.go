package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rvald/twinctl/internal/config"
	"github.com/rvald/twinctl/internal/discord"
	"github.com/rvald/twinctl/internal/discovery"
	"github.com/rvald/twinctl/internal/dispatch"
	"github.com/rvald/twinctl/internal/gateway"
	"github.com/rvald/twinctl/internal/logger"
	"github.com/rvald/twinctl/internal/mcpserver"
	"github.com/rvald/twinctl/internal/puppet"
	"github.com/rvald/twinctl/internal/relay"
	"github.com/spf13/cobra"
)

var (
	cfgPort         int
	cfgBind         string
	cfgRateLimit    float64
	cfgTick         time.Duration
	cfgPageURL      string
	cfgBrowserURL   string
	cfgNATSURL      string
	cfgDiscordToken string
	cfgGuildID      string
	cfgMDNS         bool
	cfgMCPStdio     bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		level, err := logger.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return err
		}
		// stdout belongs to the MCP client in stdio mode.
		var console io.Writer = os.Stdout
		if cfgMCPStdio {
			console = os.Stderr
		}
		closer := logger.Setup(cfgStateDir, logger.Options{Level: level, Console: console})
		defer closer.Close()

		return runServer(cfg, console)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVar(&cfgPort, "port", envInt("TWINCTL_PORT", 18789), "HTTP/WebSocket server port")
	serverCmd.Flags().StringVar(&cfgBind, "bind", envStr("TWINCTL_BIND", "loopback"), "Bind mode: loopback or lan")
	serverCmd.Flags().Float64Var(&cfgRateLimit, "rate-limit", envFloat("TWINCTL_RATE_LIMIT", 0), "WebSocket upgrades per second (0 = unlimited)")
	serverCmd.Flags().DurationVar(&cfgTick, "tick", 30*time.Second, "Status and health push interval")
	serverCmd.Flags().StringVar(&cfgPageURL, "page-url", envStr("TWINCTL_PAGE_URL", ""), "Renderer page to drive with a headless browser")
	serverCmd.Flags().StringVar(&cfgBrowserURL, "browser-url", envStr("TWINCTL_BROWSER_URL", ""), "DevTools URL of an already running browser")
	serverCmd.Flags().StringVar(&cfgNATSURL, "nats-url", envStr("TWINCTL_NATS_URL", ""), "NATS server for relaying broadcasts between instances")
	serverCmd.Flags().StringVar(&cfgDiscordToken, "discord-token", envStr("DISCORD_BOT_TOKEN", ""), "Discord bot token")
	serverCmd.Flags().StringVar(&cfgGuildID, "guild-id", envStr("DISCORD_GUILD_ID", ""), "Discord guild ID")
	serverCmd.Flags().BoolVar(&cfgMDNS, "mdns", envBool("TWINCTL_MDNS", false), "Advertise the gateway over mDNS")
	serverCmd.Flags().BoolVar(&cfgMCPStdio, "mcp-stdio", false, "Serve MCP tools on stdin/stdout")
}

func runServer(cfg *config.Config, console io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Direct execution path (optional)
	var evaluator dispatch.Evaluator
	var page *puppet.Page
	if cfg.Puppet.Enabled {
		p, err := puppet.Open(ctx, puppet.Config{
			URL:         cfg.Puppet.URL,
			ControlURL:  cfg.Puppet.ControlURL,
			Headless:    !cfg.Puppet.Headful,
			ChromeBin:   cfg.Puppet.ChromeBin,
			LoadTimeout: cfg.Puppet.LoadTimeout,
		})
		if err != nil {
			slog.Warn("renderer page unavailable, continuing with broadcast only", "error", err)
		} else {
			page = p
			evaluator = p
			defer page.Close()
		}
	}

	// 2. Relay (optional)
	instance := uuid.NewString()
	var bus relay.Bus
	if cfg.Relay.NATSURL != "" {
		b, err := relay.DialNATS(cfg.Relay.NATSURL, "twinctl-"+instance[:8])
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		bus = b
		defer bus.Close()
	}

	// 3. Gateway
	dcfg := dispatch.Config{
		DegradeOperations: cfg.Dispatch.DegradeOperations,
		EvalTimeout:       cfg.Dispatch.EvalTimeout,
		DefaultAngle:      cfg.Dispatch.DefaultAngle,
	}
	gw, err := gateway.New(gateway.GatewayConfig{
		Server: gateway.ServerConfig{
			Port:           cfg.Server.Port,
			Bind:           cfg.Server.Bind,
			RateLimit:      cfg.Server.RateLimit,
			RateBurst:      cfg.Server.RateBurst,
			MaxMessageSize: cfg.Server.MaxMessageSize,
			PongWait:       cfg.Server.PongWait,
			PingPeriod:     cfg.Server.PingPeriod,
			WriteTimeout:   cfg.Server.WriteTimeout,
			SessionWait:    cfg.Session.Wait,
		},
		TickInterval: cfg.Server.TickInterval,
		Dispatch:     dcfg,
		Workers:      cfg.Dispatch.Workers,
		SendTimeout:  cfg.Dispatch.BroadcastTimeout,
		DefaultAngle: cfg.Translate.DefaultAngle,
		Evaluator:    evaluator,
		Bus:          bus,
		RelaySubject: cfg.Relay.Subject,
		Instance:     instance,
	})
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	// 4. MCP tool surface
	tools := mcpserver.New(gw.Dispatcher(), gw.Translator(), version)
	if cfg.MCP.HTTP || !cfgMCPStdio {
		gw.Handle("/mcp", mcpserver.HTTPHandler(tools))
	}
	if cfgMCPStdio {
		go func() {
			if err := mcpserver.ServeStdio(ctx, tools); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio stopped", "error", err)
			}
			cancel()
		}()
	}

	// 5. Discovery (optional)
	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		meta := discovery.Metadata{
			Role:        "gateway",
			Version:     version,
			Bind:        cfg.Server.Bind,
			Endpoints:   endpointPaths(),
			DisplayName: cfg.Discovery.InstanceName,
		}
		if bus != nil {
			meta.Instance = instance
		}
		adv, err := discovery.NewAdvertiser(discovery.Config{
			InstanceName: cfg.Discovery.InstanceName,
			Port:         cfg.Server.Port,
			Iface:        cfg.Discovery.Iface,
			Meta:         meta,
		})
		if err != nil {
			slog.Warn("failed to init mdns", "error", err)
		} else if err := adv.Start(); err != nil {
			slog.Warn("failed to start mdns", "error", err)
		} else {
			advertiser = adv
		}
	}

	// 6. Discord Bot (optional)
	var bot *discord.Bot
	if cfg.Discord.Token != "" {
		bot, err = discord.NewBot(discord.BotConfig{
			Token:   cfg.Discord.Token,
			GuildID: cfg.Discord.GuildID,
		})
		if err != nil {
			return fmt.Errorf("discord init: %w", err)
		}
		router := discord.NewCommandRouter(gw.Dispatcher(), gw.Translator())
		router.WithClients(gw.Clients())
		bot.SetRouter(router)
		bot.RegisterCommands(router.Commands())

		if err := bot.Start(ctx); err != nil {
			slog.Warn("discord failed to connect", "error", err)
			bot = nil
		}
	}

	printBanner(console, cfg, banner{
		direct:  page != nil,
		relay:   bus != nil,
		discord: bot != nil,
		mdns:    advertiser != nil,
		stdio:   cfgMCPStdio,
	})

	go func() {
		<-ctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if bot != nil {
			bot.Stop()
		}
		if advertiser != nil {
			advertiser.Stop()
		}
		gw.Shutdown(shutdownCtx)
	}()

	return gw.Run(ctx)
}

func endpointPaths() []string {
	paths := make([]string, 0, len(gateway.Endpoints))
	for p := range gateway.Endpoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type banner struct {
	direct, relay, discord, mdns, stdio bool
}

func onOff(b bool, on string) string {
	if b {
		return on
	}
	return "disabled"
}

func printBanner(w io.Writer, cfg *config.Config, b banner) {
	bindAddr := "127.0.0.1"
	if cfg.Server.Bind == "lan" {
		bindAddr = "0.0.0.0"
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  twinctl v%s\n", version)
	fmt.Fprintf(w, "  ws://%s:%d/ws/mcp  bind=%s\n", bindAddr, cfg.Server.Port, cfg.Server.Bind)
	fmt.Fprintf(w, "  direct: %s  relay: %s  discord: %s  mdns: %s  mcp-stdio: %s\n",
		onOff(b.direct, "page"), onOff(b.relay, "nats"), onOff(b.discord, "connected"),
		onOff(b.mdns, "advertising"), onOff(b.stdio, "enabled"))
	fmt.Fprintf(w, "  state: %s\n", cfgStateDir)
	fmt.Fprintf(w, "  health: http://%s:%d/health  metrics: /metrics  mcp: /mcp\n", bindAddr, cfg.Server.Port)
	fmt.Fprintf(w, "\n")
}
