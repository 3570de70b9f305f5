package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"sysproxy/backend/api"
	"sysproxy/backend/config"
	"sysproxy/backend/domain"
	"sysproxy/backend/events"
	"sysproxy/backend/service"
	"sysproxy/backend/service/shared"
	"sysproxy/backend/tasks"
)

type globalFlags struct {
	configPath string
	dev        bool
	platform   string
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	waitBackgroundTasks(shared.ExitGrace)
	if err != nil {
		os.Exit(1)
	}
}

// waitBackgroundTasks lets detached work started by the command, such as an
// allowlist download triggered by enable, finish before the process exits.
func waitBackgroundTasks(grace time.Duration) {
	if !tasks.Wait(grace) {
		log.Printf("[tasks] background tasks still running after %s, exiting anyway", grace)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "sysproxy",
		Short:         "Toggle the system proxy with a domestic-domain bypass list",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(g.dev)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default <userConfigDir>/sysproxy/config.yaml or ./config.yaml)")
	root.PersistentFlags().BoolVar(&g.dev, "dev", false, "enable development mode with verbose logging")
	root.PersistentFlags().StringVar(&g.platform, "platform", "", "override the detected platform (windows|linux|mac)")

	root.AddCommand(
		newServeCmd(g),
		newEnableCmd(g),
		newDisableCmd(g),
		newExclusionsCmd(g),
		newAllowlistCmd(g),
	)
	return root
}

func configureLogging(dev bool) {
	if dev {
		gin.SetMode(gin.DebugMode)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("运行在开发模式 - 显示所有日志")
		return
	}
	gin.SetMode(gin.ReleaseMode)
	log.SetFlags(log.LstdFlags)
}

// buildFacade loads the config and wires the services for one command run.
func buildFacade(g *globalFlags) (*service.Facade, error) {
	cfg, err := config.NewHandle(g.configPath).Get()
	if err != nil {
		return nil, err
	}
	facade := service.NewFacade(cfg, events.NewBus(), nil)
	if g.platform != "" {
		p, err := domain.ParsePlatform(g.platform)
		if err != nil {
			return nil, err
		}
		facade.SetPlatform(p)
	}
	return facade, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API and the periodic allowlist refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = facade.Config().Server.Listen
			}

			startedAt := time.Now()
			appLogPath := filepath.Join(facade.Config().UserBasePath(), "logs", "app.log")
			if closeLog := shared.SetupAppLog(appLogPath); closeLog != nil {
				defer closeLog()
				facade.SetAppLog(appLogPath, startedAt)
			}

			subscribeEventLog(facade.Bus())

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			tasks.NewScheduler(facade.Jobs()...).Start(ctx)
			return serve(ctx, addr, api.NewRouter(facade))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default server.listen)")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Println("收到退出信号，正在关闭...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-done
	return nil
}

func subscribeEventLog(bus *events.Bus) {
	bus.Subscribe(events.EventAllowlistUpdated, func(e events.Event) {
		ev := e.(events.AllowlistEvent)
		log.Printf("[Events] allowlist updated: %s (%d bytes, update date %s)", ev.Path, ev.Bytes, ev.UpdatedAt.Format(time.RFC3339))
	})
	bus.Subscribe(events.EventSystemProxyToggled, func(e events.Event) {
		r := e.(events.ToggleEvent).Result
		log.Printf("[Events] system proxy %s on %s: state=%s mechanism=%s", r.Action, r.Platform, r.State, r.Mechanism)
	})
}

func newEnableCmd(g *globalFlags) *cobra.Command {
	var (
		ip      string
		port    int
		syncEnv bool
	)
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable the system proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			res, err := facade.Enable(cmd.Context(), "", ip, port, syncEnv)
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				log.Printf("write result: %v", werr)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "127.0.0.1", "proxy host")
	cmd.Flags().IntVar(&port, "port", 0, "HTTPS proxy port (HTTP uses port-1 when proxy.proxyHttp is on)")
	cmd.Flags().BoolVar(&syncEnv, "sync-env", false, "also persist HTTPS_PROXY/HTTP_PROXY (Windows)")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func newDisableCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the system proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			res, err := facade.Disable(cmd.Context(), "")
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				log.Printf("write result: %v", werr)
			}
			return err
		},
	}
}

func newExclusionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exclusions",
		Short: "Print the bypass list the next enable would apply",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			set, err := facade.Exclusions("")
			if err != nil {
				return err
			}
			for _, h := range set.Hosts {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	}
}

func newAllowlistCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Show or refresh the domestic-domain allowlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			st, err := facade.AllowlistStatus()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Download the remote allowlist now",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, err := buildFacade(g)
			if err != nil {
				return err
			}
			if err := facade.RefreshAllowlist(cmd.Context()); err != nil {
				return err
			}
			st, err := facade.AllowlistStatus()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	})
	return cmd
}
